package client

import (
	"strings"
	"unicode/utf8"

	"github.com/pairpad/pairpad/model"
)

// applyRemoteDocument replaces the local buffer wholesale with the server's
// converged document. The prior selection is clamped into the new document's
// extents and restored best-effort, never dropped. The applyingRemote flag is
// held across the mutation so the editor's change handler does not re-emit
// the change as a local edit.
func (s *Session) applyRemoteDocument(document string) {
	if s.cfg.Editor == nil {
		return
	}

	s.applyingRemote.Store(true)
	defer s.applyingRemote.Store(false)

	prevSel, hadSel := s.cfg.Editor.Selection()
	s.cfg.Editor.SetText(document)
	if hadSel {
		s.cfg.Editor.Select(ClampSelection(prevSel, document))
	}
}

// ClampSelection snaps both selection endpoints to valid positions within
// the document. Endpoints past the last line or past a line's end move to
// the nearest in-bounds position.
func ClampSelection(sel model.Selection, document string) model.Selection {
	lines := strings.Split(document, "\n")
	return model.Selection{
		Start: ClampPosition(sel.Start, lines),
		End:   ClampPosition(sel.End, lines),
	}
}

// ClampPosition clamps a 1-based position into the given lines. The column
// may sit one past the line's last rune, editor convention for "end of line".
func ClampPosition(p model.Position, lines []string) model.Position {
	if len(lines) == 0 {
		return model.Position{Line: 1, Column: 1}
	}

	line := p.Line
	if line < 1 {
		line = 1
	}
	if line > len(lines) {
		line = len(lines)
	}

	maxColumn := utf8.RuneCountInString(lines[line-1]) + 1
	column := p.Column
	if column < 1 {
		column = 1
	}
	if column > maxColumn {
		column = maxColumn
	}

	return model.Position{Line: line, Column: column}
}
