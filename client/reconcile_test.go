package client

import (
	"strings"
	"testing"

	"github.com/pairpad/pairpad/model"
)

func TestClampSelection(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		sel  model.Selection
		want model.Selection
	}{
		{
			name: "in bounds untouched",
			doc:  "alpha\nbeta\ngamma",
			sel: model.Selection{
				Start: model.Position{Line: 1, Column: 2},
				End:   model.Position{Line: 2, Column: 3},
			},
			want: model.Selection{
				Start: model.Position{Line: 1, Column: 2},
				End:   model.Position{Line: 2, Column: 3},
			},
		},
		{
			name: "selection beyond shrunken document",
			doc:  "one\ntwo\nthree",
			sel: model.Selection{
				Start: model.Position{Line: 10, Column: 5},
				End:   model.Position{Line: 10, Column: 20},
			},
			want: model.Selection{
				Start: model.Position{Line: 3, Column: 5},
				End:   model.Position{Line: 3, Column: 6},
			},
		},
		{
			name: "column past line end",
			doc:  "ab\ncd",
			sel: model.Selection{
				Start: model.Position{Line: 1, Column: 99},
				End:   model.Position{Line: 2, Column: 99},
			},
			want: model.Selection{
				Start: model.Position{Line: 1, Column: 3},
				End:   model.Position{Line: 2, Column: 3},
			},
		},
		{
			name: "zero values snap to origin",
			doc:  "x",
			sel:  model.Selection{},
			want: model.Selection{
				Start: model.Position{Line: 1, Column: 1},
				End:   model.Position{Line: 1, Column: 1},
			},
		},
		{
			name: "empty document",
			doc:  "",
			sel: model.Selection{
				Start: model.Position{Line: 5, Column: 5},
				End:   model.Position{Line: 6, Column: 6},
			},
			want: model.Selection{
				Start: model.Position{Line: 1, Column: 1},
				End:   model.Position{Line: 1, Column: 1},
			},
		},
		{
			name: "multibyte runes counted as columns",
			doc:  "héllo",
			sel: model.Selection{
				Start: model.Position{Line: 1, Column: 4},
				End:   model.Position{Line: 1, Column: 40},
			},
			want: model.Selection{
				Start: model.Position{Line: 1, Column: 4},
				End:   model.Position{Line: 1, Column: 6},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ClampSelection(tc.sel, tc.doc)
			if got != tc.want {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestApplyRemoteDocumentPreservesSelection(t *testing.T) {
	buf := NewBuffer(strings.Repeat("line\n", 20))
	buf.Select(model.Selection{
		Start: model.Position{Line: 10, Column: 2},
		End:   model.Position{Line: 12, Column: 4},
	})

	s := New(Config{ClientID: "alice", Editor: buf})
	s.applyRemoteDocument("one\ntwo\nthree")

	if buf.Text() != "one\ntwo\nthree" {
		t.Fatalf("buffer not replaced: %q", buf.Text())
	}
	sel, ok := buf.Selection()
	if !ok {
		t.Fatal("selection was dropped instead of clamped")
	}
	want := model.Selection{
		Start: model.Position{Line: 3, Column: 2},
		End:   model.Position{Line: 3, Column: 4},
	}
	if sel != want {
		t.Errorf("got %+v, want %+v", sel, want)
	}
}

func TestInboundPatchDoesNotEchoAsEdit(t *testing.T) {
	buf := NewBuffer("")
	s := New(Config{ClientID: "alice", Editor: buf})

	// wire the buffer's change event back into the session, the way a
	// real editor widget does
	buf.OnChange = s.LocalEdit

	for i := 0; i < 10; i++ {
		doc := "remote revision"
		s.handleFrame(model.Frame{Type: model.FramePatch, ClientID: "bob", Code: &doc})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingDoc != nil || s.editTimer != nil {
		t.Fatal("applying remote patches queued an outbound edit")
	}
}

func TestOwnPatchIgnored(t *testing.T) {
	buf := NewBuffer("local state")
	s := New(Config{ClientID: "alice", Editor: buf})

	doc := "stale echo"
	s.handleFrame(model.Frame{Type: model.FramePatch, ClientID: "alice", Code: &doc})

	if buf.Text() != "local state" {
		t.Fatalf("own PATCH overwrote the local buffer: %q", buf.Text())
	}
}

func TestStateReplacesBuffer(t *testing.T) {
	buf := NewBuffer("anything")
	s := New(Config{ClientID: "alice", Editor: buf})

	doc := "server truth"
	s.handleFrame(model.Frame{Type: model.FrameState, Code: &doc})

	if buf.Text() != "server truth" {
		t.Fatalf("STATE not applied: %q", buf.Text())
	}
}
