package client

import (
	"sync"

	"github.com/pairpad/pairpad/model"
)

// Buffer is a plain in-memory Editor for headless use and tests. A real UI
// wires its widget behind the Editor interface instead.
//
// OnChange and OnSelect mimic a widget's change events: they fire on every
// mutation, including programmatic ones, exactly like an editor component
// would. Echo suppression is the session's job, not the buffer's.
type Buffer struct {
	mu        sync.Mutex
	text      string
	selection *model.Selection

	OnChange func(text string)
	OnSelect func(sel model.Selection)
}

func NewBuffer(text string) *Buffer {
	return &Buffer{text: text}
}

func (b *Buffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

func (b *Buffer) SetText(text string) {
	b.mu.Lock()
	b.text = text
	cb := b.OnChange
	b.mu.Unlock()

	if cb != nil {
		cb(text)
	}
}

func (b *Buffer) Selection() (model.Selection, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.selection == nil {
		return model.Selection{}, false
	}
	return *b.selection, true
}

func (b *Buffer) Select(sel model.Selection) {
	b.mu.Lock()
	b.selection = &sel
	cb := b.OnSelect
	b.mu.Unlock()

	if cb != nil {
		cb(sel)
	}
}
