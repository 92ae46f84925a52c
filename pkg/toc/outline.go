package toc

// Entry is one numbered heading in the generated table of contents
type Entry struct {
	Level       Level    `json:"level" yaml:"level"`
	Number      string   `json:"number" yaml:"number"`
	ID          string   `json:"id,omitempty" yaml:"id,omitempty"`
	Title       string   `json:"title,omitempty" yaml:"title,omitempty"`
	Tokens      int      `json:"tokens,omitempty" yaml:"tokens,omitempty"`           // Token count of the section body (set by the processor)
	Placeholder bool     `json:"placeholder,omitempty" yaml:"placeholder,omitempty"` // Synthesised parent for a skipped level
	Children    []*Entry `json:"children,omitempty" yaml:"children,omitempty"`
}

// Outline is the value form of a generated TOC, mirroring the nested list structure
type Outline struct {
	Entries []*Entry `json:"entries" yaml:"entries"`
}

// Walk visits every entry depth-first in document order
func (o *Outline) Walk(fn func(e *Entry)) {
	var visit func([]*Entry)
	visit = func(entries []*Entry) {
		for _, e := range entries {
			fn(e)
			visit(e.Children)
		}
	}
	visit(o.Entries)
}

// Flatten returns all non-placeholder entries in document order
func (o *Outline) Flatten() []*Entry {
	var flat []*Entry
	o.Walk(func(e *Entry) {
		if !e.Placeholder {
			flat = append(flat, e)
		}
	})
	return flat
}

// Count returns the number of numbered headings
func (o *Outline) Count() int {
	return len(o.Flatten())
}

// Find returns the entry with the given id, or nil
func (o *Outline) Find(id string) *Entry {
	if id == "" {
		return nil
	}
	var found *Entry
	o.Walk(func(e *Entry) {
		if found == nil && e.ID == id {
			found = e
		}
	})
	return found
}
