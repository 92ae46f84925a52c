package toc

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

var (
	// ErrMissingParent is returned under the strict policy for an h3 before any h2, or an h4 with no h3 in its section
	ErrMissingParent = errors.New("heading has no parent section")
	// ErrNoBody is returned by Create when the container is not inside a body element
	ErrNoBody = errors.New("document has no body element")
	// ErrNilNode is returned when Build or Create receives a nil node
	ErrNilNode = errors.New("nil node")
)

// SectionAttr marks a heading numbered by the builder; its value is the section number
const SectionAttr = "data-section"

// DefaultIDPrefix is prepended to the section number to form a heading id
const DefaultIDPrefix = "section"

// Policy decides what happens when a heading skips a level
type Policy int

const (
	// PolicyStrict rejects the document before touching it
	PolicyStrict Policy = iota
	// PolicyLenient numbers with the current counters and synthesises placeholder parents
	PolicyLenient
)

// String implements fmt.Stringer for logging
func (p Policy) String() string {
	if p == PolicyLenient {
		return "lenient"
	}
	return "strict"
}

// ParsePolicy converts a config value into a Policy. Empty means strict.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return PolicyStrict, nil
	case "lenient":
		return PolicyLenient, nil
	}
	return PolicyStrict, fmt.Errorf("unknown heading policy %q (supported: strict, lenient)", s)
}

// Options configures a Builder
type Options struct {
	Policy   Policy
	IDPrefix string // Defaults to DefaultIDPrefix
}

// Builder generates numbered tables of contents
type Builder struct {
	opts Options
}

// NewBuilder creates a Builder, applying defaults to opts
func NewBuilder(opts Options) *Builder {
	if opts.IDPrefix == "" {
		opts.IDPrefix = DefaultIDPrefix
	}
	return &Builder{opts: opts}
}

// Create builds a strict TOC into container from the body of the document container lives in
func Create(container *html.Node) (*Outline, error) {
	if container == nil {
		return nil, ErrNilNode
	}
	body := findBody(container)
	if body == nil {
		return nil, ErrNoBody
	}
	return NewBuilder(Options{}).Build(body, container)
}

type heading struct {
	node  *html.Node
	level Level
}

// Build numbers the h2/h3/h4 direct children of body and replaces the content of
// container with a nested list of links to them.
// The heading structure is validated first, so a strict failure leaves both trees unmodified.
// Building again over an already numbered document produces the same result.
func (b *Builder) Build(body, container *html.Node) (*Outline, error) {
	if body == nil || container == nil {
		return nil, ErrNilNode
	}

	var headings []heading
	for n := body.FirstChild; n != nil; n = n.NextSibling {
		if level := HeadingLevel(n); level != LevelNone {
			headings = append(headings, heading{node: n, level: level})
		}
	}

	if b.opts.Policy == PolicyStrict {
		if err := checkNesting(headings); err != nil {
			return nil, err
		}
	}

	for _, h := range headings {
		stripNumber(h.node)
	}

	removeChildren(container)
	top := NewListElement("ul")
	container.AppendChild(top)
	return b.attach(headings, top), nil
}

// attach mutates the headings and fills top. Parents are tracked explicitly rather than
// looked up through the list's last children.
func (b *Builder) attach(headings []heading, top *html.Node) *Outline {
	outline := &Outline{}

	var (
		counters       Counters
		h2Item, h3Item *html.Node
		h3List, h4List *html.Node
		h2Entry        *Entry
		h3Entry        *Entry
	)

	for _, h := range headings {
		counters.Advance(h.level)
		number := counters.Section(h.level)
		entry := &Entry{
			Level:  h.level,
			Number: number,
			ID:     b.opts.IDPrefix + number,
			Title:  textContent(h.node),
		}

		h.node.InsertBefore(&html.Node{Type: html.TextNode, Data: number + ". "}, h.node.FirstChild)
		setAttr(h.node, "id", entry.ID)
		setAttr(h.node, SectionAttr, number)

		item := newElement("li")
		item.AppendChild(LinkTo(h.node))

		switch h.level {
		case LevelSection:
			top.AppendChild(item)
			outline.Entries = append(outline.Entries, entry)
			h2Item, h2Entry = item, entry
			h3Item, h3Entry = nil, nil
			h3List, h4List = nil, nil

		case LevelSub:
			if h2Item == nil {
				h2Item, h2Entry = placeholder(top, &outline.Entries, LevelSection, counters.Section(LevelSection))
			}
			if h3List == nil {
				h3List = NewListElement("ul")
				h2Item.AppendChild(h3List)
			}
			h3List.AppendChild(item)
			h2Entry.Children = append(h2Entry.Children, entry)
			h3Item, h3Entry = item, entry
			h4List = nil

		case LevelSubSub:
			if h2Item == nil {
				h2Item, h2Entry = placeholder(top, &outline.Entries, LevelSection, counters.Section(LevelSection))
			}
			if h3Item == nil {
				if h3List == nil {
					h3List = NewListElement("ul")
					h2Item.AppendChild(h3List)
				}
				h3Item, h3Entry = placeholder(h3List, &h2Entry.Children, LevelSub, counters.Section(LevelSub))
			}
			if h4List == nil {
				h4List = NewListElement("ul")
				h3Item.AppendChild(h4List)
			}
			h4List.AppendChild(item)
			h3Entry.Children = append(h3Entry.Children, entry)
		}
	}

	return outline
}

// placeholder appends an empty list item standing in for a skipped parent heading
func placeholder(list *html.Node, entries *[]*Entry, level Level, number string) (*html.Node, *Entry) {
	item := newElement("li")
	list.AppendChild(item)
	entry := &Entry{Level: level, Number: number, Placeholder: true}
	*entries = append(*entries, entry)
	return item, entry
}

func checkNesting(headings []heading) error {
	haveH2, haveH3 := false, false
	for _, h := range headings {
		switch h.level {
		case LevelSection:
			haveH2, haveH3 = true, false
		case LevelSub:
			if !haveH2 {
				return fmt.Errorf("%w: %s %q appears before any h2", ErrMissingParent, h.level, textContent(h.node))
			}
			haveH3 = true
		case LevelSubSub:
			if !haveH3 {
				return fmt.Errorf("%w: %s %q has no preceding h3 in its section", ErrMissingParent, h.level, textContent(h.node))
			}
		}
	}
	return nil
}

// stripNumber removes the prefix and marker left by a previous build
func stripNumber(n *html.Node) {
	number := attr(n, SectionAttr)
	if number == "" {
		return
	}
	prefix := number + ". "
	if fc := n.FirstChild; fc != nil && fc.Type == html.TextNode && strings.HasPrefix(fc.Data, prefix) {
		fc.Data = fc.Data[len(prefix):]
		if fc.Data == "" {
			n.RemoveChild(fc)
		}
	}
	removeAttr(n, SectionAttr)
}
