package render

import (
	"fmt"
	"strings"

	"doc-toc/pkg/toc"
)

const (
	indentPrefix    = "    "
	entryPrefix     = "├── "
	lastEntryPrefix = "└── "
	verticalLine    = "│   "
)

// Text renders the outline as a tree:
//
//	Guide
//	├── 1. Install (120 tokens)
//	│   └── 1.1. Linux
//	└── 2. Usage
func Text(title string, outline *toc.Outline) string {
	var b strings.Builder
	if title != "" {
		b.WriteString(title)
		b.WriteByte('\n')
	}
	if outline == nil || len(outline.Entries) == 0 {
		b.WriteString("(no headings)\n")
		return b.String()
	}
	writeEntries(&b, outline.Entries, "")
	return b.String()
}

func writeEntries(b *strings.Builder, entries []*toc.Entry, indent string) {
	for i, e := range entries {
		last := i == len(entries)-1
		connector, childIndent := entryPrefix, indent+verticalLine
		if last {
			connector, childIndent = lastEntryPrefix, indent+indentPrefix
		}
		fmt.Fprintf(b, "%s%s%s\n", indent, connector, label(e))
		writeEntries(b, e.Children, childIndent)
	}
}

func label(e *toc.Entry) string {
	if e.Placeholder {
		return e.Number + ". (missing " + e.Level.String() + ")"
	}
	s := e.Number + ". " + e.Title
	if e.Tokens > 0 {
		s += fmt.Sprintf(" (%d tokens)", e.Tokens)
	}
	return s
}
