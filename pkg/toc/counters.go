package toc

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Level is the nesting depth of a heading taking part in the TOC
type Level int

const (
	// LevelNone marks a node that is not a numbered heading
	LevelNone Level = 0
	// LevelSection is an h2, numbered N
	LevelSection Level = 2
	// LevelSub is an h3, numbered N.M
	LevelSub Level = 3
	// LevelSubSub is an h4, numbered N.M.P
	LevelSubSub Level = 4
)

// String implements fmt.Stringer for logging
func (l Level) String() string {
	if l == LevelNone {
		return "none"
	}
	return "h" + strconv.Itoa(int(l))
}

// HeadingLevel classifies n. Anything other than an h2, h3 or h4 element is LevelNone.
func HeadingLevel(n *html.Node) Level {
	if n == nil || n.Type != html.ElementNode {
		return LevelNone
	}
	switch strings.ToLower(n.Data) {
	case "h2":
		return LevelSection
	case "h3":
		return LevelSub
	case "h4":
		return LevelSubSub
	}
	return LevelNone
}

// Counters holds the running section numbers for h2, h3 and h4
type Counters struct {
	H2 int
	H3 int
	H4 int
}

// Advance moves the counters past a heading of the given level.
// Deeper counters are reset whenever a shallower level is encountered.
func (c *Counters) Advance(level Level) {
	switch level {
	case LevelSection:
		c.H2++
		c.H3, c.H4 = 0, 0
	case LevelSub:
		c.H3++
		c.H4 = 0
	case LevelSubSub:
		c.H4++
	}
}

// Section returns the dotted section number for level using the current counter values
func (c Counters) Section(level Level) string {
	switch level {
	case LevelSection:
		return strconv.Itoa(c.H2)
	case LevelSub:
		return fmt.Sprintf("%d.%d", c.H2, c.H3)
	case LevelSubSub:
		return fmt.Sprintf("%d.%d.%d", c.H2, c.H3, c.H4)
	}
	return ""
}
