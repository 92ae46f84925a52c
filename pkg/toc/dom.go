package toc

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ListStyle is applied to every list container so the TOC renders without bullets
const ListStyle = "list-style-type: none;"

// LinkTo creates an anchor pointing at heading's id and holding a deep copy of all of
// heading's children. The heading itself is left untouched.
func LinkTo(heading *html.Node) *html.Node {
	a := newElement("a")
	setAttr(a, "href", "#"+attr(heading, "id"))
	for c := heading.FirstChild; c != nil; c = c.NextSibling {
		a.AppendChild(cloneNode(c))
	}
	return a
}

// NewListElement creates a list element (ul or li) with marker styling suppressed
func NewListElement(tag string) *html.Node {
	e := newElement(tag)
	setAttr(e, "style", ListStyle)
	return e
}

func newElement(tag string) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}
}

// cloneNode returns a deep copy of n detached from any tree
func cloneNode(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	if len(n.Attr) > 0 {
		c.Attr = make([]html.Attribute, len(n.Attr))
		copy(c.Attr, n.Attr)
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.AppendChild(cloneNode(child))
	}
	return c
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func removeChildren(n *html.Node) {
	for n.FirstChild != nil {
		n.RemoveChild(n.LastChild)
	}
}

// textContent concatenates all descendant text, collapsing runs of whitespace
func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// findBody locates the body element of the document that n belongs to
func findBody(n *html.Node) *html.Node {
	root := n
	for root.Parent != nil {
		root = root.Parent
	}
	var find func(*html.Node) *html.Node
	find = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Body || n.Data == "body") {
			return n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if b := find(c); b != nil {
				return b
			}
		}
		return nil
	}
	return find(root)
}
