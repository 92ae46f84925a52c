package process

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"

	"doc-toc/pkg/models"
	"doc-toc/pkg/utils"
)

// Document is a parsed source ready for TOC generation
type Document struct {
	Doc   *goquery.Document
	Kind  models.SourceKind
	Title string
}

// markdown renders GFM with raw HTML passed through, so an authored <nav id="toc"> survives
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
)

// Load parses src as HTML or Markdown. Markdown is rendered to an HTML body first.
func Load(src []byte, kind models.SourceKind) (*Document, error) {
	switch kind {
	case models.SourceMarkdown:
		return loadMarkdown(src)
	case models.SourceHTML, "":
		return loadHTML(src)
	}
	return nil, fmt.Errorf("%w: unsupported source kind %q", utils.ErrParsing, kind)
}

func loadHTML(src []byte) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing HTML: %w", utils.ErrParsing, err)
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	return &Document{Doc: doc, Kind: models.SourceHTML, Title: title}, nil
}

func loadMarkdown(src []byte) (*Document, error) {
	var body bytes.Buffer
	if err := markdown.Convert(src, &body); err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrMarkdownConversion, err)
	}

	title := MarkdownTitle(src)
	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
	page.WriteString(html.EscapeString(title))
	page.WriteString("</title></head><body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body></html>\n")

	doc, err := goquery.NewDocumentFromReader(&page)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing rendered markdown: %w", utils.ErrParsing, err)
	}
	return &Document{Doc: doc, Kind: models.SourceMarkdown, Title: title}, nil
}

// MarkdownTitle returns the text of the first level-1 heading, or "".
func MarkdownTitle(src []byte) string {
	doc := markdown.Parser().Parse(text.NewReader(src))

	var title string
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok || heading.Level != 1 {
			return ast.WalkContinue, nil
		}
		var buf bytes.Buffer
		collectText(heading, src, &buf)
		title = strings.TrimSpace(buf.String())
		return ast.WalkStop, nil
	})
	return title
}

// collectText appends the text segments below n, descending into emphasis, links and code spans
func collectText(n ast.Node, src []byte, buf *bytes.Buffer) {
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		switch c := child.(type) {
		case *ast.Text:
			buf.Write(c.Segment.Value(src))
			if c.SoftLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(c.Value)
		default:
			collectText(child, src, buf)
		}
	}
}
