package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"doc-toc/pkg/models"
	"doc-toc/pkg/toc"
	"doc-toc/pkg/utils"
)

// Options controls how a single document is processed
type Options struct {
	BodySelector      string // Element whose direct children are scanned; default "body"
	ContainerSelector string // Element that receives the TOC list; default "#toc"
	InsertContainer   bool   // Create <nav id="toc"> at the top of the body when the container is missing
	Policy            toc.Policy
	IDPrefix          string
	StripPermalinks   bool // Remove headerlink/permalink anchors from headings before numbering
	CountTokens       bool
}

// Result is the outcome of processing one document
type Result struct {
	Outline *toc.Outline
	Title   string
	HTML    string // Full rendered document
	TOCHTML string // Outer HTML of the filled container
	Tokens  int    // Token count of the scanned body text (0 when token counting is off)
}

// Processor runs the TOC builder over loaded documents
type Processor struct {
	tokens *TokenCounter
	log    *logrus.Entry
}

// NewProcessor creates a Processor. tokens may be nil, in which case counts are estimated.
func NewProcessor(tokens *TokenCounter, log *logrus.Entry) *Processor {
	return &Processor{tokens: tokens, log: log}
}

// Process locates the body and container, builds the numbered TOC in place and renders the result.
// Headings rejected by the strict policy are returned as ErrHeadingStructure with no numbering applied.
func (p *Processor) Process(ctx context.Context, doc *Document, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.BodySelector == "" {
		opts.BodySelector = "body"
	}
	if opts.ContainerSelector == "" {
		opts.ContainerSelector = "#toc"
	}

	body := doc.Doc.Find(opts.BodySelector).First()
	if body.Length() == 0 {
		return nil, fmt.Errorf("%w: selector '%s'", utils.ErrBodyNotFound, opts.BodySelector)
	}

	container := doc.Doc.Find(opts.ContainerSelector).First()
	if container.Length() == 0 {
		// Markdown sources cannot carry a container unless the author wrote raw HTML
		if !opts.InsertContainer && doc.Kind != models.SourceMarkdown {
			return nil, fmt.Errorf("%w: selector '%s'", utils.ErrContainerNotFound, opts.ContainerSelector)
		}
		container = insertContainer(body, opts.ContainerSelector)
		p.log.Debugf("Inserted TOC container for selector '%s'", opts.ContainerSelector)
	}

	if opts.StripPermalinks {
		if n := stripPermalinks(body); n > 0 {
			p.log.Debugf("Removed %d permalink anchors from headings", n)
		}
	}

	builder := toc.NewBuilder(toc.Options{Policy: opts.Policy, IDPrefix: opts.IDPrefix})
	outline, err := builder.Build(body.Get(0), container.Get(0))
	if err != nil {
		if errors.Is(err, toc.ErrMissingParent) {
			return nil, fmt.Errorf("%w: %w", utils.ErrHeadingStructure, err)
		}
		return nil, err
	}

	result := &Result{Outline: outline, Title: doc.Title}
	if opts.CountTokens {
		result.Tokens = p.annotateTokens(body, container.Get(0), outline)
	}

	if result.HTML, err = doc.Doc.Html(); err != nil {
		return nil, fmt.Errorf("%w: rendering document: %w", utils.ErrParsing, err)
	}
	if result.TOCHTML, err = goquery.OuterHtml(container); err != nil {
		return nil, fmt.Errorf("%w: rendering TOC: %w", utils.ErrParsing, err)
	}

	p.log.WithFields(logrus.Fields{"sections": outline.Count(), "tokens": result.Tokens}).Debug("Built TOC")
	return result, nil
}

// insertContainer prepends a <nav> to body, using the selector's id when it is a plain #id.
func insertContainer(body *goquery.Selection, selector string) *goquery.Selection {
	id := "toc"
	if strings.HasPrefix(selector, "#") && !strings.ContainsAny(selector[1:], " .#[>:+~,") && len(selector) > 1 {
		id = selector[1:]
	}
	nav := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Nav,
		Data:     "nav",
		Attr:     []html.Attribute{{Key: "id", Val: id}},
	}
	bodyNode := body.Get(0)
	bodyNode.InsertBefore(nav, bodyNode.FirstChild)
	return body.Children().First()
}

// stripPermalinks removes the anchor decorations doc generators append to headings (Sphinx ¶, "#" links).
func stripPermalinks(body *goquery.Selection) int {
	removed := 0
	body.ChildrenFiltered("h2, h3, h4").Find("a").Each(func(_ int, a *goquery.Selection) {
		text := strings.TrimSpace(a.Text())
		href, _ := a.Attr("href")
		if a.HasClass("headerlink") || a.HasClass("permalink") || a.HasClass("anchor") ||
			text == "¶" || text == "#" || (text == "" && strings.HasPrefix(href, "#")) {
			a.Remove()
			removed++
		}
	})
	return removed
}

// annotateTokens sets Entry.Tokens to the size of each section, heading included.
// A section runs until the next heading of the same or a higher level; it returns the body total.
// The TOC container itself is not counted.
func (p *Processor) annotateTokens(body *goquery.Selection, skip *html.Node, outline *toc.Outline) int {
	type open struct {
		entry *toc.Entry
		text  strings.Builder
	}
	var stack []*open
	var all strings.Builder

	closeTo := func(level toc.Level) {
		for len(stack) > 0 && stack[len(stack)-1].entry.Level >= level {
			top := stack[len(stack)-1]
			top.entry.Tokens = p.tokens.Count(top.text.String())
			stack = stack[:len(stack)-1]
		}
	}

	body.Contents().Each(func(_ int, s *goquery.Selection) {
		n := s.Get(0)
		if n == skip {
			return
		}
		if level := toc.HeadingLevel(n); level != toc.LevelNone {
			id, _ := s.Attr("id")
			if e := outline.Find(id); e != nil {
				closeTo(level)
				stack = append(stack, &open{entry: e})
			}
		}
		chunk := s.Text()
		if strings.TrimSpace(chunk) == "" {
			return
		}
		all.WriteString(chunk)
		for _, o := range stack {
			o.text.WriteString(chunk)
		}
	})
	closeTo(toc.LevelNone)

	return p.tokens.Count(all.String())
}

// SaveFile writes data to path, creating parent directories
func SaveFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: creating output directory '%s': %w", utils.ErrFilesystem, filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: saving '%s': %w", utils.ErrFilesystem, path, err)
	}
	return nil
}
