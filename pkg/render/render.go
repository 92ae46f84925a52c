package render

import (
	"encoding/json"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"gopkg.in/yaml.v3"

	"doc-toc/pkg/toc"
	"doc-toc/pkg/utils"
)

// Format selects an outline rendering
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatHTML     Format = "html" // The generated TOC list itself
)

// ParseFormat converts a flag value into a Format. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case "md":
		return FormatMarkdown, nil
	case "yml":
		return FormatYAML, nil
	case FormatText, FormatMarkdown, FormatJSON, FormatYAML, FormatHTML:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q (supported: text, markdown, json, yaml, html)", s)
}

// Outline renders an outline in the given format.
// tocHTML is the outer HTML of the filled container; markdown and html output are derived from it.
func Outline(format Format, title string, outline *toc.Outline, tocHTML string) (string, error) {
	switch format {
	case FormatText, "":
		return Text(title, outline), nil
	case FormatMarkdown:
		return Markdown(tocHTML)
	case FormatJSON:
		data, err := JSON(outline)
		return string(data), err
	case FormatYAML:
		data, err := YAML(outline)
		return string(data), err
	case FormatHTML:
		return tocHTML, nil
	}
	return "", fmt.Errorf("unknown format %q", format)
}

// Markdown converts the generated TOC list HTML into a nested Markdown list of links
func Markdown(tocHTML string) (string, error) {
	converter := md.NewConverter("", true, nil)
	out, err := converter.ConvertString(tocHTML)
	if err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrMarkdownConversion, err)
	}
	return strings.TrimSpace(out) + "\n", nil
}

// JSON renders the outline as indented JSON
func JSON(outline *toc.Outline) ([]byte, error) {
	data, err := json.MarshalIndent(outline, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal outline: %w", err)
	}
	return append(data, '\n'), nil
}

// YAML renders the outline as YAML
func YAML(outline *toc.Outline) ([]byte, error) {
	data, err := yaml.Marshal(outline)
	if err != nil {
		return nil, fmt.Errorf("marshal outline: %w", err)
	}
	return data, nil
}
