package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const guideHTML = `<html><head><title>Guide</title></head><body>
<div id="toc"></div>
<h2>Install</h2><p>Unpack it.</p>
<h3>Linux</h3><p>Use apt.</p>
<h2>Usage</h2><p>Run it.</p>
</body></html>`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestLoadConfig_ValidFile(t *testing.T) {
	content := `
num_workers: 4
output_base_dir: "./out"
state_dir: "./state"
documents:
  guide:
    source: "docs/guide.html"
    title: "User Guide"
`
	cfgPath := writeFile(t, t.TempDir(), "config.yaml", content)

	cfg, err := loadConfig(cfgPath)

	require.NoError(t, err)
	assert.Equal(t, 4, cfg.NumWorkers)
	require.Contains(t, cfg.Documents, "guide")
	assert.Equal(t, "User Guide", cfg.Documents["guide"].Title)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := loadConfig("/nonexistent/path/config.yaml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "bad.yaml", "{{invalid yaml")

	_, err := loadConfig(cfgPath)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestDoValidate_AllDocuments(t *testing.T) {
	content := `
documents:
  doc_a:
    source: "a.html"
  doc_b:
    source: "https://example.com/b.md"
`
	cfgPath := writeFile(t, t.TempDir(), "config.yaml", content)

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, "", &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout.String(), "OK: [doc_a]")
	assert.Contains(t, stdout.String(), "OK: [doc_b]")
	assert.Contains(t, stdout.String(), "Configuration valid")
}

func TestDoValidate_SpecificDocument(t *testing.T) {
	content := `
documents:
  my_doc:
    source: "guide.html"
    user_agent: "ignored/1.0"
`
	cfgPath := writeFile(t, t.TempDir(), "config.yaml", content)

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, "my_doc", &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout.String(), "WARN: [my_doc]")
	assert.Contains(t, stdout.String(), "OK: Document 'my_doc'")
}

func TestDoValidate_DocumentNotFound(t *testing.T) {
	content := `
documents:
  existing:
    source: "guide.html"
`
	cfgPath := writeFile(t, t.TempDir(), "config.yaml", content)

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, "nonexistent", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "not found")
}

func TestDoValidate_InvalidDocument(t *testing.T) {
	content := `
documents:
  bad_doc:
    source: "guide.pdf"
    kind: "pdf"
  good_doc:
    source: "guide.html"
`
	cfgPath := writeFile(t, t.TempDir(), "config.yaml", content)

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, "", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "ERROR: [bad_doc]")
	assert.Contains(t, stdout.String(), "OK: [good_doc]")
}

func TestDoValidate_InvalidHeadingPolicy(t *testing.T) {
	content := `
heading_policy: "sloppy"
documents:
  doc:
    source: "guide.html"
`
	cfgPath := writeFile(t, t.TempDir(), "config.yaml", content)

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, "", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "ERROR:")
}

func TestDoValidate_ConfigNotFound(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doValidate("/nonexistent/config.yaml", "", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "Error:")
}

func TestDoListDocs(t *testing.T) {
	content := `
documents:
  zeta:
    source: "notes.md"
  alpha:
    source: "https://example.com/manual.html"
    title: "Manual"
    output_filename: "manual.html"
`
	cfgPath := writeFile(t, t.TempDir(), "config.yaml", content)

	var stdout, stderr bytes.Buffer
	exitCode := doListDocs(cfgPath, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	out := stdout.String()
	assert.Contains(t, out, "Title: Manual")
	assert.Contains(t, out, "Kind: markdown")
	assert.Contains(t, out, "Output: manual.html")
	assert.Less(t, strings.Index(out, "alpha"), strings.Index(out, "zeta"), "keys are sorted")
}

func TestDoListDocs_ConfigError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, doListDocs("/nonexistent/config.yaml", &stdout, &stderr))
}

func TestPrintUsageTo(t *testing.T) {
	var buf bytes.Buffer
	printUsageTo(&buf)

	out := buf.String()
	for _, cmd := range []string{"generate", "outline", "build", "watch", "validate", "list-docs", "mcp-server", "version"} {
		assert.Contains(t, out, cmd)
	}
}

func TestSelectDocuments(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		docs    string
		all     bool
		want    []string
		wantErr bool
	}{
		{name: "single", doc: "guide", want: []string{"guide"}},
		{name: "list trims blanks", docs: " guide, ,api ", want: []string{"guide", "api"}},
		{name: "docs wins over doc", doc: "x", docs: "a,b", want: []string{"a", "b"}},
		{name: "all", all: true, want: nil},
		{name: "empty list", docs: " , ", wantErr: true},
		{name: "nothing", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectDocuments(tt.doc, tt.docs, tt.all)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func sourceOpts(source string) *sourceOptions {
	return &sourceOptions{source: source, insert: true, logLevel: "error"}
}

func TestDoGenerate_Stdout(t *testing.T) {
	src := writeFile(t, t.TempDir(), "guide.html", guideHTML)

	var stdout, stderr bytes.Buffer
	exitCode := doGenerate(context.Background(), sourceOpts(src), "", nil, &stdout, &stderr)

	require.Equal(t, 0, exitCode, stderr.String())
	out := stdout.String()
	assert.Contains(t, out, `<h2 id="section1">1. Install</h2>`)
	assert.Contains(t, out, `<h3 id="section1.1">1.1. Linux</h3>`)
	assert.Contains(t, out, `<a href="#section2">2. Usage</a>`)
}

func TestDoGenerate_OutputFile(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "guide.html", guideHTML)
	output := filepath.Join(dir, "out", "guide.html")

	var stdout, stderr bytes.Buffer
	exitCode := doGenerate(context.Background(), sourceOpts(src), output, nil, &stdout, &stderr)

	require.Equal(t, 0, exitCode, stderr.String())
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "3 sections")
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(data), `id="section1.1"`)
}

func TestDoGenerate_MarkdownFromStdin(t *testing.T) {
	opts := sourceOpts("-")
	opts.kind = "markdown"

	var stdout, stderr bytes.Buffer
	exitCode := doGenerate(context.Background(), opts, "", strings.NewReader("# Notes\n\n## First\n\n## Second\n"), &stdout, &stderr)

	require.Equal(t, 0, exitCode, stderr.String())
	out := stdout.String()
	assert.Contains(t, out, `<nav id="toc">`)
	assert.Contains(t, out, `id="section2"`)
}

func TestDoGenerate_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("strict policy", func(t *testing.T) {
		src := writeFile(t, dir, "orphan.html", `<html><body><div id="toc"></div><h3>Orphan</h3></body></html>`)
		var stdout, stderr bytes.Buffer
		exitCode := doGenerate(context.Background(), sourceOpts(src), "", nil, &stdout, &stderr)

		assert.Equal(t, 1, exitCode)
		assert.Contains(t, stderr.String(), "Content_HeadingStructure")
		assert.Empty(t, stdout.String())
	})

	t.Run("lenient policy", func(t *testing.T) {
		src := writeFile(t, dir, "orphan2.html", `<html><body><div id="toc"></div><h3>Orphan</h3></body></html>`)
		opts := sourceOpts(src)
		opts.policy = "lenient"
		var stdout, stderr bytes.Buffer
		exitCode := doGenerate(context.Background(), opts, "", nil, &stdout, &stderr)

		require.Equal(t, 0, exitCode, stderr.String())
		assert.Contains(t, stdout.String(), `id="section0.1"`)
	})

	t.Run("missing container without insert", func(t *testing.T) {
		src := writeFile(t, dir, "plain.html", `<html><body><h2>A</h2></body></html>`)
		opts := sourceOpts(src)
		opts.insert = false
		var stdout, stderr bytes.Buffer
		exitCode := doGenerate(context.Background(), opts, "", nil, &stdout, &stderr)

		assert.Equal(t, 1, exitCode)
		assert.Contains(t, stderr.String(), "Content_ContainerNotFound")
	})

	t.Run("missing file", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		exitCode := doGenerate(context.Background(), sourceOpts(filepath.Join(dir, "nope.html")), "", nil, &stdout, &stderr)

		assert.Equal(t, 1, exitCode)
		assert.Contains(t, stderr.String(), "Filesystem_NotExist")
	})

	t.Run("bad kind", func(t *testing.T) {
		opts := sourceOpts(filepath.Join(dir, "plain.html"))
		opts.kind = "pdf"
		var stdout, stderr bytes.Buffer
		assert.Equal(t, 1, doGenerate(context.Background(), opts, "", nil, &stdout, &stderr))
	})
}

func TestDoOutline(t *testing.T) {
	src := writeFile(t, t.TempDir(), "guide.html", guideHTML)

	t.Run("text", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		exitCode := doOutline(context.Background(), sourceOpts(src), "text", nil, &stdout, &stderr)

		require.Equal(t, 0, exitCode, stderr.String())
		want := "Guide\n" +
			"├── 1. Install\n" +
			"│   └── 1.1. Linux\n" +
			"└── 2. Usage\n"
		assert.Equal(t, want, stdout.String())
	})

	t.Run("json with title override", func(t *testing.T) {
		opts := sourceOpts(src)
		opts.title = "Handbook"
		var stdout, stderr bytes.Buffer
		exitCode := doOutline(context.Background(), opts, "json", nil, &stdout, &stderr)

		require.Equal(t, 0, exitCode, stderr.String())
		var out struct {
			Entries []struct {
				Number   string `json:"number"`
				ID       string `json:"id"`
				Children []struct {
					Number string `json:"number"`
				} `json:"children"`
			} `json:"entries"`
		}
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
		require.Len(t, out.Entries, 2)
		assert.Equal(t, "section1", out.Entries[0].ID)
		require.Len(t, out.Entries[0].Children, 1)
		assert.Equal(t, "1.1", out.Entries[0].Children[0].Number)
	})

	t.Run("unknown format", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		exitCode := doOutline(context.Background(), sourceOpts(src), "pdf", nil, &stdout, &stderr)

		assert.Equal(t, 1, exitCode)
		assert.Contains(t, stderr.String(), "pdf")
	})
}

// buildFixture writes a config with one good and one broken document
func buildFixture(t *testing.T) (cfgPath, srcDir, outDir string) {
	t.Helper()
	dir := t.TempDir()
	srcDir = filepath.Join(dir, "src")
	outDir = filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(srcDir, 0755))
	writeFile(t, srcDir, "guide.html", guideHTML)

	content := "output_base_dir: " + outDir + "\n" +
		"state_dir: " + filepath.Join(dir, "state") + "\n" +
		"num_workers: 2\n" +
		"write_markdown_outline: true\n" +
		"documents:\n" +
		"  guide:\n" +
		"    source: " + filepath.Join(srcDir, "guide.html") + "\n" +
		"  broken:\n" +
		"    source: " + filepath.Join(srcDir, "broken.html") + "\n"
	cfgPath = writeFile(t, dir, "config.yaml", content)
	return cfgPath, srcDir, outDir
}

func TestDoBuild(t *testing.T) {
	cfgPath, srcDir, outDir := buildFixture(t)
	ctx := context.Background()

	var stdout, stderr bytes.Buffer
	exitCode := doBuild(ctx, &buildOptions{configPath: cfgPath, allDocs: true, logLevel: "error"}, &stdout, &stderr)

	assert.Equal(t, 1, exitCode, "broken document fails the run")
	assert.Contains(t, stdout.String(), "FAIL  broken")
	assert.Contains(t, stdout.String(), "OK    guide -> ")
	assert.Contains(t, stdout.String(), "(3 sections)")
	assert.FileExists(t, filepath.Join(outDir, "guide.html"))
	assert.FileExists(t, filepath.Join(outDir, "guide.toc.md"))

	t.Run("incremental skips unchanged", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		exitCode := doBuild(ctx, &buildOptions{configPath: cfgPath, docKey: "guide", incremental: true, logLevel: "error"}, &stdout, &stderr)

		assert.Equal(t, 0, exitCode, stderr.String())
		assert.Contains(t, stdout.String(), "SKIP  guide (unchanged)")
	})

	t.Run("full rebuilds", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		exitCode := doBuild(ctx, &buildOptions{configPath: cfgPath, docs: "guide", incremental: true, full: true, logLevel: "error"}, &stdout, &stderr)

		assert.Equal(t, 0, exitCode, stderr.String())
		assert.Contains(t, stdout.String(), "OK    guide")
	})

	t.Run("retry failed", func(t *testing.T) {
		writeFile(t, srcDir, "broken.html", guideHTML)

		var stdout, stderr bytes.Buffer
		exitCode := doBuild(ctx, &buildOptions{configPath: cfgPath, retryFailed: true, logLevel: "error"}, &stdout, &stderr)
		assert.Equal(t, 0, exitCode, stderr.String())
		assert.Contains(t, stdout.String(), "OK    broken")
		assert.NotContains(t, stdout.String(), "guide")

		stdout.Reset()
		exitCode = doBuild(ctx, &buildOptions{configPath: cfgPath, retryFailed: true, logLevel: "error"}, &stdout, &stderr)
		assert.Equal(t, 0, exitCode)
		assert.Contains(t, stdout.String(), "No failed documents to retry.")
	})
}

func TestDoBuild_Errors(t *testing.T) {
	cfgPath, _, _ := buildFixture(t)
	ctx := context.Background()

	t.Run("unknown document", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		exitCode := doBuild(ctx, &buildOptions{configPath: cfgPath, docKey: "nope", logLevel: "error"}, &stdout, &stderr)

		assert.Equal(t, 1, exitCode)
		assert.Contains(t, stderr.String(), "Available documents")
	})

	t.Run("no selection", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		assert.Equal(t, 1, doBuild(ctx, &buildOptions{configPath: cfgPath, logLevel: "error"}, &stdout, &stderr))
	})

	t.Run("missing config", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		exitCode := doBuild(ctx, &buildOptions{configPath: "/nonexistent/config.yaml", allDocs: true, logLevel: "error"}, &stdout, &stderr)

		assert.Equal(t, 1, exitCode)
		assert.Contains(t, stderr.String(), "Config error")
	})
}

func TestDoMcpServer_InvalidTransport(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doMcpServer("config.yaml", "websocket", 0, true, "error", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "Unknown transport")
}

func TestDoMcpServer_ConfigError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doMcpServer("/nonexistent/config.yaml", "stdio", 0, true, "error", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "Error loading config")
}
