package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"doc-toc/pkg/config"
	"doc-toc/pkg/orchestrate"
	"doc-toc/pkg/process"
	"doc-toc/pkg/render"
	"doc-toc/pkg/utils"
)

// sourceOptions holds the flags shared by generate and outline
type sourceOptions struct {
	configPath      string
	source          string // File path, http(s) URL or "-" for stdin
	kind            string
	title           string
	container       string
	body            string
	policy          string
	idPrefix        string
	userAgent       string
	insert          bool
	stripPermalinks bool
	tokens          bool
	logLevel        string
}

func (o *sourceOptions) register(fs *flag.FlagSet) {
	fs.StringVar(&o.configPath, "config", "", "Path to config file for global defaults (optional)")
	fs.StringVar(&o.kind, "kind", "", "Source kind: html or markdown (default: from file extension)")
	fs.StringVar(&o.title, "title", "", "Override the document title")
	fs.StringVar(&o.container, "container", "", "CSS selector of the TOC container (default '#toc')")
	fs.StringVar(&o.body, "body", "", "CSS selector of the element whose children are scanned (default 'body')")
	fs.StringVar(&o.policy, "policy", "", "Heading policy: strict or lenient (default strict)")
	fs.StringVar(&o.idPrefix, "id-prefix", "", "Prefix for generated heading ids (default 'section')")
	fs.StringVar(&o.userAgent, "user-agent", "", "User-Agent for URL sources")
	fs.BoolVar(&o.insert, "insert", true, "Create the TOC container when the document has none")
	fs.BoolVar(&o.stripPermalinks, "strip-permalinks", false, "Remove permalink anchors from headings before numbering")
	fs.BoolVar(&o.tokens, "tokens", false, "Annotate sections with token counts")
	fs.StringVar(&o.logLevel, "loglevel", "warn", "Log level (debug, info, warn, error)")
}

// documentConfig turns the flags into a one-off document configuration
func (o *sourceOptions) documentConfig() config.DocumentConfig {
	insert := o.insert
	docCfg := config.DocumentConfig{
		Source:            o.source,
		Kind:              o.kind,
		Title:             o.title,
		ContainerSelector: o.container,
		BodySelector:      o.body,
		HeadingPolicy:     o.policy,
		IDPrefix:          o.idPrefix,
		UserAgent:         o.userAgent,
		InsertContainer:   &insert,
	}
	if o.source == "-" && docCfg.Kind == "" {
		docCfg.Kind = "html"
	}
	return docCfg
}

// generateSingle loads one source and builds its TOC without touching the state DB
func generateSingle(ctx context.Context, opts *sourceOptions, stdin io.Reader, stderr io.Writer) (*process.Result, error) {
	log := setupLogger(opts.logLevel, stderr)

	appCfg, err := loadAndValidateConfig(opts.configPath, log)
	if err != nil {
		return nil, err
	}
	if opts.tokens {
		appCfg.EnableTokenCounts = true
	}
	if opts.stripPermalinks {
		appCfg.StripPermalinks = true
	}

	docCfg := opts.documentConfig()
	docWarnings, err := docCfg.Validate()
	if err != nil {
		return nil, err
	}
	for _, w := range docWarnings {
		log.Warn(w)
	}

	orch := orchestrate.NewOrchestrator(appCfg, nil, false, log.WithField("component", "generate"))

	var src []byte
	if opts.source == "-" {
		if src, err = io.ReadAll(stdin); err != nil {
			return nil, fmt.Errorf("%w: reading stdin: %w", utils.ErrFilesystem, err)
		}
	} else if src, err = orch.ReadSource(ctx, docCfg); err != nil {
		return nil, err
	}

	return orch.Generate(ctx, docCfg, src)
}

func parseSourceArgs(fs *flag.FlagSet, opts *sourceOptions, args []string) {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one source (file, URL or '-') is required")
		fs.Usage()
		os.Exit(1)
	}
	opts.source = fs.Arg(0)
}

// runGenerate handles the generate subcommand
func runGenerate(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	var opts sourceOptions
	opts.register(fs)
	output := fs.String("o", "", "Write the numbered document to this file instead of stdout")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: doc-toc generate [options] <file|url|->\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  doc-toc generate guide.html -o guide.numbered.html\n")
		fmt.Fprintf(os.Stderr, "  doc-toc generate -policy lenient https://example.com/manual.html\n")
		fmt.Fprintf(os.Stderr, "  cat notes.md | doc-toc generate -kind markdown -\n")
	}
	parseSourceArgs(fs, &opts, args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(doGenerate(ctx, &opts, *output, os.Stdin, os.Stdout, os.Stderr))
}

// doGenerate writes the numbered document to output, or stdout when output is empty.
// Returns exit code (0 = success, 1 = error).
func doGenerate(ctx context.Context, opts *sourceOptions, output string, stdin io.Reader, stdout, stderr io.Writer) int {
	res, err := generateSingle(ctx, opts, stdin, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error (%s): %v\n", utils.CategorizeError(err), err)
		return 1
	}

	if output == "" {
		fmt.Fprint(stdout, res.HTML)
		return 0
	}
	if err := process.SaveFile(output, []byte(res.HTML)); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stderr, "Wrote %s (%d sections)\n", output, res.Outline.Count())
	return 0
}

// runOutline handles the outline subcommand
func runOutline(args []string) {
	fs := flag.NewFlagSet("outline", flag.ExitOnError)
	var opts sourceOptions
	opts.register(fs)
	format := fs.String("format", "text", "Output format (text, markdown, json, yaml, html)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: doc-toc outline [options] <file|url|->\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  doc-toc outline guide.html\n")
		fmt.Fprintf(os.Stderr, "  doc-toc outline -format json -tokens README.md\n")
	}
	parseSourceArgs(fs, &opts, args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(doOutline(ctx, &opts, *format, os.Stdin, os.Stdout, os.Stderr))
}

// doOutline prints the outline of one source in the requested format.
// Returns exit code (0 = success, 1 = error).
func doOutline(ctx context.Context, opts *sourceOptions, formatStr string, stdin io.Reader, stdout, stderr io.Writer) int {
	format, err := render.ParseFormat(formatStr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	res, err := generateSingle(ctx, opts, stdin, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error (%s): %v\n", utils.CategorizeError(err), err)
		return 1
	}

	out, err := render.Outline(format, res.Title, res.Outline, res.TOCHTML)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprint(stdout, out)
	return 0
}
