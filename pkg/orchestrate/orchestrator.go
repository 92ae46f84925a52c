package orchestrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"doc-toc/pkg/config"
	"doc-toc/pkg/fetch"
	"doc-toc/pkg/models"
	"doc-toc/pkg/process"
	"doc-toc/pkg/render"
	"doc-toc/pkg/storage"
	"doc-toc/pkg/toc"
	"doc-toc/pkg/utils"
)

// DocumentResult contains the result of building a single document
type DocumentResult struct {
	Key         string
	Source      string
	Title       string
	OutputPath  string
	OutlinePath string // Markdown outline, empty when disabled
	Sections    int
	Tokens      int
	ContentHash string
	Skipped     bool // Unchanged since the last successful build
	Error       error
	Duration    time.Duration
}

// Success reports whether the document was built or skipped without error
func (r DocumentResult) Success() bool {
	return r.Error == nil
}

// Orchestrator builds configured documents in parallel
type Orchestrator struct {
	appCfg      *config.AppConfig
	log         *logrus.Entry
	store       storage.StateStore // nil disables state tracking and incremental skips
	incremental bool

	// Shared resources
	remote    *fetch.Remote
	processor *process.Processor
}

// NewOrchestrator creates an orchestrator. store may be nil for one-off builds.
func NewOrchestrator(appCfg *config.AppConfig, store storage.StateStore, incremental bool, log *logrus.Entry) *Orchestrator {
	httpClient := fetch.NewClient(appCfg, log)

	var tokens *process.TokenCounter
	if appCfg.EnableTokenCounts {
		var err error
		tokens, err = process.NewTokenCounter(appCfg.TokenizerEncoding)
		if err != nil {
			log.Warnf("Tokenizer unavailable, token counts will be estimated: %v", err)
		}
	}

	return &Orchestrator{
		appCfg:      appCfg,
		log:         log,
		store:       store,
		incremental: incremental && store != nil,
		remote:      fetch.NewRemote(httpClient, appCfg, log.WithField("component", "fetch")),
		processor:   process.NewProcessor(tokens, log.WithField("component", "process")),
	}
}

// Run builds the documents named by keys with at most num_workers in flight.
// A failing document does not stop the others; its error is reported in its DocumentResult.
// The returned error is non-nil only for an unknown key or when ctx ends before all documents finish.
func (o *Orchestrator) Run(ctx context.Context, keys []string) ([]DocumentResult, error) {
	if err := ValidateDocumentKeys(o.appCfg, keys); err != nil {
		return nil, err
	}

	if o.appCfg.GlobalBuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.appCfg.GlobalBuildTimeout)
		defer cancel()
	}

	runID := uuid.NewString()
	startTime := time.Now()
	o.log.WithField("run_id", runID).Infof("Building %d documents (incremental=%v, workers=%d)", len(keys), o.incremental, o.appCfg.NumWorkers)

	results := make([]DocumentResult, len(keys))
	var g errgroup.Group
	g.SetLimit(max(o.appCfg.NumWorkers, 1))
	for i, key := range keys {
		g.Go(func() error {
			results[i] = o.buildDocument(ctx, key)
			return nil
		})
	}
	_ = g.Wait()

	o.logSummary(results, time.Since(startTime))

	if o.appCfg.EnableMetadataYAML {
		if err := o.writeMetadataYAML(runID, startTime, results); err != nil {
			o.log.Errorf("Failed to write run metadata: %v", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("build interrupted: %w", err)
	}
	return results, nil
}

// buildDocument runs one document through read, hash, skip check, process, write and record
func (o *Orchestrator) buildDocument(ctx context.Context, key string) (result DocumentResult) {
	startTime := time.Now()
	docCfg := o.appCfg.Documents[key]
	docLog := o.log.WithFields(logrus.Fields{"doc": key, "source": docCfg.Source})

	result = DocumentResult{
		Key:        key,
		Source:     docCfg.Source,
		OutputPath: filepath.Join(o.appCfg.OutputBaseDir, config.GetEffectiveOutputFilename(key, docCfg)),
	}
	defer func() { result.Duration = time.Since(startTime) }()

	if o.appCfg.PerDocumentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.appCfg.PerDocumentTimeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		result.Error = err
		return result
	}

	src, err := o.ReadSource(ctx, docCfg)
	if err != nil {
		result.Error = err
		o.recordFailure(key, docCfg, err, docLog)
		return result
	}
	result.ContentHash = utils.ContentHash(src)

	if o.unchanged(key, result.ContentHash, result.OutputPath, docLog) {
		result.Skipped = true
		docLog.Info("Source unchanged since last build, skipping")
		return result
	}

	o.recordStatus(key, &models.DocumentDBEntry{
		Status:      models.DocumentStatusPending,
		Source:      docCfg.Source,
		LastAttempt: time.Now(),
	}, docLog)

	res, err := o.Generate(ctx, docCfg, src)
	if err != nil {
		result.Error = err
		o.recordFailure(key, docCfg, err, docLog)
		return result
	}
	result.Title = res.Title
	result.Sections = res.Outline.Count()
	result.Tokens = res.Tokens

	if err := process.SaveFile(result.OutputPath, []byte(res.HTML)); err != nil {
		result.Error = err
		o.recordFailure(key, docCfg, err, docLog)
		return result
	}

	if config.GetEffectiveWriteMarkdownOutline(docCfg, *o.appCfg) {
		outlinePath := strings.TrimSuffix(result.OutputPath, filepath.Ext(result.OutputPath)) + ".toc.md"
		if err := o.writeMarkdownOutline(outlinePath, res); err != nil {
			result.Error = err
			o.recordFailure(key, docCfg, err, docLog)
			return result
		}
		result.OutlinePath = outlinePath
	}

	now := time.Now()
	o.recordStatus(key, &models.DocumentDBEntry{
		Status:       models.DocumentStatusSuccess,
		Source:       docCfg.Source,
		ContentHash:  result.ContentHash,
		OutputPath:   result.OutputPath,
		SectionCount: result.Sections,
		ProcessedAt:  now,
		LastAttempt:  now,
	}, docLog)

	docLog.WithFields(logrus.Fields{
		"sections": result.Sections,
		"output":   result.OutputPath,
	}).Info("Built TOC")
	return result
}

// ReadSource loads a document source from disk or over HTTP
func (o *Orchestrator) ReadSource(ctx context.Context, docCfg config.DocumentConfig) ([]byte, error) {
	if docCfg.IsRemote() {
		return o.remote.Get(ctx, docCfg.Source,
			config.GetEffectiveUserAgent(docCfg, *o.appCfg),
			config.GetEffectiveDelayPerHost(docCfg, *o.appCfg))
	}

	info, err := os.Stat(docCfg.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
	}
	if limit := o.appCfg.MaxDocumentSizeBytes; limit > 0 && info.Size() > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", utils.ErrFilesystem, docCfg.Source, info.Size(), limit)
	}
	data, err := os.ReadFile(docCfg.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
	}
	return data, nil
}

// Generate loads src according to docCfg and builds its numbered TOC without writing anything
func (o *Orchestrator) Generate(ctx context.Context, docCfg config.DocumentConfig, src []byte) (*process.Result, error) {
	opts, err := ProcessOptions(docCfg, o.appCfg)
	if err != nil {
		return nil, err
	}
	doc, err := process.Load(src, config.GetEffectiveKind(docCfg))
	if err != nil {
		return nil, err
	}
	res, err := o.processor.Process(ctx, doc, opts)
	if err != nil {
		return nil, err
	}
	if docCfg.Title != "" {
		res.Title = docCfg.Title
	}
	return res, nil
}

// ProcessOptions resolves the effective processing options for a document
func ProcessOptions(docCfg config.DocumentConfig, appCfg *config.AppConfig) (process.Options, error) {
	policy, err := toc.ParsePolicy(config.GetEffectiveHeadingPolicy(docCfg, *appCfg))
	if err != nil {
		return process.Options{}, fmt.Errorf("%w: %w", utils.ErrConfigValidation, err)
	}
	return process.Options{
		BodySelector:      config.GetEffectiveBodySelector(docCfg, *appCfg),
		ContainerSelector: config.GetEffectiveContainerSelector(docCfg, *appCfg),
		InsertContainer:   config.GetEffectiveInsertContainer(docCfg, *appCfg),
		Policy:            policy,
		IDPrefix:          config.GetEffectiveIDPrefix(docCfg, *appCfg),
		StripPermalinks:   appCfg.StripPermalinks,
		CountTokens:       appCfg.EnableTokenCounts,
	}, nil
}

// unchanged reports whether an incremental build can skip the document
func (o *Orchestrator) unchanged(key, hash, outputPath string, docLog *logrus.Entry) bool {
	if !o.incremental {
		return false
	}
	stored, exists, err := o.store.GetContentHash(key)
	if err != nil {
		docLog.Warnf("Could not read stored hash, rebuilding: %v", err)
		return false
	}
	if !exists || stored != hash {
		return false
	}
	if _, err := os.Stat(outputPath); err != nil {
		docLog.Debugf("Output missing, rebuilding: %v", err)
		return false
	}
	return true
}

func (o *Orchestrator) writeMarkdownOutline(path string, res *process.Result) error {
	outline, err := render.Markdown(res.TOCHTML)
	if err != nil {
		return err
	}
	var b strings.Builder
	if res.Title != "" {
		b.WriteString("# " + res.Title + "\n\n")
	}
	b.WriteString(outline)
	return process.SaveFile(path, []byte(b.String()))
}

func (o *Orchestrator) recordFailure(key string, docCfg config.DocumentConfig, err error, docLog *logrus.Entry) {
	category := utils.CategorizeError(err)
	docLog.WithField("error_type", category).Errorf("Build failed: %v", err)
	o.recordStatus(key, &models.DocumentDBEntry{
		Status:      models.DocumentStatusFailure,
		Source:      docCfg.Source,
		ErrorType:   category,
		LastAttempt: time.Now(),
	}, docLog)
}

func (o *Orchestrator) recordStatus(key string, entry *models.DocumentDBEntry, docLog *logrus.Entry) {
	if o.store == nil {
		return
	}
	if err := o.store.UpdateDocumentStatus(key, entry); err != nil {
		docLog.Errorf("Failed to record status '%s': %v", entry.Status, err)
	}
}

// logSummary logs a summary of all build results
func (o *Orchestrator) logSummary(results []DocumentResult, totalDuration time.Duration) {
	o.log.Info("============================================")
	o.log.Infof("Build completed in %v", totalDuration)
	o.log.Info("Document Results:")

	built, skipped, failed, sections := 0, 0, 0, 0
	for _, r := range results {
		status := "BUILT"
		switch {
		case r.Error != nil:
			status = "FAILED"
			failed++
		case r.Skipped:
			status = "SKIPPED"
			skipped++
		default:
			built++
			sections += r.Sections
		}

		o.log.Infof("  %s: %s - %d sections in %v", r.Key, status, r.Sections, r.Duration)
		if r.Error != nil {
			o.log.Infof("    Error: %v", r.Error)
		}
	}

	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d documents (%d built, %d skipped, %d failed), %d sections numbered",
		len(results), built, skipped, failed, sections)
	o.log.Info("============================================")
}

// writeMetadataYAML writes a summary of the run next to the generated documents
func (o *Orchestrator) writeMetadataYAML(runID string, startTime time.Time, results []DocumentResult) error {
	meta := models.RunMetadata{
		RunID:       runID,
		StartTime:   startTime,
		EndTime:     time.Now(),
		Incremental: o.incremental,
		Documents:   make([]models.DocumentMetadata, 0, len(results)),
	}
	for _, r := range results {
		dm := models.DocumentMetadata{
			Key:         r.Key,
			Source:      r.Source,
			Title:       r.Title,
			Sections:    r.Sections,
			Tokens:      r.Tokens,
			ContentHash: r.ContentHash,
			Skipped:     r.Skipped,
			ProcessedAt: startTime.Add(r.Duration),
		}
		switch {
		case r.Error != nil:
			dm.Error = r.Error.Error()
			meta.DocumentsFailed++
		case r.Skipped:
			dm.OutputPath = filepath.ToSlash(r.OutputPath)
			meta.DocumentsSkipped++
		default:
			dm.OutputPath = filepath.ToSlash(r.OutputPath)
			meta.DocumentsBuilt++
		}
		meta.Documents = append(meta.Documents, dm)
	}

	yamlData, err := yaml.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("failed to marshal run metadata to YAML: %w", err)
	}
	path := filepath.Join(o.appCfg.OutputBaseDir, config.GetEffectiveMetadataYAMLFilename(*o.appCfg))
	if err := process.SaveFile(path, yamlData); err != nil {
		return err
	}
	o.log.Infof("Wrote run metadata (%d documents) to %s", len(meta.Documents), path)
	return nil
}

// ValidateDocumentKeys checks that all provided document keys exist in the config
func ValidateDocumentKeys(appCfg *config.AppConfig, keys []string) error {
	for _, key := range keys {
		if _, exists := appCfg.Documents[key]; !exists {
			return fmt.Errorf("document '%s' not found. Available documents: %v", key, GetAllDocumentKeys(appCfg))
		}
	}
	return nil
}

// GetAllDocumentKeys returns all document keys from the config in sorted order
func GetAllDocumentKeys(appCfg *config.AppConfig) []string {
	keys := make([]string, 0, len(appCfg.Documents))
	for k := range appCfg.Documents {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Failed returns the keys of documents that ended with an error
func Failed(results []DocumentResult) []string {
	var keys []string
	for _, r := range results {
		if r.Error != nil {
			keys = append(keys, r.Key)
		}
	}
	return keys
}
