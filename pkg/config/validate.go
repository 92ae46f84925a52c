package config

import (
	"fmt"
	"time"

	"doc-toc/pkg/toc"
	"doc-toc/pkg/utils"
)

// DefaultUserAgent is sent when no user agent is configured
const DefaultUserAgent = "doc-toc/1.0"

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.NumWorkers <= 0 {
		warnings = append(warnings, "num_workers should be > 0, defaulting to 4")
		c.NumWorkers = 4
	}

	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './toc_output'")
		c.OutputBaseDir = "./toc_output"
	}

	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './toc_state'")
		c.StateDir = "./toc_state"
	}

	if c.DefaultUserAgent == "" {
		c.DefaultUserAgent = DefaultUserAgent
	}

	if c.DefaultDelayPerHost < 0 {
		warnings = append(warnings, "default_delay_per_host cannot be negative, setting to 0")
		c.DefaultDelayPerHost = 0
	}

	if c.MaxRequestsPerHost <= 0 {
		c.MaxRequestsPerHost = 2
	}

	// Heading policy is the one fatal global check: a typo would silently change numbering
	if c.HeadingPolicy != "" {
		if _, perr := toc.ParsePolicy(c.HeadingPolicy); perr != nil {
			return warnings, utils.WrapErrorf(utils.ErrConfigValidation, "%v", perr)
		}
	}

	if c.TokenizerEncoding == "" {
		c.TokenizerEncoding = "cl100k_base"
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}

	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	if c.MaxDocumentSizeBytes < 0 {
		warnings = append(warnings, "max_document_size_bytes cannot be negative, setting to 0 (unlimited)")
		c.MaxDocumentSizeBytes = 0
	}

	if c.GlobalBuildTimeout < 0 {
		warnings = append(warnings, "global_build_timeout cannot be negative, disabling timeout")
		c.GlobalBuildTimeout = 0
	}

	if c.PerDocumentTimeout < 0 {
		warnings = append(warnings, "per_document_timeout cannot be negative, disabling timeout")
		c.PerDocumentTimeout = 0
	}

	c.validateHTTPClientSettings()

	if c.EnableMetadataYAML && c.MetadataYAMLFilename == "" {
		warnings = append(warnings,
			"Global 'enable_metadata_yaml' is true but 'metadata_yaml_filename' is empty. "+
				"Defaulting to 'toc_metadata.yaml'")
		c.MetadataYAMLFilename = "toc_metadata.yaml"
	}

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks DocumentConfig fields.
// Returns collected warnings and any fatal error.
func (c *DocumentConfig) Validate() (warnings []string, err error) {
	if c.Source == "" {
		return nil, utils.WrapErrorf(utils.ErrConfigValidation, "document has no source")
	}

	switch c.Kind {
	case "", "html", "htm", "markdown", "md":
	default:
		return nil, utils.WrapErrorf(utils.ErrConfigValidation, "unknown document kind %q (want html or markdown)", c.Kind)
	}

	if c.HeadingPolicy != "" {
		if _, perr := toc.ParsePolicy(c.HeadingPolicy); perr != nil {
			return nil, utils.WrapErrorf(utils.ErrConfigValidation, "%v", perr)
		}
	}

	if c.DelayPerHost < 0 {
		warnings = append(warnings, "Document delay_per_host cannot be negative, using global default")
		c.DelayPerHost = 0
	}

	if !c.IsRemote() && c.UserAgent != "" {
		warnings = append(warnings, "Document user_agent is ignored for local sources")
	}

	return warnings, nil
}
