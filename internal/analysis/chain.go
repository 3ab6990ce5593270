package analysis

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/hpungsan/malaise/internal/config"
	"github.com/hpungsan/malaise/internal/errors"
)

// Chain tries analyzers in order and returns the first success.
type Chain struct {
	analyzers []Analyzer
	logger    *slog.Logger
}

// NewChain creates a Chain over analyzers.
func NewChain(logger *slog.Logger, analyzers ...Analyzer) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{analyzers: analyzers, logger: logger}
}

// Names returns the analyzer names in order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.analyzers))
	for i, a := range c.analyzers {
		names[i] = a.Name()
	}
	return names
}

// Name implements Analyzer.
func (c *Chain) Name() string { return "chain" }

// Analyze implements Analyzer. It returns ANALYSIS_FAILED when every
// analyzer failed and CANCELLED when ctx ends first.
func (c *Chain) Analyze(ctx context.Context, req Request) (*Result, error) {
	var lastErr error
	for _, a := range c.analyzers {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled("analysis")
		}
		res, err := a.Analyze(ctx, req)
		if err != nil {
			c.logger.Warn("analyzer failed, trying next", "analyzer", a.Name(), "error", err)
			lastErr = err
			continue
		}
		res.Source = a.Name()
		if res.Disclaimer == "" {
			res.Disclaimer = Disclaimer
		}
		c.logger.Debug("analysis complete", "analyzer", a.Name())
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, errors.NewCancelled("analysis")
	}
	c.logger.Error("all analyzers failed", "analyzers", c.Names(), "error", lastErr)
	return nil, errors.NewAnalysisFailed(c.Names(), lastErr)
}

// FromConfig builds the chain in the order of cfg.Analyzers. The OpenAI key
// is read from OPENAI_API_KEY; without it the OpenAI analyzer is skipped.
// Unknown names and analyzers that cannot be constructed are skipped with a warning.
func FromConfig(cfg *config.Config, logger *slog.Logger) *Chain {
	return fromConfig(cfg, os.Getenv("OPENAI_API_KEY"), logger)
}

func fromConfig(cfg *config.Config, apiKey string, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	var analyzers []Analyzer
	for _, name := range cfg.Analyzers {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case config.AnalyzerOllama:
			a, err := NewOllama(cfg.OllamaHost, cfg.OllamaModel)
			if err != nil {
				logger.Warn("ollama analyzer unavailable", "error", err)
				continue
			}
			analyzers = append(analyzers, a)
		case config.AnalyzerOpenAI:
			if apiKey == "" {
				logger.Debug("OPENAI_API_KEY not set, skipping openai analyzer")
				continue
			}
			a, err := NewOpenAI(apiKey, cfg.OpenAIModel)
			if err != nil {
				logger.Warn("openai analyzer unavailable", "error", err)
				continue
			}
			analyzers = append(analyzers, a)
		case config.AnalyzerRules:
			analyzers = append(analyzers, Rules{})
		default:
			logger.Warn("unknown analyzer in config, skipping", "analyzer", name)
		}
	}
	return NewChain(logger, analyzers...)
}
