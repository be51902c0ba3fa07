// Package extract turns normalized page content into validated structured
// results with an LLM. Two methods are available: direct sends the content
// in one call; assisted splits long content into overlapping chunks and
// retries the whole attempt with backoff. A failed result from one method
// is retried once with the other.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/listing-scraper/internal/config"
	"github.com/sells-group/listing-scraper/internal/model"
	"github.com/sells-group/listing-scraper/internal/resilience"
	"github.com/sells-group/listing-scraper/pkg/anthropic"
)

// Method selects an extraction strategy.
type Method string

const (
	MethodDirect   Method = "direct"
	MethodAssisted Method = "assisted"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool { return m == MethodDirect || m == MethodAssisted }

// other returns the fallback method for m.
func (m Method) other() Method {
	if m == MethodDirect {
		return MethodAssisted
	}
	return MethodDirect
}

// Item is one page to extract from.
type Item struct {
	URL            string
	Content        string
	StructuredData []any
	// Query is the search term behind a search result page, if known.
	Query string
}

const (
	defaultBatchSize  = 3
	defaultChunkChars = 16000
	defaultMaxTokens  = 8192
)

// Options carries optional collaborators.
type Options struct {
	Logger *zap.Logger
	Fence  LocationFence
}

// Service extracts one schema kind.
type Service struct {
	schema *Schema
	client anthropic.Client
	ai     config.AnthropicConfig
	cfg    config.ExtractConfig
	fence  LocationFence
	log    *zap.Logger

	mu    sync.Mutex
	usage anthropic.TokenUsage
}

// NewService creates a Service for kind.
func NewService(kind model.SchemaKind, client anthropic.Client, ai config.AnthropicConfig, cfg config.ExtractConfig, opts Options) (*Service, error) {
	if client == nil {
		return nil, eris.New("extract: nil client")
	}
	schema, err := LoadSchema(kind)
	if err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkChars
	}
	if cfg.MaxRetryAttempts < 0 {
		cfg.MaxRetryAttempts = 0
	}
	if ai.MaxTokens <= 0 {
		ai.MaxTokens = defaultMaxTokens
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		schema: schema,
		client: client,
		ai:     ai,
		cfg:    cfg,
		fence:  opts.Fence,
		log:    log.With(zap.String("schema", string(kind))),
	}, nil
}

// Kind returns the schema kind the service extracts.
func (s *Service) Kind() model.SchemaKind { return s.schema.Kind }

// Usage returns the accumulated token usage.
func (s *Service) Usage() anthropic.TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

func (s *Service) addUsage(u anthropic.TokenUsage) {
	s.mu.Lock()
	s.usage.Add(u)
	s.mu.Unlock()
}

// Extract processes items in sequential batches of cfg.BatchSize with the
// items of a batch running concurrently. The output is index-aligned with
// items and never contains nil; failures are error envelopes.
func (s *Service) Extract(ctx context.Context, items []Item, method Method) []model.ExtractionResult {
	results := make([]model.ExtractionResult, len(items))
	if len(items) == 0 {
		return results
	}
	if !method.Valid() {
		for i, it := range items {
			results[i] = ErrorEnvelope(s.schema.Kind, it.URL, fmt.Sprintf("unsupported extraction method %q", method))
		}
		return results
	}

	size := s.cfg.BatchSize
	totalBatches := (len(items)-1)/size + 1
	s.log.Info("extract: starting",
		zap.Int("items", len(items)),
		zap.String("method", string(method)),
		zap.Int("batches", totalBatches),
	)

	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batchNum := start/size + 1

		if err := ctx.Err(); err != nil {
			for i := start; i < len(items); i++ {
				results[i] = ErrorEnvelope(s.schema.Kind, items[i].URL, "extraction cancelled: "+err.Error())
			}
			break
		}

		s.log.Info("extract: processing batch",
			zap.Int("batch", batchNum),
			zap.Int("total_batches", totalBatches),
			zap.Int("items", end-start),
		)

		g := new(errgroup.Group)
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = s.extractOne(ctx, items[i], method)
				return nil
			})
		}
		_ = g.Wait()

		if end < len(items) {
			delay := resilience.Between(
				time.Duration(s.cfg.BatchDelayMinMS)*time.Millisecond,
				time.Duration(s.cfg.BatchDelayMaxMS)*time.Millisecond,
			)
			s.log.Debug("extract: inter-batch delay", zap.Duration("delay", delay))
			_ = resilience.Sleep(ctx, delay)
		}
	}

	ok := model.CountSuccessful(results)
	rate := float64(ok) / float64(len(results)) * 100
	s.log.Info("extract: complete",
		zap.Int("results", len(results)),
		zap.Int("successful", ok),
		zap.String("success_rate", fmt.Sprintf("%.1f%%", rate)),
	)
	s.Usage().LogCost(s.log, s.ai.Model, string(method))
	return results
}

// extractOne runs the primary method and, when enabled, the other method
// if the primary result is unsuccessful. The fallback result is final.
func (s *Service) extractOne(ctx context.Context, it Item, method Method) (res model.ExtractionResult) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("extract: panic", zap.String("url", it.URL), zap.Any("panic", r))
			res = ErrorEnvelope(s.schema.Kind, it.URL, fmt.Sprintf("panic during extraction: %v", r))
		}
	}()

	res = s.run(ctx, it, method)
	if res.Status().Success || !s.cfg.Fallback || ctx.Err() != nil {
		return res
	}

	fallback := method.other()
	s.log.Warn("extract: primary method failed, trying fallback",
		zap.String("url", it.URL),
		zap.String("method", string(method)),
		zap.String("fallback", string(fallback)),
		zap.String("error", res.Status().ErrorDetails),
	)
	return s.run(ctx, it, fallback)
}

func (s *Service) run(ctx context.Context, it Item, method Method) model.ExtractionResult {
	if method == MethodAssisted {
		return s.extractAssisted(ctx, it)
	}
	return s.extractDirect(ctx, it)
}

// userContent renders an item for the user turn.
func (s *Service) userContent(it Item, content string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source URL: %s\n", it.URL)
	if it.Query != "" {
		fmt.Fprintf(&b, "Search query: %s\n", it.Query)
	}
	b.WriteString("\nPage content:\n")
	b.WriteString(content)
	if len(it.StructuredData) > 0 {
		if data, err := json.Marshal(it.StructuredData); err == nil {
			b.WriteString("\n\nStructured data blocks:\n")
			b.Write(data)
		}
	}
	return b.String()
}

func (s *Service) systemBlocks() []anthropic.SystemBlock {
	return anthropic.BuildCachedSystemBlocks(systemPrompt(s.schema.Kind) + "\n\n## JSON SCHEMA\n" + s.schema.Raw)
}

func (s *Service) truncate(content string) string {
	limit := s.cfg.MaxContentChars
	if limit <= 0 || len(content) <= limit {
		return content
	}
	cut := limit
	// Do not split a UTF-8 sequence.
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}
