package extract

import (
	"context"
	"fmt"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/listing-scraper/internal/model"
	"github.com/sells-group/listing-scraper/internal/resilience"
	"github.com/sells-group/listing-scraper/pkg/anthropic"
)

// maxChunkConcurrency bounds concurrent chunk calls for one item.
const maxChunkConcurrency = 3

// extractAssisted chunks the content, extracts each chunk with a prefilled
// JSON response, and merges the chunk results. The whole attempt is
// retried with exponential backoff.
func (s *Service) extractAssisted(ctx context.Context, it Item) model.ExtractionResult {
	log := s.log.With(zap.String("url", it.URL), zap.String("method", string(MethodAssisted)))

	chunks := chunkText(s.truncate(it.Content), s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	retry := resilience.RetryConfig{
		MaxAttempts:    s.cfg.MaxRetryAttempts + 1,
		InitialBackoff: time.Duration(s.cfg.RetryDelayMS) * time.Millisecond,
		Multiplier:     2.0,
		OnRetry:        resilience.RetryLogger(log, "assisted extraction"),
	}

	res, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (model.ExtractionResult, error) {
		return s.assistedAttempt(ctx, it, chunks)
	})
	if err != nil {
		log.Error("extract: all assisted attempts failed", zap.Error(err), zap.Int("chunks", len(chunks)))
		return ErrorEnvelope(s.schema.Kind, it.URL, "All extraction attempts failed: "+err.Error())
	}
	log.Info("extract: extracted", zap.Bool("success", res.Status().Success), zap.Int("chunks", len(chunks)))
	return res
}

// assistedAttempt extracts every chunk. Any LLM error fails the attempt;
// chunks whose responses do not validate are skipped unless all of them
// fail.
func (s *Service) assistedAttempt(ctx context.Context, it Item, chunks []string) (model.ExtractionResult, error) {
	parts := make([]model.ExtractionResult, len(chunks))
	errs := make([]error, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxChunkConcurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			res, llmFailed, err := s.extractChunk(gctx, it, chunk, i, len(chunks))
			if llmFailed {
				return err
			}
			parts[i], errs[i] = res, err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var valid []model.ExtractionResult
	for i, p := range parts {
		if errs[i] == nil && p != nil {
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		return nil, eris.Wrap(errs[0], "no chunk produced a valid result")
	}
	return mergeResults(s.schema.Kind, valid), nil
}

// extractChunk returns llmFailed=true when the call itself failed.
func (s *Service) extractChunk(ctx context.Context, it Item, chunk string, idx, total int) (model.ExtractionResult, bool, error) {
	content := chunk
	if total > 1 {
		content = fmt.Sprintf("[Chunk %d of %d]\n%s", idx+1, total, chunk)
	}
	chunkItem := it
	if idx > 0 {
		// Structured data is sent once.
		chunkItem.StructuredData = nil
	}

	resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.ai.Model,
		MaxTokens: s.ai.MaxTokens,
		System:    s.systemBlocks(),
		Messages: []anthropic.Message{
			{Role: "user", Content: s.userContent(chunkItem, content)},
			{Role: "assistant", Content: "{"},
		},
	})
	if err != nil {
		return nil, true, eris.Wrapf(err, "chunk %d/%d", idx+1, total)
	}
	s.addUsage(resp.Usage)

	text := "{" + resp.Text()
	res, err := s.parseResponse(text)
	if err != nil {
		s.log.Debug("extract: chunk rejected",
			zap.String("url", it.URL),
			zap.Int("chunk", idx+1),
			zap.Error(err),
			zap.String("preview", preview(text)),
		)
		return nil, false, eris.Wrapf(err, "chunk %d/%d", idx+1, total)
	}
	return res, false, nil
}

// chunkText splits s into windows of at most size runes overlapping by
// the given fraction. Window ends are moved back to whitespace when one is
// close.
func chunkText(s string, size int, overlap float64) []string {
	runes := []rune(s)
	if size <= 0 || len(runes) <= size {
		return []string{s}
	}
	if overlap < 0 || overlap >= 1 {
		overlap = 0
	}
	step := size - int(float64(size)*overlap)
	if step <= 0 {
		step = size
	}

	var chunks []string
	for start := 0; start < len(runes); {
		end := min(start+size, len(runes))
		if end < len(runes) {
			// Prefer a break within the last tenth of the window.
			for j := end; j > end-size/10 && j > start; j-- {
				if unicode.IsSpace(runes[j-1]) {
					end = j
					break
				}
			}
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		next := end - (size - step)
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// mergeResults combines chunk results. Metadata comes from the first
// successful chunk; entities and URLs are concatenated and deduplicated.
func mergeResults(kind model.SchemaKind, parts []model.ExtractionResult) model.ExtractionResult {
	if len(parts) == 1 {
		return parts[0]
	}
	if kind == model.SchemaSearch {
		return mergeSearch(parts)
	}
	return mergeWebsite(parts)
}

func firstSuccessful(parts []model.ExtractionResult) int {
	for i, p := range parts {
		if p.Status().Success {
			return i
		}
	}
	return 0
}

func mergeWebsite(parts []model.ExtractionResult) model.ExtractionResult {
	base := *parts[firstSuccessful(parts)].(*model.WebsiteExtraction)
	out := &model.WebsiteExtraction{Metadata: base.Metadata}
	out.Metadata.RelevantURLs = nil

	seenEntity := map[string]bool{}
	seenURL := map[string]bool{}
	for _, p := range parts {
		w := p.(*model.WebsiteExtraction)
		for _, ru := range w.Metadata.RelevantURLs {
			if !seenURL[ru.URL] {
				seenURL[ru.URL] = true
				out.Metadata.RelevantURLs = append(out.Metadata.RelevantURLs, ru)
			}
		}
		if !w.Metadata.Result.Success {
			continue
		}
		for _, e := range w.Entities {
			key := e.IdentityKey()
			if key != "" && seenEntity[key] {
				continue
			}
			if key != "" {
				seenEntity[key] = true
			}
			out.Entities = append(out.Entities, e)
		}
	}
	if len(out.Entities) > 0 {
		out.Metadata.Result.Success = true
		out.Metadata.Result.Error = ""
		out.Metadata.Result.ErrorDetails = ""
	}
	out.Normalize()
	return out
}

func mergeSearch(parts []model.ExtractionResult) model.ExtractionResult {
	base := *parts[firstSuccessful(parts)].(*model.SearchExtraction)
	out := &model.SearchExtraction{Metadata: base.Metadata}

	seen := map[string]bool{}
	for _, p := range parts {
		se := p.(*model.SearchExtraction)
		if !se.Metadata.Result.Success {
			continue
		}
		for _, u := range se.URLs {
			if !seen[u.URL] {
				seen[u.URL] = true
				out.URLs = append(out.URLs, u)
			}
		}
	}
	if len(out.URLs) > 0 {
		out.Metadata.Result.Success = true
		out.Metadata.Result.Error = ""
		out.Metadata.Result.ErrorDetails = ""
	}
	out.Normalize()
	return out
}
