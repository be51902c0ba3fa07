package extract

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/listing-scraper/internal/model"
	"github.com/sells-group/listing-scraper/pkg/anthropic"
)

// extractDirect sends the whole (truncated) content in one call.
func (s *Service) extractDirect(ctx context.Context, it Item) model.ExtractionResult {
	log := s.log.With(zap.String("url", it.URL), zap.String("method", string(MethodDirect)))

	resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.ai.Model,
		MaxTokens: s.ai.MaxTokens,
		System:    s.systemBlocks(),
		Messages: []anthropic.Message{
			{Role: "user", Content: s.userContent(it, s.truncate(it.Content))},
		},
	})
	if err != nil {
		log.Error("extract: llm call failed", zap.Error(err))
		return ErrorEnvelope(s.schema.Kind, it.URL, "Direct API request failed: "+err.Error())
	}
	s.addUsage(resp.Usage)

	text := resp.Text()
	res, err := s.parseResponse(text)
	if err != nil {
		log.Error("extract: response rejected", zap.Error(err), zap.String("preview", preview(text)))
		return ErrorEnvelope(s.schema.Kind, it.URL, "Response validation failed: "+err.Error())
	}
	log.Info("extract: extracted", zap.Bool("success", res.Status().Success))
	return res
}

func preview(s string) string {
	const n = 500
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
