// Package fetch retrieves raw page markup for the extraction pipeline. Two
// backends are provided: a direct HTTP fetcher built on colly and a headless
// browser fetcher built on chromedp. Both report failures as FetchResult
// values and never retry.
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-scraper/internal/model"
)

// Backend names a fetch implementation.
type Backend string

const (
	BackendDirect  Backend = "direct"
	BackendBrowser Backend = "browser"
)

// Valid reports whether b is a known backend.
func (b Backend) Valid() bool {
	return b == BackendDirect || b == BackendBrowser
}

const (
	// DefaultMinContentLength is the shortest page accepted as real content.
	DefaultMinContentLength = 20000

	// SearchMinContentLength is used for search-engine result pages.
	SearchMinContentLength = 30000

	defaultTimeout = 30 * time.Second

	// htmlSampleChars bounds the markup kept for failed fetches.
	htmlSampleChars = 5000
)

// Fetcher retrieves a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) model.FetchResult
}

// ManyFetcher retrieves a list of URLs. The output is index-aligned with
// the input.
type ManyFetcher interface {
	Fetcher
	FetchMany(ctx context.Context, urls []string) []model.FetchResult
}

// DebugSink receives diagnostics for pages that failed the content gate.
type DebugSink interface {
	SaveHTMLSample(url, html string) (string, error)
	SaveScreenshot(url string, png []byte) (string, error)
}

// Options are shared by both backends.
type Options struct {
	// MinContentLength is the content gate threshold. Zero means
	// DefaultMinContentLength.
	MinContentLength int

	// Timeout bounds one fetch. Zero means 30s.
	Timeout time.Duration

	// Debug, when set, receives HTML samples and screenshots.
	Debug DebugSink

	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MinContentLength <= 0 {
		o.MinContentLength = DefaultMinContentLength
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// verdict is the outcome of running fetched markup through the gate.
type verdict struct {
	result  model.FetchResult
	blocked bool
	short   bool
}

// gate decides whether a page with the given HTTP status and markup is
// usable content.
func gate(url string, status int, html string, minLen int) verdict {
	if status != 200 {
		return verdict{result: model.FetchHTTPFailure(url, status, validationMessage(url, status, len(html), minLen))}
	}
	if len(html) >= minLen {
		return verdict{result: model.FetchSuccess(url, html)}
	}
	if signal := DetectBlock(html); signal.Blocked() {
		msg := fmt.Sprintf("Blocking detected on '%s' (%s: %q). HTML length: %d", url, signal.Type, signal.Match, len(html))
		return verdict{result: model.FetchFailure(url, model.StatusCaptchaDetected, msg), blocked: true}
	}
	return verdict{
		result: model.FetchFailure(url, model.StatusHTMLTooShort, validationMessage(url, status, len(html), minLen)),
		short:  true,
	}
}

func validationMessage(url string, status, length, minLen int) string {
	return fmt.Sprintf("Content validation failed for '%s'. Status: %d, HTML length: %d (minimum required: %d)",
		url, status, length, minLen)
}

func unexpected(url string, err error) model.FetchResult {
	return model.FetchFailure(url, model.StatusUnexpectedError,
		fmt.Sprintf("Unexpected error during direct scraping of '%s': %v", url, err))
}

// saveSample writes the leading part of html to the sink, if any.
func saveSample(sink DebugSink, log *zap.Logger, url, html string) {
	if sink == nil || html == "" {
		return
	}
	if len(html) > htmlSampleChars {
		html = html[:htmlSampleChars]
	}
	path, err := sink.SaveHTMLSample(url, html)
	if err != nil {
		log.Warn("fetch: save html sample failed", zap.String("url", url), zap.Error(err))
		return
	}
	log.Debug("fetch: saved html sample", zap.String("url", url), zap.String("path", path))
}

// New builds the fetcher for backend. robots is only consulted by the
// direct backend and may be nil.
func New(backend Backend, opts Options, browser BrowserConfig, robots *RobotsPolicy) (Fetcher, error) {
	switch backend {
	case BackendDirect:
		return NewDirect(opts, robots), nil
	case BackendBrowser:
		return NewBrowser(opts, browser), nil
	}
	return nil, eris.Errorf("fetch: unknown backend %q", backend)
}
