package fetch

import (
	"context"

	"github.com/gocolly/colly/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-scraper/internal/model"
)

// DirectFetcher issues one GET per URL with a rotated header set.
type DirectFetcher struct {
	opts   Options
	robots *RobotsPolicy
	log    *zap.Logger
}

// NewDirect creates a DirectFetcher. robots may be nil to skip robots.txt
// checks.
func NewDirect(opts Options, robots *RobotsPolicy) *DirectFetcher {
	opts = opts.withDefaults()
	return &DirectFetcher{
		opts:   opts,
		robots: robots,
		log:    opts.Logger.With(zap.String("backend", string(BackendDirect))),
	}
}

// Fetch retrieves url. Transport errors become UNEXPECTED_ERROR results.
func (d *DirectFetcher) Fetch(ctx context.Context, url string) model.FetchResult {
	if err := ctx.Err(); err != nil {
		return unexpected(url, err)
	}
	if d.robots != nil && !d.robots.Allowed(ctx, url) {
		d.log.Info("fetch: disallowed by robots.txt", zap.String("url", url))
		return unexpected(url, eris.New("disallowed by robots.txt"))
	}

	var (
		status int
		body   []byte
	)

	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	c.SetRequestTimeout(d.opts.Timeout)

	headers := RandomHeaders()
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		for k := range headers {
			r.Headers.Set(k, headers.Get(k))
		}
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})

	if err := c.Visit(url); err != nil {
		return unexpected(url, err)
	}
	if err := ctx.Err(); err != nil {
		return unexpected(url, err)
	}
	if status == 0 {
		return unexpected(url, eris.New("no response received"))
	}

	html := string(body)
	v := gate(url, status, html, d.opts.MinContentLength)
	if !v.result.OK() {
		d.log.Warn("fetch: content rejected",
			zap.String("url", url),
			zap.String("status", v.result.StatusCode),
			zap.Int("html_length", len(html)),
		)
		if v.blocked || v.short {
			saveSample(d.opts.Debug, d.log, url, html)
		}
	}
	return v.result
}
