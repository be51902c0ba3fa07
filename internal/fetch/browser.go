package fetch

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/chromedp/cdproto/cdp"
	cdpfetch "github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/listing-scraper/internal/model"
	"github.com/sells-group/listing-scraper/internal/resilience"
)

const maxBrowserWorkers = 3

// BrowserConfig configures the headless Chrome process.
type BrowserConfig struct {
	Headless   bool
	ChromePath string
	// Workers is the number of concurrent tabs. Capped at 3.
	Workers int
}

// BrowserFetcher renders pages in headless Chrome with image, stylesheet
// and font requests aborted, simulating a pointer move and a scroll to the
// bottom of the page before reading the final markup.
type BrowserFetcher struct {
	opts Options
	cfg  BrowserConfig
	log  *zap.Logger
}

// NewBrowser creates a BrowserFetcher.
func NewBrowser(opts Options, cfg BrowserConfig) *BrowserFetcher {
	opts = opts.withDefaults()
	if cfg.Workers <= 0 || cfg.Workers > maxBrowserWorkers {
		cfg.Workers = maxBrowserWorkers
	}
	return &BrowserFetcher{
		opts: opts,
		cfg:  cfg,
		log:  opts.Logger.With(zap.String("backend", string(BackendBrowser))),
	}
}

// Fetch renders a single URL in its own browser process.
func (b *BrowserFetcher) Fetch(ctx context.Context, url string) model.FetchResult {
	return b.FetchMany(ctx, []string{url})[0]
}

// FetchMany renders urls in tabs of one shared browser process, at most
// cfg.Workers at a time.
func (b *BrowserFetcher) FetchMany(ctx context.Context, urls []string) []model.FetchResult {
	results := make([]model.FetchResult, len(urls))
	if len(urls) == 0 {
		return results
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, b.allocatorOptions()...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	// Start the browser so tabs share it.
	if err := chromedp.Run(browserCtx); err != nil {
		b.log.Error("fetch: browser start failed", zap.Error(err))
		for i, u := range urls {
			results[i] = unexpected(u, eris.Wrap(err, "start browser"))
		}
		return results
	}

	g := new(errgroup.Group)
	g.SetLimit(b.cfg.Workers)
	for i, u := range urls {
		g.Go(func() error {
			results[i] = b.fetchTab(browserCtx, u)
			return nil
		})
	}
	_ = g.Wait()

	ok := 0
	for _, r := range results {
		if r.OK() {
			ok++
		}
	}
	b.log.Info("fetch: browser batch complete", zap.Int("urls", len(urls)), zap.Int("ok", ok))
	return results
}

func (b *BrowserFetcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.NoSandbox,
		chromedp.UserAgent(RandomUserAgent()),
		chromedp.WindowSize(1366, 768),
	)
	if b.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ChromePath))
	}
	return opts
}

func (b *BrowserFetcher) fetchTab(browserCtx context.Context, url string) model.FetchResult {
	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.opts.Timeout)
	defer cancelTimeout()

	blockResources(tabCtx)
	if err := chromedp.Run(tabCtx, cdpfetch.Enable()); err != nil {
		return unexpected(url, eris.Wrap(err, "enable interception"))
	}

	resp, err := chromedp.RunResponse(tabCtx, chromedp.Navigate(url))
	if err != nil {
		return unexpected(url, err)
	}
	status := 200
	if resp != nil && resp.Status > 0 {
		status = int(resp.Status)
	}

	var html string
	err = chromedp.Run(tabCtx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		humanPointer(),
		humanScroll(),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return unexpected(url, err)
	}

	v := gate(url, status, html, b.opts.MinContentLength)
	if v.result.OK() {
		return v.result
	}

	b.log.Warn("fetch: content rejected",
		zap.String("url", url),
		zap.String("status", v.result.StatusCode),
		zap.Int("html_length", len(html)),
	)
	if v.blocked || v.short {
		saveSample(b.opts.Debug, b.log, url, html)
		b.screenshot(tabCtx, url)
	}
	return v.result
}

func (b *BrowserFetcher) screenshot(ctx context.Context, url string) {
	if b.opts.Debug == nil {
		return
	}
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		b.log.Warn("fetch: screenshot failed", zap.String("url", url), zap.Error(err))
		return
	}
	path, err := b.opts.Debug.SaveScreenshot(url, buf)
	if err != nil {
		b.log.Warn("fetch: save screenshot failed", zap.String("url", url), zap.Error(err))
		return
	}
	b.log.Info("fetch: saved screenshot", zap.String("url", url), zap.String("path", path))
}

// blockedResource reports whether a request of type t is aborted.
func blockedResource(t network.ResourceType) bool {
	switch t {
	case network.ResourceTypeImage, network.ResourceTypeStylesheet, network.ResourceTypeFont:
		return true
	}
	return false
}

// blockResources fails paused image, stylesheet and font requests and lets
// everything else continue. Interception must be enabled on the tab.
func blockResources(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev any) {
		e, ok := ev.(*cdpfetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			c := chromedp.FromContext(ctx)
			if c == nil || c.Target == nil {
				return
			}
			exec := cdp.WithExecutor(ctx, c.Target)
			if blockedResource(e.ResourceType) {
				_ = cdpfetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(exec)
				return
			}
			_ = cdpfetch.ContinueRequest(e.RequestID).Do(exec)
		}()
	})
}

type point struct{ X, Y float64 }

// mousePath returns steps points from a to b with small random jitter.
// The last point is exactly b.
func mousePath(a, b point, steps int) []point {
	if steps < 1 {
		steps = 1
	}
	path := make([]point, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		// ease in/out
		t = t * t * (3 - 2*t)
		p := point{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t}
		if i < steps {
			p.X += rand.Float64()*6 - 3
			p.Y += rand.Float64()*6 - 3
		}
		path[i-1] = p
	}
	return path
}

// scrollSteps returns how many increments reach the bottom of a page of
// the given height, between 3 and 5.
func scrollSteps(scrollHeight, innerHeight float64) int {
	n := 3
	if innerHeight > 0 {
		n = int(math.Ceil(scrollHeight / innerHeight))
	}
	return min(max(n, 3), 5)
}

func pause(ctx context.Context, lo, hi time.Duration) error {
	return resilience.Sleep(ctx, resilience.Between(lo, hi))
}

// humanPointer moves the mouse across the viewport in 5 to 20 steps.
func humanPointer() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var vp []float64
		if err := chromedp.Evaluate(`[window.innerWidth, window.innerHeight]`, &vp).Do(ctx); err != nil {
			return eris.Wrap(err, "read viewport")
		}
		w, h := 1366.0, 768.0
		if len(vp) == 2 && vp[0] > 0 && vp[1] > 0 {
			w, h = vp[0], vp[1]
		}
		from := point{X: rand.Float64() * w, Y: rand.Float64() * h}
		to := point{X: rand.Float64() * w, Y: rand.Float64() * h}
		for _, p := range mousePath(from, to, 5+rand.IntN(16)) {
			if err := input.DispatchMouseEvent(input.MouseMoved, p.X, p.Y).Do(ctx); err != nil {
				return eris.Wrap(err, "move mouse")
			}
			if err := pause(ctx, 10*time.Millisecond, 40*time.Millisecond); err != nil {
				return err
			}
		}
		return nil
	})
}

// humanScroll scrolls to the bottom in increments sized from the page and
// viewport heights, then back to the top.
func humanScroll() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var dims []float64
		if err := chromedp.Evaluate(`[document.body.scrollHeight, window.innerHeight]`, &dims).Do(ctx); err != nil {
			return eris.Wrap(err, "read page height")
		}
		if len(dims) != 2 {
			return nil
		}
		steps := scrollSteps(dims[0], dims[1])
		for i := 1; i <= steps; i++ {
			y := dims[0] * float64(i) / float64(steps)
			if err := chromedp.Evaluate(scrollTo(y), nil).Do(ctx); err != nil {
				return eris.Wrap(err, "scroll")
			}
			if err := pause(ctx, 200*time.Millisecond, 600*time.Millisecond); err != nil {
				return err
			}
		}
		return chromedp.Evaluate(scrollTo(0), nil).Do(ctx)
	})
}

func scrollTo(y float64) string {
	return fmt.Sprintf("window.scrollTo(0, %.0f)", y)
}
