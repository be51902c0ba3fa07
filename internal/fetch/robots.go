package fetch

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// RobotsPolicy answers whether an agent may fetch a URL according to the
// host's robots.txt. Files are fetched once per host and cached. Hosts
// whose robots.txt cannot be retrieved are treated as allowing everything.
type RobotsPolicy struct {
	agent  string
	client *http.Client
	log    *zap.Logger

	mu    sync.Mutex
	hosts map[string]*robotstxt.RobotsData
}

// NewRobotsPolicy creates a policy for agent.
func NewRobotsPolicy(agent string, timeout time.Duration, log *zap.Logger) *RobotsPolicy {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RobotsPolicy{
		agent:  agent,
		client: &http.Client{Timeout: timeout},
		log:    log,
		hosts:  make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether rawURL may be fetched.
func (p *RobotsPolicy) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	data := p.load(ctx, u)
	if data == nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.FindGroup(p.agent).Test(path)
}

func (p *RobotsPolicy) load(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	key := u.Scheme + "://" + u.Host

	p.mu.Lock()
	data, ok := p.hosts[key]
	p.mu.Unlock()
	if ok {
		return data
	}

	data = p.fetch(ctx, key+"/robots.txt")

	p.mu.Lock()
	p.hosts[key] = data
	p.mu.Unlock()
	return data
}

func (p *RobotsPolicy) fetch(ctx context.Context, robotsURL string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", p.agent)

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Debug("fetch: robots.txt unavailable", zap.String("url", robotsURL), zap.Error(err))
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		p.log.Debug("fetch: robots.txt unparsable", zap.String("url", robotsURL), zap.Error(err))
		return nil
	}
	return data
}
