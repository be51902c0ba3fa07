package fetch

import (
	"context"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
)

func TestMousePath(t *testing.T) {
	t.Parallel()

	from, to := point{X: 10, Y: 10}, point{X: 500, Y: 300}
	for _, steps := range []int{5, 12, 20} {
		path := mousePath(from, to, steps)
		assert.Len(t, path, steps)
		assert.Equal(t, to, path[len(path)-1])
	}
	assert.Len(t, mousePath(from, to, 0), 1)
}

func TestScrollSteps(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 3, scrollSteps(500, 800))
	assert.Equal(t, 3, scrollSteps(2400, 800))
	assert.Equal(t, 4, scrollSteps(3000, 800))
	assert.Equal(t, 5, scrollSteps(20000, 800))
	assert.Equal(t, 3, scrollSteps(5000, 0))
}

func TestBlockedResource(t *testing.T) {
	t.Parallel()

	assert.True(t, blockedResource(network.ResourceTypeImage))
	assert.True(t, blockedResource(network.ResourceTypeStylesheet))
	assert.True(t, blockedResource(network.ResourceTypeFont))
	assert.False(t, blockedResource(network.ResourceTypeDocument))
	assert.False(t, blockedResource(network.ResourceTypeScript))
}

func TestNewBrowser_CapsWorkers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 3, NewBrowser(Options{}, BrowserConfig{Workers: 8}).cfg.Workers)
	assert.Equal(t, 2, NewBrowser(Options{}, BrowserConfig{Workers: 2}).cfg.Workers)
	assert.Equal(t, 3, NewBrowser(Options{}, BrowserConfig{}).cfg.Workers)
}

func TestFetchMany_Empty(t *testing.T) {
	t.Parallel()

	out := NewBrowser(Options{}, BrowserConfig{Headless: true}).FetchMany(context.Background(), nil)
	assert.Empty(t, out)
}

func TestScrollTo(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "window.scrollTo(0, 1250)", scrollTo(1250.4))
}
