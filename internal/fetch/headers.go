package fetch

import (
	"math/rand/v2"
	"net/http"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36 Edg/123.0.0.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:124.0) Gecko/20100101 Firefox/124.0",
}

var acceptValues = []string{
	"text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
}

var acceptLanguages = []string{
	"es-DO,es;q=0.9,en;q=0.8",
	"es-ES,es;q=0.9,en-US;q=0.8,en;q=0.7",
	"en-US,en;q=0.9,es;q=0.8",
	"en-GB,en;q=0.9",
}

func pick(values []string) string {
	return values[rand.IntN(len(values))]
}

// RandomUserAgent returns one of the rotating browser user agents.
func RandomUserAgent() string {
	return pick(userAgents)
}

// RandomHeaders returns a realistic browser header set with a rotated
// user agent, accept and accept-language.
func RandomHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", RandomUserAgent())
	h.Set("Accept", pick(acceptValues))
	h.Set("Accept-Language", pick(acceptLanguages))
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Cache-Control", "max-age=0")
	return h
}
