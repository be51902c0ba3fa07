// Package search builds search-engine query URLs for listing discovery.
package search

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrInvalidArgument is returned when a query cannot be built.
var ErrInvalidArgument = eris.New("search: invalid argument")

const (
	DefaultBaseURL = "https://www.google.com/search"
	DefaultNum     = 50
	minNum         = 10
	maxNum         = 100
)

// TimeFilter restricts results to a recent period.
type TimeFilter string

const (
	AnyTime   TimeFilter = ""
	PastDay   TimeFilter = "d"
	PastWeek  TimeFilter = "w"
	PastMonth TimeFilter = "m"
	PastYear  TimeFilter = "y"
)

// Options shape a search URL. The zero value produces a plain query with
// the default page size.
type Options struct {
	Category       Category   `yaml:"category" json:"category,omitempty"`
	ExactPhrase    string     `yaml:"exact_phrase" json:"exact_phrase,omitempty"`
	Location       string     `yaml:"location" json:"location,omitempty"`
	IncludeWords   []string   `yaml:"include_words" json:"include_words,omitempty"`
	ExcludeWords   []string   `yaml:"exclude_words" json:"exclude_words,omitempty"`
	Site           string     `yaml:"site" json:"site,omitempty"`
	Related        string     `yaml:"related" json:"related,omitempty"`
	IncludeDomains []string   `yaml:"include_domains" json:"include_domains,omitempty"`
	ExcludeDomains []string   `yaml:"exclude_domains" json:"exclude_domains,omitempty"`
	FileType       string     `yaml:"file_type" json:"file_type,omitempty"`
	Num            int        `yaml:"num" json:"num,omitempty"`
	Country        string     `yaml:"country" json:"country,omitempty"`
	Language       string     `yaml:"language" json:"language,omitempty"`
	Start          int        `yaml:"start" json:"start,omitempty"`
	TimeFilter     TimeFilter `yaml:"time_filter" json:"time_filter,omitempty"`
	SiteSearch     string     `yaml:"site_search" json:"site_search,omitempty"`
	TitleWord      string     `yaml:"title_word" json:"title_word,omitempty"`
	BaseURL        string     `yaml:"base_url" json:"base_url,omitempty"`
}

// Merge returns o with empty fields filled from defaults.
func (o Options) Merge(defaults Options) Options {
	if o.Country == "" {
		o.Country = defaults.Country
	}
	if o.Language == "" {
		o.Language = defaults.Language
	}
	if o.Num == 0 {
		o.Num = defaults.Num
	}
	if o.BaseURL == "" {
		o.BaseURL = defaults.BaseURL
	}
	if o.Location == "" {
		o.Location = defaults.Location
	}
	return o
}

// Build returns the search URL for term. It fails only when term is blank.
func Build(term string, opts Options) (string, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return "", eris.Wrap(ErrInvalidArgument, "search term is empty")
	}

	params := url.Values{}
	params.Set("q", buildQuery(term, opts))
	params.Set("num", strconv.Itoa(clampNum(opts.Num)))
	params.Set("start", strconv.Itoa(max(opts.Start, 0)))

	if cc := strings.ToUpper(strings.TrimSpace(opts.Country)); cc != "" {
		params.Set("cr", "country"+cc)
		params.Set("gl", cc)
	}
	if lang := strings.ToLower(strings.TrimSpace(opts.Language)); lang != "" {
		params.Set("hl", lang)
		params.Set("lr", "lang_"+lang)
	}
	if opts.TimeFilter != AnyTime {
		params.Set("tbs", "qdr:"+string(opts.TimeFilter))
	}
	if opts.SiteSearch != "" {
		params.Set("as_sitesearch", opts.SiteSearch)
	}
	if opts.TitleWord != "" {
		params.Set("as_title", opts.TitleWord)
	}

	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return base + "?" + params.Encode(), nil
}

func buildQuery(term string, opts Options) string {
	parts := []string{term}

	if opts.ExactPhrase != "" {
		parts = append(parts, quote(opts.ExactPhrase))
	}
	for _, kw := range opts.Category.hintKeywords() {
		parts = append(parts, quote(kw))
	}
	if opts.Location != "" {
		parts = append(parts, quote(opts.Location))
	}
	if group := orGroup(opts.IncludeWords, quote); group != "" {
		parts = append(parts, group)
	}
	for _, w := range nonEmpty(opts.ExcludeWords) {
		parts = append(parts, "-"+quote(w))
	}
	if opts.Site != "" {
		parts = append(parts, "site:"+opts.Site)
	}
	if opts.Related != "" {
		parts = append(parts, "related:"+opts.Related)
	}
	if group := orGroup(opts.IncludeDomains, sitePrefix); group != "" {
		parts = append(parts, group)
	}
	for _, d := range nonEmpty(opts.ExcludeDomains) {
		parts = append(parts, "-site:"+d)
	}
	if opts.FileType != "" {
		parts = append(parts, "filetype:"+opts.FileType)
	}
	return strings.Join(parts, " ")
}

func clampNum(n int) int {
	if n == 0 {
		return DefaultNum
	}
	return min(max(n, minNum), maxNum)
}

func quote(s string) string { return `"` + s + `"` }

func sitePrefix(s string) string { return "site:" + s }

func orGroup(items []string, format func(string) string) string {
	items = nonEmpty(items)
	if len(items) == 0 {
		return ""
	}
	formatted := make([]string, len(items))
	for i, it := range items {
		formatted[i] = format(it)
	}
	return "(" + strings.Join(formatted, " OR ") + ")"
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}
