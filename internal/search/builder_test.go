package search

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, raw string) (string, url.Values) {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Scheme + "://" + u.Host + u.Path, u.Query()
}

func TestBuild_EmptyTerm(t *testing.T) {
	t.Parallel()

	for _, term := range []string{"", "   ", "\t\n"} {
		_, err := Build(term, Options{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidArgument))
	}
}

func TestBuild_Defaults(t *testing.T) {
	t.Parallel()

	raw, err := Build("  hoteles punta cana ", Options{})
	require.NoError(t, err)

	base, q := parse(t, raw)
	assert.Equal(t, DefaultBaseURL, base)
	assert.Equal(t, "hoteles punta cana", q.Get("q"))
	assert.Equal(t, "50", q.Get("num"))
	assert.Equal(t, "0", q.Get("start"))
	assert.Empty(t, q.Get("cr"))
	assert.Empty(t, q.Get("tbs"))
}

func TestBuild_AllOperators(t *testing.T) {
	t.Parallel()

	raw, err := Build("colmados", Options{
		Category:       CategoryBusinesses,
		ExactPhrase:    "abierto 24 horas",
		Location:       "Santo Domingo",
		IncludeWords:   []string{"delivery", "", "precios"},
		ExcludeWords:   []string{"empleo"},
		Site:           "example.do",
		Related:        "paginasamarillas.com.do",
		IncludeDomains: []string{".do", "tripadvisor.com.do"},
		ExcludeDomains: []string{"facebook.com"},
		FileType:       "pdf",
		Num:            500,
		Country:        "do",
		Language:       "ES",
		Start:          20,
		TimeFilter:     PastMonth,
		SiteSearch:     "gob.do",
		TitleWord:      "directorio",
	})
	require.NoError(t, err)

	_, q := parse(t, raw)
	assert.Equal(t,
		`colmados "abierto 24 horas" "empresas" "negocios" "Santo Domingo" ("delivery" OR "precios") -"empleo" `+
			`site:example.do related:paginasamarillas.com.do (site:.do OR site:tripadvisor.com.do) -site:facebook.com filetype:pdf`,
		q.Get("q"))
	assert.Equal(t, "100", q.Get("num"))
	assert.Equal(t, "countryDO", q.Get("cr"))
	assert.Equal(t, "DO", q.Get("gl"))
	assert.Equal(t, "es", q.Get("hl"))
	assert.Equal(t, "lang_es", q.Get("lr"))
	assert.Equal(t, "20", q.Get("start"))
	assert.Equal(t, "qdr:m", q.Get("tbs"))
	assert.Equal(t, "gob.do", q.Get("as_sitesearch"))
	assert.Equal(t, "directorio", q.Get("as_title"))
}

func TestBuild_ClampsNumAndStart(t *testing.T) {
	t.Parallel()

	tests := []struct {
		num, start int
		wantNum    string
		wantStart  string
	}{
		{0, 0, "50", "0"},
		{5, -10, "10", "0"},
		{100, 10, "100", "10"},
		{101, 0, "100", "0"},
		{30, 0, "30", "0"},
	}
	for _, tt := range tests {
		raw, err := Build("x", Options{Num: tt.num, Start: tt.start})
		require.NoError(t, err)
		_, q := parse(t, raw)
		assert.Equal(t, tt.wantNum, q.Get("num"))
		assert.Equal(t, tt.wantStart, q.Get("start"))
	}
}

func TestBuild_Deterministic(t *testing.T) {
	t.Parallel()

	opts := Options{Category: CategoryHotels, Location: "Samaná", Country: "DO", Language: "es"}
	a, err := Build("villas", opts)
	require.NoError(t, err)
	b, err := Build("villas", opts)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBuild_CustomBaseURL(t *testing.T) {
	t.Parallel()

	raw, err := Build("x", Options{BaseURL: "https://www.google.com.do/search"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "https://www.google.com.do/search?"))
}

func TestOptionsMerge(t *testing.T) {
	t.Parallel()

	defaults := Options{Country: "DO", Language: "es", Num: 50, Location: "República Dominicana"}
	got := Options{Country: "US", Num: 20}.Merge(defaults)
	assert.Equal(t, "US", got.Country)
	assert.Equal(t, "es", got.Language)
	assert.Equal(t, 20, got.Num)
	assert.Equal(t, "República Dominicana", got.Location)
}
