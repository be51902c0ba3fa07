package artifacts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/listing-scraper/internal/config"
	"github.com/sells-group/listing-scraper/internal/model"
)

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	w := New(config.ArtifactsConfig{
		Enabled:   true,
		DebugDir:  filepath.Join(dir, "debug_files"),
		OutputDir: filepath.Join(dir, "output"),
	}, nil)
	w.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	return w, dir
}

func website(name string) model.ExtractionResult {
	r := &model.WebsiteExtraction{
		Metadata: model.WebsiteMetadata{
			Source: model.SourceInfo{Name: "Guia", URL: "https://guia.do"},
			Result: model.WebsiteOutcome{Outcome: model.Outcome{Success: true}},
		},
		Entities: []model.Business{{Name: name, Address: "Calle 1", Category: model.CategoryBusiness}},
	}
	r.Normalize()
	return r
}

func readJSON(t *testing.T, path string) []any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestWriteDebug(t *testing.T) {
	w, dir := newTestWriter(t)

	path, err := w.WriteDebug(model.SchemaWebsite, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "debug_files", "website_scraping", "temp_processed_data_2026-03-04_05-06-07.json"), path)
	assert.FileExists(t, path)
}

func TestSaveOutput_AccumulatesAndDedupes(t *testing.T) {
	w, dir := newTestWriter(t)

	sum, err := w.SaveOutput(model.SchemaWebsite, []model.ExtractionResult{website("Cafe Sol"), website("Cafe Sol")})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.RawItems)
	assert.Equal(t, 1, sum.CleanedRows)

	w.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 8, 0, time.UTC) }
	sum, err = w.SaveOutput(model.SchemaWebsite, []model.ExtractionResult{website("Cafe Sol"), website("Hotel Mar")})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.RawItems)

	cleaned := readJSON(t, sum.CleanedPath)
	require.Len(t, cleaned, 2)
	assert.Equal(t, "Hotel Mar", cleaned[1].(map[string]any)["name"])

	// Only the raw file from before the second run is backed up.
	backups, err := os.ReadDir(filepath.Join(dir, "output", "backups"))
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, "website_raw_20260304_050608.json", backups[0].Name())
	assert.Len(t, readJSON(t, filepath.Join(dir, "output", "backups", backups[0].Name())), 1)
}

func TestSaveOutput_PrunesOldBackups(t *testing.T) {
	dir := t.TempDir()
	w := New(config.ArtifactsConfig{
		Enabled:    true,
		OutputDir:  filepath.Join(dir, "output"),
		MaxBackups: 2,
	}, nil)

	names := []string{"Cafe Sol", "Hotel Mar", "Museo", "Playa", "Colmado"}
	for i, name := range names {
		w.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, i, 0, time.UTC) }
		_, err := w.SaveOutput(model.SchemaWebsite, []model.ExtractionResult{website(name)})
		require.NoError(t, err)
	}

	backups, err := os.ReadDir(filepath.Join(dir, "output", "backups"))
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, "website_raw_20260304_050603.json", backups[0].Name())
	assert.Equal(t, "website_raw_20260304_050604.json", backups[1].Name())
	// The newest backup holds the four items written before the last run.
	assert.Len(t, readJSON(t, filepath.Join(dir, "output", "backups", backups[1].Name())), 4)
}

func TestSaveOutput_CorruptRawStartsFresh(t *testing.T) {
	w, dir := newTestWriter(t)
	raw := filepath.Join(dir, "output", "raw", "search_raw_data.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(raw), 0o755))
	require.NoError(t, os.WriteFile(raw, []byte("{not json"), 0o644))

	res := &model.SearchExtraction{
		Metadata: model.SearchMetadata{Result: model.SearchOutcome{Outcome: model.Outcome{Success: true}}},
		URLs:     []model.RelevantURL{{Title: "A", URL: "https://a.do"}},
	}
	res.Normalize()

	sum, err := w.SaveOutput(model.SchemaSearch, []model.ExtractionResult{res})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.RawItems)
	assert.Equal(t, 1, sum.CleanedRows)
}

func TestDedupe_KeyOrderInsensitive(t *testing.T) {
	a := map[string]any{"name": "x", "address": "y"}
	b := map[string]any{"address": "y", "name": "x"}
	c := struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	}{"y", "x"}

	assert.Len(t, Dedupe([]any{a, b, c}), 1)
}

func TestSaveSamples(t *testing.T) {
	w, _ := newTestWriter(t)

	path, err := w.SaveHTMLSample("https://guia.do/p?q=1", "<html>")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "https_guia_do_p_q_1_08aa759f_20260304_050607.html"))

	path, err = w.SaveScreenshot("https://guia.do", []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestSaveSamples_LongURLsSharingPrefix(t *testing.T) {
	w, _ := newTestWriter(t)
	prefix := "https://guia.do/" + strings.Repeat("directorio/", 10)

	a, err := w.SaveHTMLSample(prefix+"hoteles", "<html>a</html>")
	require.NoError(t, err)
	b, err := w.SaveHTMLSample(prefix+"restaurantes", "<html>b</html>")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	data, err := os.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, "<html>a</html>", string(data))
}

func TestDisabledWriter(t *testing.T) {
	dir := t.TempDir()
	w := New(config.ArtifactsConfig{DebugDir: dir, OutputDir: dir}, nil)

	path, err := w.WriteDebug(model.SchemaSearch, "x")
	require.NoError(t, err)
	assert.Empty(t, path)

	sum, err := w.SaveOutput(model.SchemaSearch, nil)
	require.NoError(t, err)
	assert.Zero(t, sum)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
