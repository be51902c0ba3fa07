// Package artifacts writes debug dumps and accumulated output files for
// scraping runs.
package artifacts

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-scraper/internal/config"
	"github.com/sells-group/listing-scraper/internal/model"
)

const (
	debugLayout  = "2006-01-02_15-04-05"
	backupLayout = "20060102_150405"
	maxNameLen   = 80

	defaultMaxBackups = 10
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Writer persists artifacts under the configured debug and output
// directories. A disabled Writer accepts every call and writes nothing.
type Writer struct {
	enabled    bool
	debugDir   string
	outputDir  string
	maxBackups int
	log        *zap.Logger
	now        func() time.Time

	// Output files are read-modify-write.
	mu sync.Mutex
}

// OutputSummary reports what SaveOutput wrote.
type OutputSummary struct {
	RawPath     string
	CleanedPath string
	RawItems    int
	CleanedRows int
}

// New creates a Writer.
func New(cfg config.ArtifactsConfig, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	maxBackups := cfg.MaxBackups
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}
	return &Writer{
		enabled:    cfg.Enabled,
		debugDir:   cfg.DebugDir,
		outputDir:  cfg.OutputDir,
		maxBackups: maxBackups,
		log:        log,
		now:        time.Now,
	}
}

// Enabled reports whether the writer persists anything.
func (w *Writer) Enabled() bool { return w != nil && w.enabled }

// WriteDebug dumps payload to
// <debug>/<kind>_scraping/temp_processed_data_<ts>.json.
func (w *Writer) WriteDebug(kind model.SchemaKind, payload any) (string, error) {
	if !w.Enabled() {
		return "", nil
	}
	dir := filepath.Join(w.debugDir, string(kind)+"_scraping")
	path := filepath.Join(dir, fmt.Sprintf("temp_processed_data_%s.json", w.now().Format(debugLayout)))
	if err := writeJSON(path, payload); err != nil {
		return "", err
	}
	w.log.Info("artifacts: saved debug file", zap.String("path", path))
	return path, nil
}

// SaveHTMLSample stores the start of a rejected page.
func (w *Writer) SaveHTMLSample(url, html string) (string, error) {
	if !w.Enabled() {
		return "", nil
	}
	path := filepath.Join(w.debugDir, "html_samples", w.fileName(url, ".html"))
	return path, writeFile(path, []byte(html))
}

// SaveScreenshot stores a PNG capture of a rejected page.
func (w *Writer) SaveScreenshot(url string, png []byte) (string, error) {
	if !w.Enabled() {
		return "", nil
	}
	path := filepath.Join(w.debugDir, "screenshots", w.fileName(url, ".png"))
	return path, writeFile(path, png)
}

// fileName builds a diagnostic file name from the sanitized URL, a short
// hash of the full URL and the current time.
func (w *Writer) fileName(url, ext string) string {
	name := unsafeChars.ReplaceAllString(url, "_")
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	sum := sha256.Sum256([]byte(url))
	return fmt.Sprintf("%s_%s_%s%s", name, hex.EncodeToString(sum[:4]), w.now().Format(backupLayout), ext)
}

// SaveOutput merges results into <output>/raw/<kind>_raw_data.json and
// rewrites the flattened <output>/cleaned/<kind>_cleaned_data.json. The
// previous raw file is copied to <output>/backups first; only the newest
// maxBackups copies per kind are kept.
func (w *Writer) SaveOutput(kind model.SchemaKind, results []model.ExtractionResult) (OutputSummary, error) {
	if !w.Enabled() {
		return OutputSummary{}, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	rawPath := filepath.Join(w.outputDir, "raw", string(kind)+"_raw_data.json")
	cleanedPath := filepath.Join(w.outputDir, "cleaned", string(kind)+"_cleaned_data.json")

	existing, err := readArray(rawPath)
	if err != nil {
		w.log.Warn("artifacts: existing raw file unreadable, starting fresh",
			zap.String("path", rawPath), zap.Error(err))
		existing = nil
	}

	fresh, err := toGeneric(results)
	if err != nil {
		return OutputSummary{}, err
	}
	raw := Dedupe(append(existing, fresh...))
	cleaned := Flatten(kind, raw)

	if len(existing) > 0 {
		if err := w.backupRaw(kind, rawPath); err != nil {
			w.log.Error("artifacts: backup failed", zap.Error(err))
		}
	}

	if err := writeJSON(rawPath, raw); err != nil {
		return OutputSummary{}, err
	}
	if err := writeJSON(cleanedPath, cleaned); err != nil {
		return OutputSummary{}, err
	}

	w.log.Info("artifacts: saved output",
		zap.String("kind", string(kind)),
		zap.Int("raw_items", len(raw)),
		zap.Int("cleaned_rows", len(cleaned)),
	)
	return OutputSummary{
		RawPath:     rawPath,
		CleanedPath: cleanedPath,
		RawItems:    len(raw),
		CleanedRows: len(cleaned),
	}, nil
}

// backupRaw copies the current raw file into the backups directory and
// prunes the oldest copies of kind beyond maxBackups.
func (w *Writer) backupRaw(kind model.SchemaKind, rawPath string) error {
	data, err := os.ReadFile(rawPath)
	if err != nil {
		return eris.Wrapf(err, "artifacts: read %s", rawPath)
	}
	dir := filepath.Join(w.outputDir, "backups")
	name := fmt.Sprintf("%s_raw_%s.json", kind, w.now().Format(backupLayout))
	if err := writeFile(filepath.Join(dir, name), data); err != nil {
		return err
	}

	// Timestamps sort lexically, so the oldest copies come first.
	old, err := filepath.Glob(filepath.Join(dir, string(kind)+"_raw_*.json"))
	if err != nil {
		return eris.Wrap(err, "artifacts: list backups")
	}
	sort.Strings(old)
	for len(old) > w.maxBackups {
		if err := os.Remove(old[0]); err != nil {
			return eris.Wrapf(err, "artifacts: prune %s", old[0])
		}
		w.log.Debug("artifacts: pruned backup", zap.String("path", old[0]))
		old = old[1:]
	}
	return nil
}

// Flatten collects the entities (website) or urls (search) of every raw
// item.
func Flatten(kind model.SchemaKind, raw []any) []any {
	key := "entities"
	if kind == model.SchemaSearch {
		key = "urls"
	}
	out := []any{}
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if list, ok := m[key].([]any); ok {
			out = append(out, list...)
		}
	}
	return out
}

// Dedupe removes items whose canonical JSON encoding (sorted keys) was
// already seen, keeping the first occurrence.
func Dedupe(items []any) []any {
	seen := make(map[string]struct{}, len(items))
	out := make([]any, 0, len(items))
	for _, it := range items {
		key, err := canonical(it)
		if err != nil {
			out = append(out, it)
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
	}
	return out
}

// canonical encodes v with sorted object keys. Structs are normalized
// through a generic decode first.
func canonical(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return "", err
	}
	data, err = json.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func toGeneric(results []model.ExtractionResult) ([]any, error) {
	data, err := json.Marshal(results)
	if err != nil {
		return nil, eris.Wrap(err, "artifacts: encode results")
	}
	var out []any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "artifacts: decode results")
	}
	return out, nil
}

func readArray(path string) ([]any, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "artifacts: read %s", path)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var out []any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrapf(err, "artifacts: parse %s", path)
	}
	return out, nil
}

func writeJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrapf(err, "artifacts: encode %s", path)
	}
	return writeFile(path, buf.Bytes())
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "artifacts: create dir for %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "artifacts: write %s", path)
	}
	return nil
}
