// Package normalize turns raw page markup into compact LLM input: markdown
// content plus any JSON data blocks embedded in the page.
package normalize

import (
	"encoding/json"
	"html"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// minContentChars is the shortest markdown output accepted before falling
// back to the plain cleaner.
const minContentChars = 50

// Result is the normalized form of a page.
type Result struct {
	Content        string `json:"content"`
	StructuredData []any  `json:"structured_data"`
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	commentRe    = regexp.MustCompile(`(?s)<!--.*?-->`)
)

// removedTags never carry listing content.
var removedTags = "script, style, meta, link, header, nav, noscript, img, video, audio, svg, embed, object, iframe, canvas"

// Normalizer converts HTML to markdown.
type Normalizer struct {
	conv *md.Converter
	log  *zap.Logger
}

// New creates a Normalizer.
func New(log *zap.Logger) *Normalizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Normalizer{
		conv: md.NewConverter("", true, nil),
		log:  log,
	}
}

// Normalize extracts JSON data blocks from raw and converts the rest of the
// page to whitespace-collapsed markdown. Content is never empty when raw is
// not.
func (n *Normalizer) Normalize(raw string) Result {
	res := Result{StructuredData: []any{}}
	if strings.TrimSpace(raw) == "" {
		return res
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		n.log.Warn("normalize: parse html failed", zap.Error(err))
		res.Content = fallbackContent(raw)
		return res
	}

	res.StructuredData = extractJSONBlocks(doc, n.log)

	content := n.markdown(doc)
	if len(content) < minContentChars {
		n.log.Debug("normalize: markdown too short, using plain cleaner", zap.Int("chars", len(content)))
		content = fallbackContent(raw)
	}
	res.Content = content
	return res
}

func (n *Normalizer) markdown(doc *goquery.Document) string {
	body := goquery.CloneDocument(doc)
	body.Find(removedTags).Remove()

	markup, err := body.Html()
	if err != nil {
		n.log.Warn("normalize: render html failed", zap.Error(err))
		return ""
	}
	out, err := n.conv.ConvertString(markup)
	if err != nil {
		n.log.Warn("normalize: markdown conversion failed", zap.Error(err))
		return ""
	}
	return collapse(out)
}

// extractJSONBlocks parses application/json and application/ld+json script
// bodies. Blocks that do not parse are kept as their cleaned text.
func extractJSONBlocks(doc *goquery.Document, log *zap.Logger) []any {
	blocks := []any{}
	doc.Find(`script[type="application/json"], script[type="application/ld+json"]`).Each(func(i int, s *goquery.Selection) {
		text := commentRe.ReplaceAllString(html.UnescapeString(s.Text()), "")
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			log.Debug("normalize: unparsable json block", zap.Int("index", i), zap.Error(err))
			blocks = append(blocks, text)
			return
		}
		blocks = append(blocks, v)
	})
	return blocks
}

// fallbackContent strips tags, keeping link text as "text (href)". If even
// that is empty, the collapsed raw input is returned.
func fallbackContent(raw string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err == nil {
		doc.Find(removedTags).Remove()
		doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			text := collapse(a.Text())
			switch {
			case text == "" && href == "":
				return
			case text == "":
				a.ReplaceWithHtml(" " + html.EscapeString(href) + " ")
			default:
				a.ReplaceWithHtml(" " + html.EscapeString(text+" ("+href+")") + " ")
			}
		})
		if out := collapse(doc.Text()); out != "" {
			return out
		}
	}
	if out := collapse(raw); out != "" {
		return out
	}
	return raw
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// Title returns the trimmed <title> of a page, if any.
func Title(raw string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return ""
	}
	return collapse(doc.Find("title").First().Text())
}
