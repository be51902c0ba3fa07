package fetch

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// BlockType describes the kind of block detected.
type BlockType string

const (
	BlockNone         BlockType = ""
	BlockCloudflare   BlockType = "cloudflare"
	BlockCaptcha      BlockType = "captcha"
	BlockAccessDenied BlockType = "access_denied"
	BlockRateLimit    BlockType = "rate_limit"
)

// BlockSignal is what DetectBlock found.
type BlockSignal struct {
	Type  BlockType
	Match string
}

// Blocked reports whether a blocking signature was found.
func (s BlockSignal) Blocked() bool { return s.Type != BlockNone }

var blockPhrases = []struct {
	phrase string
	kind   BlockType
}{
	{"captcha", BlockCaptcha},
	{"recaptcha", BlockCaptcha},
	{"g-recaptcha", BlockCaptcha},
	{"h-captcha", BlockCaptcha},
	{"solve the captcha", BlockCaptcha},
	{"bot verification", BlockCaptcha},
	{"are you a robot", BlockCaptcha},
	{"human verification", BlockCaptcha},
	{"prove you're not a robot", BlockCaptcha},
	{"robot detected", BlockCaptcha},
	{"please verify", BlockCaptcha},
	{"security check required", BlockCaptcha},
	{"checking your browser", BlockCloudflare},
	{"just a moment", BlockCloudflare},
	{"ddos protection", BlockCloudflare},
	{"cloudflare", BlockCloudflare},
	{"access denied", BlockAccessDenied},
	{"forbidden", BlockAccessDenied},
	{"error 403", BlockAccessDenied},
	{"ip address blocked", BlockAccessDenied},
	{"blocked by firewall", BlockAccessDenied},
	{"rate limit", BlockRateLimit},
	{"unusual traffic", BlockRateLimit},
}

// captchaWidgets are selectors for embedded challenge widgets.
var captchaWidgets = []string{
	`iframe[src*="recaptcha"]`,
	`iframe[src*="hcaptcha"]`,
	`iframe[src*="challenges.cloudflare.com"]`,
	".g-recaptcha",
	".h-captcha",
	".cf-turnstile",
	"#challenge-form",
	"#captcha",
}

// DetectBlock checks page markup for signs of anti-bot protection: a known
// phrase anywhere in the lowercased markup, or an embedded CAPTCHA widget.
func DetectBlock(html string) BlockSignal {
	if html == "" {
		return BlockSignal{}
	}

	lower := strings.ToLower(html)
	for _, p := range blockPhrases {
		if strings.Contains(lower, p.phrase) {
			return BlockSignal{Type: p.kind, Match: p.phrase}
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return BlockSignal{}
	}
	for _, sel := range captchaWidgets {
		if doc.Find(sel).Length() > 0 {
			return BlockSignal{Type: BlockCaptcha, Match: sel}
		}
	}
	return BlockSignal{}
}
