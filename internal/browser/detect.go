package browser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

// Challenge is a blocking element found in page HTML.
type Challenge struct {
	Type        types.InterruptionType
	CaptchaKind types.CaptchaKind
	SiteKey     string
}

// DetectChallenge looks for CAPTCHA widgets and one-time-code inputs in html.
// CAPTCHAs take precedence over two-factor prompts.
func DetectChallenge(html string) (Challenge, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Challenge{}, false
	}

	if key, ok := doc.Find(".h-captcha[data-sitekey]").First().Attr("data-sitekey"); ok {
		return captcha(types.CaptchaHCaptcha, key), true
	}
	if key, ok := doc.Find(".g-recaptcha[data-sitekey]").First().Attr("data-sitekey"); ok {
		return captcha(types.CaptchaRecaptchaV2, key), true
	}

	var found *Challenge
	doc.Find("iframe[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		lower := strings.ToLower(src)
		switch {
		case strings.Contains(lower, "hcaptcha"):
			c := captcha(types.CaptchaHCaptcha, queryParam(src, "sitekey"))
			found = &c
		case strings.Contains(lower, "recaptcha"):
			c := captcha(types.CaptchaRecaptchaV2, queryParam(src, "k"))
			found = &c
		}
		return found == nil
	})
	if found != nil {
		return *found, true
	}

	doc.Find("script[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		if strings.Contains(src, "recaptcha/api.js") {
			if key := queryParam(src, "render"); key != "" && key != "explicit" {
				c := captcha(types.CaptchaRecaptchaV3, key)
				found = &c
			}
		}
		return found == nil
	})
	if found != nil {
		return *found, true
	}

	if doc.Find(`img[src*="captcha"], img[alt*="captcha"], input[name*="captcha"]`).Length() > 0 {
		return captcha(types.CaptchaImage, ""), true
	}

	if doc.Find(`input[autocomplete="one-time-code"], input[name*="otp"], input[name*="verification_code"], input[name*="2fa"]`).Length() > 0 {
		return Challenge{Type: types.InterruptTwoFactor}, true
	}

	return Challenge{}, false
}

func captcha(kind types.CaptchaKind, key string) Challenge {
	return Challenge{Type: types.InterruptCaptcha, CaptchaKind: kind, SiteKey: key}
}

func queryParam(rawURL, name string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get(name)
}
