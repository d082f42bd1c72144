package jobs

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonathan/apply-orchestrator/internal/ats"
	"github.com/jonathan/apply-orchestrator/internal/types"
)

// MinDescriptionLength is the shortest description accepted from plain HTTP.
// Shorter text usually means a JavaScript-rendered page.
const MinDescriptionLength = 500

// titleSuffix strips "Job Application for X at Y" and "X - Company" decorations.
var titleSuffix = regexp.MustCompile(`(?i)^(job application for\s+)?(.+?)(\s+at\s+.+|\s+[-|]\s+.+)?$`)

// Extract pulls title, company and description out of a posting page.
func Extract(html, rawURL string) (types.JobData, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return types.JobData{}, fmt.Errorf("failed to parse HTML: %w", err)
	}
	platform := ats.Select(rawURL).Platform

	job := types.JobData{
		Title:       extractTitle(doc, platform),
		Company:     extractCompany(doc, rawURL, platform),
		Description: MainText(doc, contentSelectors(platform), noiseSelectors(platform)...),
	}
	return job, nil
}

// NeedsRendering reports whether a description is too short to trust.
func NeedsRendering(job types.JobData) bool {
	return len(strings.TrimSpace(job.Description)) < MinDescriptionLength
}

func extractTitle(doc *goquery.Document, platform ats.Platform) string {
	for _, selector := range titleSelectors(platform) {
		if text := strings.TrimSpace(doc.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	title := meta(doc, "og:title")
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if m := titleSuffix.FindStringSubmatch(title); m != nil {
		return strings.TrimSpace(m[2])
	}
	return title
}

func extractCompany(doc *goquery.Document, rawURL string, platform ats.Platform) string {
	if name := meta(doc, "og:site_name"); name != "" {
		return name
	}
	if name := companyFromPath(rawURL, platform); name != "" {
		return name
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if parts := strings.Split(host, "."); len(parts) >= 2 {
		return titleCase(parts[len(parts)-2])
	}
	return host
}

// companyFromPath reads the board slug from hosted ATS URLs, e.g.
// boards.greenhouse.io/<company>/jobs/1 or jobs.lever.co/<company>/<id>.
func companyFromPath(rawURL string, platform ats.Platform) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch platform {
	case ats.PlatformGreenhouse, ats.PlatformLever:
		if len(segments) > 0 && segments[0] != "" {
			return titleCase(segments[0])
		}
	case ats.PlatformWorkday:
		// <company>.wd5.myworkdayjobs.com
		if label, _, ok := strings.Cut(u.Hostname(), "."); ok {
			return titleCase(label)
		}
	}
	return ""
}

func meta(doc *goquery.Document, property string) string {
	content, _ := doc.Find(fmt.Sprintf(`meta[property=%q], meta[name=%q]`, property, property)).First().Attr("content")
	return strings.TrimSpace(content)
}

func titleCase(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
