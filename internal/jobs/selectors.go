package jobs

import "github.com/jonathan/apply-orchestrator/internal/ats"

// postingSelectors are tried in order when the platform is not recognised.
var postingSelectors = []string{
	".job-description",
	".job-content",
	"#job-description",
	"#job-content",
	".posting-content",
	".job-details",
	"[data-testid='job-description']",
	"main",
	"article",
	".content",
	"#content",
}

// contentSelectors returns description selectors for a platform.
func contentSelectors(platform ats.Platform) []string {
	switch platform {
	case ats.PlatformGreenhouse:
		return []string{
			".job__description.body",
			".job__description",
			".job-description__content",
			"#content",
			".job-post-container",
		}
	case ats.PlatformLever:
		return []string{
			".posting-page",
			".section-wrapper.page-full-width",
			".posting-description",
			".content",
		}
	case ats.PlatformWorkday:
		return []string{
			"[data-automation-id='jobPostingDescription']",
			"[data-automation-id='jobDescription']",
			".job-description",
		}
	default:
		return postingSelectors
	}
}

// noiseSelectors returns elements stripped before extracting the description.
// Application forms are always removed so form labels never leak into the text.
func noiseSelectors(platform ats.Platform) []string {
	common := []string{
		"form",
		"#application-form",
		".application-form",
		".application--container",
		".apply-button-container",
		"[data-testid='application-form']",
		".voluntary-disclosure",
		".eeo-statement",
		".eeo-section",
		"[data-testid='eeo']",
		".legal-disclosure",
		".self-identification",
		".social-share",
		".share-buttons",
		".cookie-consent",
		".gdpr-notice",
	}

	switch platform {
	case ats.PlatformGreenhouse:
		return append(common,
			".application--wrapper",
			".voluntary-self-id",
			"#usa_self_id_section",
			".post-apply",
		)
	case ats.PlatformLever:
		return append(common,
			".apply-section",
			".lever-application-form",
			".posting-apply",
		)
	case ats.PlatformWorkday:
		return append(common,
			"[data-automation-id='applyButton']",
			".application-section",
		)
	default:
		return common
	}
}

// titleSelectors are tried before the document title.
func titleSelectors(platform ats.Platform) []string {
	switch platform {
	case ats.PlatformGreenhouse:
		return []string{".job__title h1", "h1.app-title", "h1"}
	case ats.PlatformLever:
		return []string{".posting-headline h2", "h2"}
	case ats.PlatformWorkday:
		return []string{"[data-automation-id='jobPostingHeader']", "h2", "h1"}
	default:
		return []string{"h1"}
	}
}
