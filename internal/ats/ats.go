// Package ats holds per-platform form-filling guidance for applicant tracking systems.
package ats

import (
	"net/url"
	"strings"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

// Platform identifies an applicant tracking system.
type Platform string

// Known platforms.
const (
	PlatformGreenhouse Platform = "greenhouse"
	PlatformLever      Platform = "lever"
	PlatformWorkday    Platform = "workday"
	PlatformGeneric    Platform = "generic"
)

// Stealth holds pacing hints passed to the browser agent.
type Stealth struct {
	InterActionDelay      float64 `json:"inter_action_delay"`
	TypingDelayMultiplier float64 `json:"typing_delay_multiplier"`
}

// Adapter describes how to fill forms on one platform.
type Adapter struct {
	Platform     Platform
	Match        func(u *url.URL) bool
	Instructions func(effort types.EffortTier) string
	Stealth      Stealth
}

// Adapters is consulted in order; the first match wins. The generic adapter matches everything.
var Adapters = []Adapter{
	{
		Platform: PlatformGreenhouse,
		Match: func(u *url.URL) bool {
			return hostContains(u, "greenhouse.io") || u.Query().Has("gh_jid")
		},
		Instructions: greenhouseInstructions,
		Stealth:      Stealth{InterActionDelay: 1.5, TypingDelayMultiplier: 1.2},
	},
	{
		Platform: PlatformLever,
		Match: func(u *url.URL) bool {
			return hostContains(u, "lever.co")
		},
		Instructions: func(types.EffortTier) string {
			return `LEVER SPECIFIC INSTRUCTIONS:
- The application lives on the "/apply" page of the posting.
- Resume upload may auto-fill name, email and phone. Verify them.
- "Additional information" is the free-text cover letter field.`
		},
		Stealth: Stealth{InterActionDelay: 1.2, TypingDelayMultiplier: 1.1},
	},
	{
		Platform: PlatformWorkday,
		Match: func(u *url.URL) bool {
			return hostContains(u, "myworkdayjobs.com") || hostContains(u, "workday")
		},
		Instructions: func(types.EffortTier) string {
			return `WORKDAY SPECIFIC INSTRUCTIONS:
- Workday requires an account. If not logged in, look for "Create Account" or "Sign In".
- If "Quick Apply" is available, use it.
- Navigation is usually "Next" or "Save and Continue".
- Resume parsing often fails, so double-check pre-filled fields.
- Handle the "My Experience" section carefully.`
		},
		Stealth: Stealth{InterActionDelay: 2.5, TypingDelayMultiplier: 1.5},
	},
	{
		Platform: PlatformGeneric,
		Match:    func(*url.URL) bool { return true },
		Instructions: func(types.EffortTier) string {
			return `GENERAL INSTRUCTIONS:
- Look for an "Apply" button if the form is not visible.
- Required fields are usually marked with an asterisk *.`
		},
		Stealth: Stealth{InterActionDelay: 2.0, TypingDelayMultiplier: 1.3},
	},
}

func greenhouseInstructions(effort types.EffortTier) string {
	s := `GREENHOUSE SPECIFIC INSTRUCTIONS:
- The form is usually single-page.
- Look for the "Apply for this Job" button if the form is not immediately visible.
- "Attach" buttons for Resume/CV may be hidden file inputs.
- Required fields often have an asterisk *.`
	if effort == types.EffortHigh {
		s += "\n- Fill out the 'Cover Letter' section if available."
	}
	return s
}

// Select returns the first adapter matching rawURL. Unparseable URLs get the generic adapter.
func Select(rawURL string) Adapter {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Adapters[len(Adapters)-1]
	}
	for _, a := range Adapters {
		if a.Match(u) {
			return a
		}
	}
	return Adapters[len(Adapters)-1]
}

func hostContains(u *url.URL, s string) bool {
	return strings.Contains(strings.ToLower(u.Host), s)
}
