package types

import "time"

// InterruptionType names the blocking condition a form fill ran into.
type InterruptionType string

// Interruption types
const (
	InterruptCaptcha          InterruptionType = "captcha"
	InterruptTwoFactor        InterruptionType = "two_factor"
	InterruptReviewCheckpoint InterruptionType = "review_checkpoint"
)

// CaptchaKind distinguishes challenge flavours; it decides the solver method and poll budget.
type CaptchaKind string

// Captcha kinds
const (
	CaptchaImage       CaptchaKind = "image"
	CaptchaRecaptchaV2 CaptchaKind = "recaptcha_v2"
	CaptchaRecaptchaV3 CaptchaKind = "recaptcha_v3"
	CaptchaHCaptcha    CaptchaKind = "hcaptcha"
)

// InterruptionStatus is the resolution state of an Interruption.
type InterruptionStatus string

// Interruption statuses
const (
	InterruptionPending   InterruptionStatus = "pending"
	InterruptionResolving InterruptionStatus = "resolving"
	InterruptionResolved  InterruptionStatus = "resolved"
	InterruptionAbandoned InterruptionStatus = "abandoned"
)

// Interruption is a blocking condition raised during form filling.
type Interruption struct {
	Type        InterruptionType   `json:"type"`
	CaptchaKind CaptchaKind        `json:"captcha_kind,omitempty"`
	SiteKey     string             `json:"site_key,omitempty"`
	PageURL     string             `json:"page_url,omitempty"`
	Screenshot  string             `json:"screenshot,omitempty"` // path on disk
	ImageBase64 string             `json:"-"`
	Message     string             `json:"message,omitempty"`
	Attempts    int                `json:"attempts"`
	Status      InterruptionStatus `json:"status"`
	SolverType  string             `json:"solver_type,omitempty"` // external_service, human
	Resolution  *Resolution        `json:"resolution,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	ResolvedAt  *time.Time         `json:"resolved_at,omitempty"`
}

// Resolution is the payload handed back to the form filler after an interruption resolves.
type Resolution struct {
	Token     string `json:"token,omitempty"`
	Text      string `json:"text,omitempty"`
	HumanNote string `json:"human_note,omitempty"`
}

// NewInterruption creates a pending interruption.
func NewInterruption(t InterruptionType) *Interruption {
	return &Interruption{
		Type:      t,
		Status:    InterruptionPending,
		CreatedAt: time.Now(),
	}
}

// ArtifactRef returns the best available reference to the interruption's artifact.
func (i *Interruption) ArtifactRef() string {
	switch {
	case i.Screenshot != "":
		return i.Screenshot
	case i.SiteKey != "":
		return i.SiteKey
	default:
		return i.PageURL
	}
}
