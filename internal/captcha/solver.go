// Package captcha submits challenges to an external solving service.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

// DefaultBaseURL is the 2captcha API endpoint.
const DefaultBaseURL = "https://2captcha.com"

const notReady = "CAPCHA_NOT_READY"

// ErrNoAPIKey is returned when the solver has no credentials.
var ErrNoAPIKey = errors.New("missing 2captcha API key")

// Challenge is the artifact a solver works on.
type Challenge struct {
	Kind        types.CaptchaKind
	SiteKey     string
	PageURL     string
	ImageBase64 string
}

// Handle identifies a submitted challenge.
type Handle struct {
	ID   string
	Kind types.CaptchaKind
}

// PollResult is the state of a submitted challenge. Token is set for widget
// challenges and Text for image challenges once Ready.
type PollResult struct {
	Ready bool
	Token string
	Text  string
}

// Solver is an asynchronous CAPTCHA solving service.
type Solver interface {
	Submit(ctx context.Context, c Challenge) (Handle, error)
	Poll(ctx context.Context, h Handle) (PollResult, error)
}

// ServiceError is an error code returned by the solving service.
type ServiceError struct {
	Op   string
	Code string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("captcha %s failed: %s", e.Op, e.Code)
}

// TwoCaptcha implements Solver with the 2captcha HTTP API.
type TwoCaptcha struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewTwoCaptcha creates a 2captcha client. An empty baseURL uses DefaultBaseURL.
func NewTwoCaptcha(apiKey, baseURL string) *TwoCaptcha {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &TwoCaptcha{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Submit sends a challenge to 2captcha.
func (s *TwoCaptcha) Submit(ctx context.Context, c Challenge) (Handle, error) {
	if s.apiKey == "" {
		return Handle{}, ErrNoAPIKey
	}

	form := url.Values{}
	form.Set("key", s.apiKey)
	form.Set("json", "1")

	switch c.Kind {
	case types.CaptchaImage:
		if c.ImageBase64 == "" {
			return Handle{}, fmt.Errorf("image challenge has no image")
		}
		form.Set("method", "base64")
		form.Set("body", c.ImageBase64)
	case types.CaptchaHCaptcha:
		form.Set("method", "hcaptcha")
		form.Set("sitekey", c.SiteKey)
		form.Set("pageurl", c.PageURL)
	case types.CaptchaRecaptchaV2, types.CaptchaRecaptchaV3:
		form.Set("method", "userrecaptcha")
		form.Set("googlekey", c.SiteKey)
		form.Set("pageurl", c.PageURL)
		if c.Kind == types.CaptchaRecaptchaV3 {
			form.Set("version", "v3")
			form.Set("action", "verify")
		}
	default:
		return Handle{}, fmt.Errorf("unsupported captcha kind %q", c.Kind)
	}

	log.Printf("[CAPTCHA] Submitting %s challenge", c.Kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/in.php", strings.NewReader(form.Encode()))
	if err != nil {
		return Handle{}, fmt.Errorf("failed to create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.do(req)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to submit captcha: %w", err)
	}
	if resp.Status != 1 || resp.Request == "" {
		return Handle{}, &ServiceError{Op: "submit", Code: resp.Request}
	}
	return Handle{ID: resp.Request, Kind: c.Kind}, nil
}

// Poll checks a submitted challenge once.
func (s *TwoCaptcha) Poll(ctx context.Context, h Handle) (PollResult, error) {
	query := url.Values{}
	query.Set("key", s.apiKey)
	query.Set("action", "get")
	query.Set("id", h.ID)
	query.Set("json", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/res.php?"+query.Encode(), nil)
	if err != nil {
		return PollResult{}, fmt.Errorf("failed to create poll request: %w", err)
	}

	resp, err := s.do(req)
	if err != nil {
		return PollResult{}, fmt.Errorf("failed to poll captcha: %w", err)
	}
	if resp.Status == 1 {
		if h.Kind == types.CaptchaImage {
			return PollResult{Ready: true, Text: resp.Request}, nil
		}
		return PollResult{Ready: true, Token: resp.Request}, nil
	}
	if resp.Request == notReady {
		return PollResult{}, nil
	}
	return PollResult{}, &ServiceError{Op: "poll", Code: resp.Request}
}

func (s *TwoCaptcha) do(req *http.Request) (apiResponse, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return apiResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apiResponse{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return apiResponse{}, fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
	}

	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return apiResponse{}, fmt.Errorf("invalid response %q: %w", string(body), err)
	}
	return out, nil
}
