package browser

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

func TestHTTPAgent_Execute(t *testing.T) {
	var got AgentTask
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/execute", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(AgentResult{
			Status:  AgentInterrupted,
			Summary: "captcha on page 2",
			Interruption: &AgentInterruption{
				Type:        types.InterruptCaptcha,
				CaptchaKind: types.CaptchaRecaptchaV2,
				SiteKey:     "key",
			},
		})
	}))
	defer srv.Close()

	agent := NewHTTPAgent(srv.URL+"/", time.Second)
	result, err := agent.Execute(context.Background(), AgentTask{
		URL:        "https://boards.greenhouse.io/acme/jobs/1",
		Resolution: &types.Resolution{Token: "tok"},
	})
	require.NoError(t, err)

	assert.Equal(t, AgentInterrupted, result.Status)
	require.NotNil(t, result.Interruption)
	assert.Equal(t, "key", result.Interruption.SiteKey)
	require.NotNil(t, got.Resolution)
	assert.Equal(t, "tok", got.Resolution.Token)
}

func TestHTTPAgent_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "browser crashed", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPAgent(srv.URL, time.Second).Execute(context.Background(), AgentTask{})
	var agentErr *AgentError
	require.True(t, errors.As(err, &agentErr))
	assert.Equal(t, http.StatusBadGateway, agentErr.StatusCode)
	assert.Contains(t, agentErr.Body, "browser crashed")
}

func TestHTTPAgent_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := NewHTTPAgent(srv.URL, time.Second).Execute(context.Background(), AgentTask{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}
