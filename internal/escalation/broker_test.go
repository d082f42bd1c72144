package escalation

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/apply-orchestrator/internal/captcha"
	"github.com/jonathan/apply-orchestrator/internal/notify"
	"github.com/jonathan/apply-orchestrator/internal/types"
)

type fakeSolver struct {
	submitErr error
	// results are returned in order; the last one repeats.
	results []pollStep
	polls   int
	got     captcha.Challenge
}

type pollStep struct {
	result captcha.PollResult
	err    error
}

func (f *fakeSolver) Submit(_ context.Context, c captcha.Challenge) (captcha.Handle, error) {
	f.got = c
	if f.submitErr != nil {
		return captcha.Handle{}, f.submitErr
	}
	return captcha.Handle{ID: "42", Kind: c.Kind}, nil
}

func (f *fakeSolver) Poll(_ context.Context, _ captcha.Handle) (captcha.PollResult, error) {
	step := f.results[len(f.results)-1]
	if f.polls < len(f.results) {
		step = f.results[f.polls]
	}
	f.polls++
	return step.result, step.err
}

type fakeNotifier struct {
	mu        sync.Mutex
	sent      []notify.Message
	delivered bool
	reply     string
	replied   bool
	waited    time.Duration
	ref       string
}

func (f *fakeNotifier) Send(_ context.Context, msg notify.Message) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.delivered, nil
}

func (f *fakeNotifier) AwaitReply(ctx context.Context, ref string, timeout time.Duration) (string, bool, error) {
	f.waited = timeout
	f.ref = ref
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	return f.reply, f.replied, nil
}

type sleepLog struct {
	calls []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return ctx.Err()
}

func newTestBroker(solver captcha.Solver, n notify.Notifier, cfg Config) (*Broker, *sleepLog) {
	sl := &sleepLog{}
	cfg.Sleep = sl.sleep
	return NewBroker(solver, n, cfg), sl
}

func testTask() *types.ApplicationTask {
	return types.NewApplicationTask("https://boards.greenhouse.io/acme/jobs/1", "boards.greenhouse.io",
		types.JobData{Title: "Backend Engineer", Company: "Acme"}, types.ProfileTruth{}, types.EffortMedium)
}

func captchaInterruption(kind types.CaptchaKind) *types.Interruption {
	intr := types.NewInterruption(types.InterruptCaptcha)
	intr.CaptchaKind = kind
	intr.SiteKey = "site-key"
	intr.PageURL = "https://boards.greenhouse.io/acme/jobs/1"
	return intr
}

func collect(list *[]types.Interruption) Observer {
	return func(intr types.Interruption) { *list = append(*list, intr) }
}

func TestResolve_CaptchaSolvedByService(t *testing.T) {
	solver := &fakeSolver{results: []pollStep{
		{result: captcha.PollResult{}},
		{result: captcha.PollResult{}},
		{result: captcha.PollResult{Ready: true, Token: "tok-123"}},
	}}
	b, sl := newTestBroker(solver, nil, Config{})

	intr := captchaInterruption(types.CaptchaRecaptchaV2)
	var seen []types.Interruption
	require.NoError(t, b.Resolve(context.Background(), testTask(), intr, collect(&seen)))

	assert.Equal(t, types.InterruptionResolved, intr.Status)
	assert.Equal(t, SolverExternal, intr.SolverType)
	assert.Equal(t, 3, intr.Attempts)
	require.NotNil(t, intr.Resolution)
	assert.Equal(t, "tok-123", intr.Resolution.Token)
	assert.NotNil(t, intr.ResolvedAt)
	assert.Equal(t, "site-key", solver.got.SiteKey)

	require.Len(t, seen, 1)
	assert.Equal(t, []time.Duration{WidgetInterval, WidgetInterval, WidgetInterval}, sl.calls)
}

func TestResolve_ImageCaptchaBudget(t *testing.T) {
	solver := &fakeSolver{results: []pollStep{{result: captcha.PollResult{}}}}
	n := &fakeNotifier{delivered: true, reply: "fixed", replied: true}
	b, sl := newTestBroker(solver, n, Config{})

	intr := captchaInterruption(types.CaptchaImage)
	intr.ImageBase64 = base64.StdEncoding.EncodeToString([]byte("png"))

	var seen []types.Interruption
	require.NoError(t, b.Resolve(context.Background(), testTask(), intr, collect(&seen)))

	assert.Equal(t, ImagePolls, solver.polls)
	assert.Len(t, sl.calls, ImagePolls)
	assert.Equal(t, ImageInterval, sl.calls[0])

	// escalated to the operator, who fixed it
	assert.Equal(t, types.InterruptionResolved, intr.Status)
	assert.Equal(t, SolverHuman, intr.SolverType)
	assert.Equal(t, "fixed", intr.Resolution.HumanNote)
	assert.Equal(t, ImagePolls+1, intr.Attempts)

	require.Len(t, seen, 2)
	assert.Equal(t, SolverExternal, seen[0].SolverType)
	assert.Contains(t, seen[0].Reason, "no solution after 10 polls")

	require.Len(t, n.sent, 1)
	assert.Equal(t, []byte("png"), n.sent[0].Photo)
	assert.Contains(t, n.sent[0].Text, "no solution after 10 polls")
}

func TestResolve_ServiceErrorEscalatesImmediately(t *testing.T) {
	solver := &fakeSolver{results: []pollStep{{err: &captcha.ServiceError{Op: "poll", Code: "ERROR_CAPTCHA_UNSOLVABLE"}}}}
	n := &fakeNotifier{delivered: true, reply: " Continue ", replied: true}
	b, _ := newTestBroker(solver, n, Config{})

	intr := captchaInterruption(types.CaptchaHCaptcha)
	require.NoError(t, b.Resolve(context.Background(), testTask(), intr, nil))

	assert.Equal(t, 1, solver.polls)
	assert.Equal(t, types.InterruptionResolved, intr.Status)
	assert.Equal(t, SolverHuman, intr.SolverType)
}

func TestResolve_TransientPollErrorsAreRetried(t *testing.T) {
	solver := &fakeSolver{results: []pollStep{
		{err: errors.New("connection reset")},
		{result: captcha.PollResult{Ready: true, Token: "tok"}},
	}}
	b, _ := newTestBroker(solver, nil, Config{})

	intr := captchaInterruption(types.CaptchaRecaptchaV3)
	require.NoError(t, b.Resolve(context.Background(), testTask(), intr, nil))
	assert.Equal(t, types.InterruptionResolved, intr.Status)
	assert.Equal(t, 2, intr.Attempts)
}

func TestResolve_SubmitFailureWithoutNotifierAbandons(t *testing.T) {
	solver := &fakeSolver{submitErr: errors.New("ERROR_ZERO_BALANCE")}
	b, _ := newTestBroker(solver, nil, Config{})

	intr := captchaInterruption(types.CaptchaRecaptchaV2)
	var seen []types.Interruption
	require.NoError(t, b.Resolve(context.Background(), testTask(), intr, collect(&seen)))

	assert.Equal(t, types.InterruptionAbandoned, intr.Status)
	assert.Equal(t, "no notification channel configured", intr.Reason)
	assert.Len(t, seen, 2)
}

func TestResolve_HumanReplies(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		replied bool
		want    types.InterruptionStatus
		reason  string
	}{
		{name: "continue", reply: "continue", replied: true, want: types.InterruptionResolved},
		{name: "retry mixed case", reply: "RETRY", replied: true, want: types.InterruptionResolved},
		{name: "fixed with spaces", reply: "  fixed\n", replied: true, want: types.InterruptionResolved},
		{name: "other reply", reply: "skip this one", replied: true, want: types.InterruptionAbandoned, reason: `operator replied "skip this one"`},
		{name: "timeout", replied: false, want: types.InterruptionAbandoned, reason: "no reply within 2m0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &fakeNotifier{delivered: true, reply: tt.reply, replied: tt.replied}
			b, _ := newTestBroker(nil, n, Config{HumanTimeout: 2 * time.Minute})

			intr := types.NewInterruption(types.InterruptTwoFactor)
			require.NoError(t, b.Resolve(context.Background(), testTask(), intr, nil))

			assert.Equal(t, tt.want, intr.Status)
			assert.Equal(t, SolverHuman, intr.SolverType)
			assert.Equal(t, 2*time.Minute, n.waited)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, intr.Reason)
			}
		})
	}
}

func TestResolve_UndeliveredNotificationAbandons(t *testing.T) {
	n := &fakeNotifier{delivered: false}
	b, _ := newTestBroker(nil, n, Config{})

	intr := types.NewInterruption(types.InterruptTwoFactor)
	require.NoError(t, b.Resolve(context.Background(), testTask(), intr, nil))
	assert.Equal(t, types.InterruptionAbandoned, intr.Status)
	assert.Equal(t, "notification not delivered", intr.Reason)
}

func TestResolve_ReviewCheckpoint(t *testing.T) {
	t.Run("auto acknowledged", func(t *testing.T) {
		n := &fakeNotifier{delivered: true}
		b, _ := newTestBroker(nil, n, Config{AutoAcknowledgeReview: true})

		intr := types.NewInterruption(types.InterruptReviewCheckpoint)
		require.NoError(t, b.Resolve(context.Background(), testTask(), intr, nil))
		assert.Equal(t, types.InterruptionResolved, intr.Status)
		assert.Equal(t, SolverAuto, intr.SolverType)
		assert.Empty(t, n.sent)
	})

	t.Run("operator confirms", func(t *testing.T) {
		n := &fakeNotifier{delivered: true, reply: "continue", replied: true}
		b, _ := newTestBroker(nil, n, Config{})

		task := testTask()
		intr := types.NewInterruption(types.InterruptReviewCheckpoint)
		require.NoError(t, b.Resolve(context.Background(), task, intr, nil))
		assert.Equal(t, types.InterruptionResolved, intr.Status)
		require.Len(t, n.sent, 1)
		assert.Contains(t, n.sent[0].Text, "review_checkpoint")
		assert.Contains(t, n.sent[0].Text, "Backend Engineer at Acme")
		assert.Equal(t, ReplyRef(task), n.sent[0].Ref)
		assert.Equal(t, n.sent[0].Ref, n.ref)
		assert.Contains(t, n.sent[0].Text, "start your message with "+n.ref)
	})
}

func TestResolve_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	solver := &fakeSolver{results: []pollStep{{result: captcha.PollResult{}}}}
	b, _ := newTestBroker(solver, &fakeNotifier{delivered: true}, Config{})

	intr := captchaInterruption(types.CaptchaRecaptchaV2)
	err := b.Resolve(ctx, testTask(), intr, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.InterruptionAbandoned, intr.Status)
	assert.Equal(t, 0, solver.polls)
}

func TestPollBudget(t *testing.T) {
	polls, interval := PollBudget(types.CaptchaImage)
	assert.Equal(t, 10, polls)
	assert.Equal(t, 3*time.Second, interval)

	for _, kind := range []types.CaptchaKind{types.CaptchaRecaptchaV2, types.CaptchaRecaptchaV3, types.CaptchaHCaptcha} {
		polls, interval = PollBudget(kind)
		assert.Equal(t, 20, polls)
		assert.Equal(t, 5*time.Second, interval)
	}
}

func TestIsResumeReply(t *testing.T) {
	assert.True(t, IsResumeReply("Continue"))
	assert.True(t, IsResumeReply(" retry "))
	assert.True(t, IsResumeReply("FIXED"))
	assert.False(t, IsResumeReply("continue later"))
	assert.False(t, IsResumeReply(""))
}
