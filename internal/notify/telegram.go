package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultTelegramURL is the Bot API endpoint.
const DefaultTelegramURL = "https://api.telegram.org"

// maxLongPoll caps a single getUpdates wait.
const maxLongPoll = 30 * time.Second

// Telegram implements Notifier with the Telegram Bot API.
//
// Replies are read by one getUpdates loop per bot, running only while someone
// waits. A message is routed to a waiter when it replies to a message sent with
// that waiter's ref, when it starts with the ref ("1a2b3c4d continue"), or when
// exactly one waiter exists.
type Telegram struct {
	token    string
	chatID   string
	baseURL  string
	client   *http.Client
	pollWait time.Duration

	syncMu sync.Mutex
	synced bool

	mu      sync.Mutex
	offset  int64
	reading bool
	sent    map[int64]string
	waiters map[string]chan string
}

// NewTelegram creates a Telegram notifier. An empty token disables delivery.
func NewTelegram(token, chatID, baseURL string) *Telegram {
	if baseURL == "" {
		baseURL = DefaultTelegramURL
	}
	return &Telegram{
		token:    token,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{},
		pollWait: maxLongPoll,
		sent:     make(map[int64]string),
		waiters:  make(map[string]chan string),
	}
}

// Configured reports whether the bot token and chat are set.
func (t *Telegram) Configured() bool {
	return t.token != "" && t.chatID != ""
}

type apiEnvelope struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		ReplyTo *sentMessage `json:"reply_to_message"`
	} `json:"message"`
}

// Send implements Notifier.
func (t *Telegram) Send(ctx context.Context, msg Message) (bool, error) {
	if !t.Configured() {
		log.Printf("[NOTIFY] Telegram not configured, skipping: %.50s", msg.Text)
		return false, nil
	}
	// replies that arrived before this message must not answer it
	if err := t.sync(ctx); err != nil {
		log.Printf("[NOTIFY] warning: failed to sync updates: %v", err)
	}

	if msg.Text != "" {
		body, err := json.Marshal(map[string]string{"chat_id": t.chatID, "text": msg.Text})
		if err != nil {
			return false, fmt.Errorf("failed to encode message: %w", err)
		}
		raw, err := t.call(ctx, "sendMessage", "application/json", bytes.NewReader(body))
		if err != nil {
			return false, fmt.Errorf("failed to send message: %w", err)
		}
		t.remember(raw, msg.Ref)
	}

	if len(msg.Photo) > 0 {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		_ = mw.WriteField("chat_id", t.chatID)
		if msg.Caption != "" {
			_ = mw.WriteField("caption", msg.Caption)
		}
		part, err := mw.CreateFormFile("photo", "screenshot.png")
		if err != nil {
			return false, fmt.Errorf("failed to build photo upload: %w", err)
		}
		if _, err := part.Write(msg.Photo); err != nil {
			return false, fmt.Errorf("failed to build photo upload: %w", err)
		}
		if err := mw.Close(); err != nil {
			return false, fmt.Errorf("failed to build photo upload: %w", err)
		}
		raw, err := t.call(ctx, "sendPhoto", mw.FormDataContentType(), &buf)
		if err != nil {
			return false, fmt.Errorf("failed to send photo: %w", err)
		}
		t.remember(raw, msg.Ref)
	}
	return true, nil
}

// remember maps a sent message to its ref so replies to it can be routed.
func (t *Telegram) remember(raw json.RawMessage, ref string) {
	if ref == "" {
		return
	}
	var m sentMessage
	if err := json.Unmarshal(raw, &m); err != nil || m.MessageID == 0 {
		return
	}
	t.mu.Lock()
	t.sent[m.MessageID] = ref
	t.mu.Unlock()
}

// AwaitReply waits for the operator's answer to the messages sent with ref.
// Only one waiter per ref is allowed at a time.
func (t *Telegram) AwaitReply(ctx context.Context, ref string, timeout time.Duration) (string, bool, error) {
	if !t.Configured() {
		return "", false, nil
	}
	ref = strings.ToLower(strings.TrimSpace(ref))
	if ref == "" {
		return "", false, fmt.Errorf("reply ref is required")
	}

	ch := make(chan string, 1)
	t.mu.Lock()
	if _, busy := t.waiters[ref]; busy {
		t.mu.Unlock()
		return "", false, fmt.Errorf("already waiting for a reply to %s", ref)
	}
	t.waiters[ref] = ch
	if !t.reading {
		t.reading = true
		go t.readUpdates()
	}
	t.mu.Unlock()

	defer t.release(ref, ch)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		return reply, true, nil
	case <-timer.C:
		return "", false, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// release drops the waiter and the sent messages that pointed at it.
func (t *Telegram) release(ref string, ch chan string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.waiters[ref] == ch {
		delete(t.waiters, ref)
	}
	for id, r := range t.sent {
		if r == ref {
			delete(t.sent, id)
		}
	}
}

// readUpdates is the only getUpdates caller while waiters exist. It stops once
// the last waiter is gone.
func (t *Telegram) readUpdates() {
	ctx := context.Background()
	for {
		t.mu.Lock()
		if len(t.waiters) == 0 {
			t.reading = false
			t.mu.Unlock()
			return
		}
		offset := t.offset
		t.mu.Unlock()

		updates, err := t.getUpdates(ctx, offset, t.pollWait)
		if err != nil {
			log.Printf("[NOTIFY] warning: getUpdates failed: %v", err)
			time.Sleep(time.Second)
			continue
		}
		t.dispatch(updates)
	}
}

func (t *Telegram) dispatch(updates []update) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, u := range updates {
		if u.UpdateID >= t.offset {
			t.offset = u.UpdateID + 1
		}
		if u.Message == nil || strconv.FormatInt(u.Message.Chat.ID, 10) != t.chatID {
			continue
		}
		text := strings.TrimSpace(u.Message.Text)
		if text == "" {
			continue
		}
		ref, reply, ok := t.route(u.Message.ReplyTo, text)
		if !ok {
			log.Printf("[NOTIFY] reply %q matches no waiting application, ignoring", text)
			continue
		}
		ch := t.waiters[ref]
		delete(t.waiters, ref)
		ch <- reply
	}
}

// route picks the waiter for a message. Callers hold t.mu.
func (t *Telegram) route(replyTo *sentMessage, text string) (ref, reply string, ok bool) {
	if replyTo != nil {
		if r, known := t.sent[replyTo.MessageID]; known {
			if _, waiting := t.waiters[r]; waiting {
				return r, text, true
			}
		}
	}
	if fields := strings.Fields(text); len(fields) > 0 {
		r := strings.ToLower(strings.TrimRight(fields[0], ":"))
		if _, waiting := t.waiters[r]; waiting {
			return r, strings.TrimSpace(strings.Join(fields[1:], " ")), true
		}
	}
	if len(t.waiters) == 1 {
		for r := range t.waiters {
			return r, text, true
		}
	}
	return "", "", false
}

// sync advances the offset past every pending update, once. It is skipped while
// the reader loop owns getUpdates.
func (t *Telegram) sync(ctx context.Context) error {
	t.syncMu.Lock()
	defer t.syncMu.Unlock()
	if t.synced {
		return nil
	}

	t.mu.Lock()
	reading := t.reading
	t.mu.Unlock()
	if reading {
		t.synced = true
		return nil
	}

	updates, err := t.getUpdates(ctx, -1, 0)
	if err != nil {
		return err
	}

	t.mu.Lock()
	for _, u := range updates {
		if u.UpdateID >= t.offset {
			t.offset = u.UpdateID + 1
		}
	}
	t.mu.Unlock()
	t.synced = true
	return nil
}

func (t *Telegram) getUpdates(ctx context.Context, offset int64, wait time.Duration) ([]update, error) {
	query := url.Values{}
	query.Set("offset", strconv.FormatInt(offset, 10))
	query.Set("timeout", strconv.Itoa(int(wait/time.Second)))
	query.Set("allowed_updates", `["message"]`)

	reqCtx, cancel := context.WithTimeout(ctx, wait+10*time.Second)
	defer cancel()

	raw, err := t.call(reqCtx, "getUpdates?"+query.Encode(), "", nil)
	if err != nil {
		return nil, err
	}
	var updates []update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("failed to decode updates: %w", err)
	}
	return updates, nil
}

func (t *Telegram) call(ctx context.Context, method, contentType string, body io.Reader) (json.RawMessage, error) {
	httpMethod := http.MethodGet
	if body != nil {
		httpMethod = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var env apiEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&env); err != nil {
		return nil, fmt.Errorf("invalid Telegram response (HTTP %d): %w", resp.StatusCode, err)
	}
	if !env.OK {
		return nil, fmt.Errorf("telegram API error: %s", env.Description)
	}
	return env.Result, nil
}
