// Package notify reaches the human operator for interventions and status updates.
package notify

import (
	"context"
	"fmt"
	"time"
)

// Message is a notification with an optional image attachment.
// Ref names the conversation a later reply belongs to, usually a short task ID.
type Message struct {
	Text    string
	Photo   []byte
	Caption string
	Ref     string
}

// Notifier sends messages to the operator and waits for replies.
type Notifier interface {
	// Send delivers a message. delivered is false when the channel is not configured.
	Send(ctx context.Context, msg Message) (delivered bool, err error)
	// AwaitReply blocks until the operator answers the messages sent with ref or
	// timeout elapses. ok is false on timeout.
	AwaitReply(ctx context.Context, ref string, timeout time.Duration) (reply string, ok bool, err error)
}

// NotifyCompletion reports the terminal outcome of an application.
func NotifyCompletion(ctx context.Context, n Notifier, company, title, status, reason string) {
	mark := "✅"
	if status != "review_ready" && status != "submitted" {
		mark = "⚠️"
	}
	text := fmt.Sprintf("%s Application to %s at %s - Status: %s", mark, title, company, status)
	if reason != "" {
		text += "\n" + reason
	}
	_, _ = n.Send(ctx, Message{Text: text})
}
