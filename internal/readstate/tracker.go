// ABOUTME: Read-state tracker for marking messages read and counting unread
// ABOUTME: Read flags are monotonic and mark-as-read is safe under concurrency

package readstate

import (
	"context"
	"log/slog"

	"github.com/duplexchat/duplex/internal/access"
	"github.com/duplexchat/duplex/internal/store"
)

// Outcome describes what a mark-as-read call actually did.
type Outcome string

const (
	// OutcomeMarked means this call flipped the read flag.
	OutcomeMarked Outcome = "marked"

	// OutcomeAlreadyRead means the message was read before this call;
	// the call is an idempotent no-op.
	OutcomeAlreadyRead Outcome = "already_read"

	// OutcomeSenderNoop means the actor is the message's sender. Senders
	// don't mark their own messages read; the call succeeds without
	// touching state.
	OutcomeSenderNoop Outcome = "sender_noop"
)

// MarkResult is the outcome of a mark-as-read call together with the
// message's current state.
type MarkResult struct {
	Message *store.Message
	Outcome Outcome
}

// Count reports the unread messages addressed to an actor in a thread.
type Count struct {
	ThreadID    string
	UnreadCount int
}

// ReadStateStore defines what the tracker needs from storage
type ReadStateStore interface {
	GetThread(ctx context.Context, id string) (*store.Thread, error)
	GetMessage(ctx context.Context, threadID, id string) (*store.Message, error)
	MarkMessageRead(ctx context.Context, threadID, id string) (changed bool, err error)
	CountUnread(ctx context.Context, threadID, excludeSender string) (int, error)
}

// Tracker computes and mutates per-user read status.
type Tracker struct {
	store  ReadStateStore
	logger *slog.Logger
}

// NewTracker creates a read-state tracker.
func NewTracker(s ReadStateStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:  s,
		logger: logger.With("component", "readstate"),
	}
}

// MarkAsRead marks a message read on behalf of the actor. The actor must
// be a thread participant; the sender marking their own message is a
// benign no-op, not an error. The underlying flip is a compare-and-set,
// so concurrent calls converge to read without a lost update.
func (t *Tracker) MarkAsRead(ctx context.Context, actor, threadID, messageID string) (*MarkResult, error) {
	msg, err := t.store.GetMessage(ctx, threadID, messageID)
	if err != nil {
		return nil, err
	}

	thread, err := t.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	if err := access.RequireParticipant(thread, actor); err != nil {
		return nil, err
	}

	if access.IsSender(msg, actor) {
		return &MarkResult{Message: msg, Outcome: OutcomeSenderNoop}, nil
	}

	changed, err := t.store.MarkMessageRead(ctx, threadID, messageID)
	if err != nil {
		return nil, err
	}

	msg.IsRead = true
	outcome := OutcomeAlreadyRead
	if changed {
		outcome = OutcomeMarked
		t.logger.Debug("message marked read",
			"message_id", messageID, "thread_id", threadID, "actor", actor)
	}

	return &MarkResult{Message: msg, Outcome: outcome}, nil
}

// UnreadCount counts the unread messages in a thread sent TO the actor.
// The actor's own unread messages never count. The actor must be a
// thread participant.
func (t *Tracker) UnreadCount(ctx context.Context, actor, threadID string) (*Count, error) {
	thread, err := t.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	if err := access.RequireParticipant(thread, actor); err != nil {
		return nil, err
	}

	n, err := t.store.CountUnread(ctx, threadID, actor)
	if err != nil {
		return nil, err
	}

	return &Count{ThreadID: threadID, UnreadCount: n}, nil
}
