// ABOUTME: Message service owning message lifecycle within a thread
// ABOUTME: Enforces participant access and sender-only mutation rights

package message

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/duplexchat/duplex/internal/access"
	"github.com/duplexchat/duplex/internal/store"
)

// ErrEmptyText is returned when a message is created or updated with no content.
var ErrEmptyText = errors.New("text is required")

// MessageStore defines what the service needs from storage
type MessageStore interface {
	GetThread(ctx context.Context, id string) (*store.Thread, error)
	TouchThread(ctx context.Context, id string, updatedAt time.Time) error

	CreateMessage(ctx context.Context, msg *store.Message) error
	GetMessage(ctx context.Context, threadID, id string) (*store.Message, error)
	ListMessages(ctx context.Context, threadID string, page store.Page) ([]*store.Message, error)
	UpdateMessageText(ctx context.Context, threadID, id, text string) error
	DeleteMessage(ctx context.Context, threadID, id string) error
}

// Service owns message operations within threads.
type Service struct {
	store  MessageStore
	logger *slog.Logger
}

// NewService creates a message service.
func NewService(s MessageStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  s,
		logger: logger.With("component", "message"),
	}
}

// Patch enumerates the mutable message fields. Text is the only one;
// sender, thread and the read flag are immutable through updates.
type Patch struct {
	Text *string
}

// Create stores a new message authored by the actor in the given thread.
// The actor must be a thread participant; the message starts unread.
func (s *Service) Create(ctx context.Context, actor, threadID, text string) (*store.Message, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if err := access.RequireParticipant(thread, actor); err != nil {
		return nil, err
	}

	now := time.Now()
	msg := &store.Message{
		ID:        uuid.New().String(),
		ThreadID:  threadID,
		Sender:    actor,
		Text:      text,
		IsRead:    false,
		CreatedAt: now,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	// Message activity counts as thread activity. Best effort: the
	// message is already persisted, a touch failure is not fatal.
	if err := s.store.TouchThread(ctx, threadID, now); err != nil {
		s.logger.Warn("failed to touch thread after message create",
			"thread_id", threadID, "error", err)
	}

	s.logger.Debug("message created", "message_id", msg.ID, "thread_id", threadID, "sender", actor)
	return msg, nil
}

// List returns the thread's messages in creation order. The actor must be
// a thread participant.
func (s *Service) List(ctx context.Context, actor, threadID string, page store.Page) ([]*store.Message, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if err := access.RequireParticipant(thread, actor); err != nil {
		return nil, err
	}

	return s.store.ListMessages(ctx, threadID, page)
}

// Get returns a single message scoped to a thread. The actor must be a
// thread participant.
func (s *Service) Get(ctx context.Context, actor, threadID, id string) (*store.Message, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if err := access.RequireParticipant(thread, actor); err != nil {
		return nil, err
	}

	return s.store.GetMessage(ctx, threadID, id)
}

// Update applies a partial update to a message. Only the sender may
// update, and only the text may change.
func (s *Service) Update(ctx context.Context, actor, threadID, id string, patch Patch) (*store.Message, error) {
	msg, err := s.store.GetMessage(ctx, threadID, id)
	if err != nil {
		return nil, err
	}
	if err := access.RequireSender(msg, actor); err != nil {
		return nil, err
	}

	if patch.Text == nil {
		// Nothing to change; partial update with no fields is a no-op.
		return msg, nil
	}
	if *patch.Text == "" {
		return nil, ErrEmptyText
	}

	if err := s.store.UpdateMessageText(ctx, threadID, id, *patch.Text); err != nil {
		return nil, err
	}
	msg.Text = *patch.Text

	s.logger.Debug("message updated", "message_id", id, "thread_id", threadID)
	return msg, nil
}

// Destroy deletes a message. Only the sender may delete.
func (s *Service) Destroy(ctx context.Context, actor, threadID, id string) error {
	msg, err := s.store.GetMessage(ctx, threadID, id)
	if err != nil {
		return err
	}
	if err := access.RequireSender(msg, actor); err != nil {
		return err
	}

	if err := s.store.DeleteMessage(ctx, threadID, id); err != nil {
		return err
	}

	s.logger.Debug("message destroyed", "message_id", id, "thread_id", threadID)
	return nil
}
