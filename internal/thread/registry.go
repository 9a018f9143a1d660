// ABOUTME: Thread registry owning thread lifecycle and the 2-participant invariant
// ABOUTME: Implements idempotent find-or-create-by-pair with duplicate-race retry

package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/duplexchat/duplex/internal/access"
	"github.com/duplexchat/duplex/internal/store"
)

// Validation and argument errors surfaced by the registry.
var (
	// ErrMissingParticipant is returned when find-or-create is called without
	// the other participant.
	ErrMissingParticipant = errors.New("participant is required")

	// ErrSelfThread is returned when a user tries to open a thread with
	// themselves. The legacy behavior allowed this silently; it is rejected
	// here as unintentional.
	ErrSelfThread = errors.New("cannot create a thread with yourself")

	// ErrUnknownParticipant is returned when the other participant does not
	// resolve to a real user.
	ErrUnknownParticipant = errors.New("participant does not exist")

	// ErrParticipantLimit is returned when a thread would hold more than
	// two participants.
	ErrParticipantLimit = errors.New("a thread can't have more than 2 participants")
)

// ThreadStore defines what the registry needs from storage
type ThreadStore interface {
	CreateThread(ctx context.Context, thread *store.Thread) error
	GetThread(ctx context.Context, id string) (*store.Thread, error)
	GetThreadByParticipants(ctx context.Context, a, b string) (*store.Thread, error)
	TouchThread(ctx context.Context, id string, updatedAt time.Time) error
	ListThreadsForUser(ctx context.Context, userID string, page store.Page) ([]*store.Thread, error)
	DeleteThread(ctx context.Context, id string) error
}

// UserDirectory resolves user references. The registry only needs it to
// validate that the other participant exists.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// Registry owns thread lifecycle and pairing.
type Registry struct {
	store     ThreadStore
	directory UserDirectory
	logger    *slog.Logger
}

// NewRegistry creates a thread registry.
func NewRegistry(s ThreadStore, directory UserDirectory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:     s,
		directory: directory,
		logger:    logger.With("component", "thread"),
	}
}

// Patch enumerates the mutable thread fields. Participants are fixed at
// creation, so there are currently no patchable domain fields; applying a
// patch revalidates the thread and refreshes its updated timestamp.
type Patch struct{}

// ValidateParticipants checks the participant-set invariant before any
// persist: never more than two, and exactly two distinct users at creation.
func ValidateParticipants(participants []string) error {
	if len(participants) > 2 {
		return ErrParticipantLimit
	}
	if len(participants) != 2 {
		return fmt.Errorf("thread requires exactly 2 participants, got %d", len(participants))
	}
	if participants[0] == participants[1] {
		return ErrSelfThread
	}
	return nil
}

// FindOrCreate returns the thread for the unordered pair {actor, other},
// creating it if absent, and reports whether this call created it. At
// most one thread ever exists per pair: the store's unique pair
// constraint backs this, and a creation race falls back to looking up
// the thread the concurrent request created.
func (r *Registry) FindOrCreate(ctx context.Context, actor, other string) (*store.Thread, bool, error) {
	if other == "" {
		return nil, false, ErrMissingParticipant
	}
	if other == actor {
		return nil, false, ErrSelfThread
	}

	if _, err := r.directory.GetUser(ctx, other); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, ErrUnknownParticipant
		}
		return nil, false, fmt.Errorf("resolving participant: %w", err)
	}

	existing, err := r.store.GetThreadByParticipants(ctx, actor, other)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	now := time.Now()
	thread := &store.Thread{
		ID:           uuid.New().String(),
		Participants: []string{actor, other},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := ValidateParticipants(thread.Participants); err != nil {
		return nil, false, err
	}

	if err := r.store.CreateThread(ctx, thread); err != nil {
		// Another request may have created the thread between our lookup
		// and insert. The unique pair index guarantees there is exactly
		// one winner; return it.
		if errors.Is(err, store.ErrDuplicateThread) {
			r.logger.Debug("thread creation hit duplicate, retrying lookup",
				"actor", actor, "other", other)
			existing, lookupErr := r.store.GetThreadByParticipants(ctx, actor, other)
			if lookupErr == nil {
				return existing, false, nil
			}
			r.logger.Error("retry lookup failed after duplicate error", "lookup_error", lookupErr)
			return nil, false, lookupErr
		}
		return nil, false, err
	}

	r.logger.Debug("thread created", "thread_id", thread.ID, "actor", actor, "other", other)
	return thread, true, nil
}

// ListForUser returns the actor's threads in creation order.
func (r *Registry) ListForUser(ctx context.Context, actor string, page store.Page) ([]*store.Thread, error) {
	return r.store.ListThreadsForUser(ctx, actor, page)
}

// Get returns a thread by ID. The actor must be a participant.
func (r *Registry) Get(ctx context.Context, actor, id string) (*store.Thread, error) {
	thread, err := r.store.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.RequireParticipant(thread, actor); err != nil {
		return nil, err
	}
	return thread, nil
}

// Update applies a partial update to a thread. Participants can never
// change; with no other domain fields defined, the patch revalidates the
// thread and refreshes its updated timestamp. The actor must be a
// participant.
func (r *Registry) Update(ctx context.Context, actor, id string, patch Patch) (*store.Thread, error) {
	thread, err := r.store.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.RequireParticipant(thread, actor); err != nil {
		return nil, err
	}

	if err := ValidateParticipants(thread.Participants); err != nil {
		return nil, err
	}

	now := time.Now()
	if err := r.store.TouchThread(ctx, id, now); err != nil {
		return nil, err
	}
	thread.UpdatedAt = now

	r.logger.Debug("updated thread", "thread_id", id)
	return thread, nil
}

// Destroy deletes a thread and all its messages. The actor must be a
// participant.
func (r *Registry) Destroy(ctx context.Context, actor, id string) error {
	thread, err := r.store.GetThread(ctx, id)
	if err != nil {
		return err
	}
	if err := access.RequireParticipant(thread, actor); err != nil {
		return err
	}

	if err := r.store.DeleteThread(ctx, id); err != nil {
		return err
	}
	r.logger.Debug("destroyed thread", "thread_id", id)
	return nil
}
