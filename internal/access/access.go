// ABOUTME: Access control policy for thread and message operations
// ABOUTME: Pure predicates plus Require helpers that fail with ErrForbidden

package access

import (
	"errors"

	"github.com/duplexchat/duplex/internal/store"
)

// ErrForbidden is returned when the actor lacks the required relationship
// to the entity (not a participant, or not the sender).
var ErrForbidden = errors.New("forbidden")

// IsParticipant reports whether the user is one of the thread's participants.
func IsParticipant(thread *store.Thread, userID string) bool {
	if thread == nil {
		return false
	}
	for _, p := range thread.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// IsSender reports whether the user authored the message.
func IsSender(msg *store.Message, userID string) bool {
	return msg != nil && msg.Sender == userID
}

// RequireParticipant returns ErrForbidden unless the user is a thread participant.
func RequireParticipant(thread *store.Thread, userID string) error {
	if !IsParticipant(thread, userID) {
		return ErrForbidden
	}
	return nil
}

// RequireSender returns ErrForbidden unless the user authored the message.
func RequireSender(msg *store.Message, userID string) error {
	if !IsSender(msg, userID) {
		return ErrForbidden
	}
	return nil
}
