package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/duplexchat/duplex/internal/store"
)

func TestIsParticipant(t *testing.T) {
	thread := &store.Thread{
		ID:           "thread-1",
		Participants: []string{"alice", "bob"},
	}

	assert.True(t, IsParticipant(thread, "alice"))
	assert.True(t, IsParticipant(thread, "bob"))
	assert.False(t, IsParticipant(thread, "carol"))
	assert.False(t, IsParticipant(nil, "alice"))
}

func TestIsSender(t *testing.T) {
	msg := &store.Message{ID: "msg-1", Sender: "alice"}

	assert.True(t, IsSender(msg, "alice"))
	assert.False(t, IsSender(msg, "bob"))
	assert.False(t, IsSender(nil, "alice"))
}

func TestRequireParticipant(t *testing.T) {
	thread := &store.Thread{Participants: []string{"alice", "bob"}}

	assert.NoError(t, RequireParticipant(thread, "alice"))
	assert.ErrorIs(t, RequireParticipant(thread, "carol"), ErrForbidden)
}

func TestRequireSender(t *testing.T) {
	msg := &store.Message{Sender: "alice"}

	assert.NoError(t, RequireSender(msg, "alice"))
	assert.ErrorIs(t, RequireSender(msg, "bob"), ErrForbidden)
}
