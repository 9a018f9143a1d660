// ABOUTME: Store interface and data types for duplex persistence
// ABOUTME: Defines User, Thread, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateThread is returned when a thread already exists for a participant pair
var ErrDuplicateThread = errors.New("thread already exists")

// ErrDuplicateUser is returned when a username is already taken
var ErrDuplicateUser = errors.New("user already exists")

// ErrUnavailable is returned for transient store failures that are safe to retry
var ErrUnavailable = errors.New("store unavailable")

// User is a directory entry for an account that can participate in threads.
// Authentication happens elsewhere; the store only resolves identities.
type User struct {
	ID        string
	Username  string
	CreatedAt time.Time
}

// Thread is a conversation container between exactly two users.
// Participants is always length 2 for persisted threads and is immutable
// after creation.
type Thread struct {
	ID           string
	Participants []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message is a single message within a thread. Sender and ThreadID are
// immutable after creation; IsRead only ever transitions false to true.
type Message struct {
	ID        string
	ThreadID  string
	Sender    string
	Text      string
	IsRead    bool
	CreatedAt time.Time
}

// Page bounds a list query. Offset 0 means from the start, Limit 0 means
// the store default.
type Page struct {
	Offset int
	Limit  int
}

// Store defines the interface for user, thread and message persistence
type Store interface {
	// Users (directory)
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// Threads
	CreateThread(ctx context.Context, thread *Thread) error
	GetThread(ctx context.Context, id string) (*Thread, error)
	GetThreadByParticipants(ctx context.Context, a, b string) (*Thread, error)
	TouchThread(ctx context.Context, id string, updatedAt time.Time) error
	ListThreadsForUser(ctx context.Context, userID string, page Page) ([]*Thread, error)
	DeleteThread(ctx context.Context, id string) error

	// Messages
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, threadID, id string) (*Message, error)
	ListMessages(ctx context.Context, threadID string, page Page) ([]*Message, error)
	UpdateMessageText(ctx context.Context, threadID, id, text string) error
	DeleteMessage(ctx context.Context, threadID, id string) error

	// Read state
	MarkMessageRead(ctx context.Context, threadID, id string) (changed bool, err error)
	CountUnread(ctx context.Context, threadID, excludeSender string) (int, error)

	// Close releases any resources held by the store
	Close() error
}
