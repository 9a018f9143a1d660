// ABOUTME: HTTP API surface for the messaging service
// ABOUTME: Routes, request decoding, error-to-status mapping and user provisioning

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/duplexchat/duplex/internal/access"
	"github.com/duplexchat/duplex/internal/message"
	"github.com/duplexchat/duplex/internal/readstate"
	"github.com/duplexchat/duplex/internal/store"
	"github.com/duplexchat/duplex/internal/thread"
)

// UserDirectory covers the user operations the API needs.
type UserDirectory interface {
	CreateUser(ctx context.Context, user *store.User) error
	GetUser(ctx context.Context, id string) (*store.User, error)
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
}

// API wires the domain services to HTTP routes.
type API struct {
	threads  *thread.Registry
	messages *message.Service
	reads    *readstate.Tracker
	users    UserDirectory
	validate *validator.Validate
	logger   *slog.Logger
}

// New creates the API handler set.
func New(threads *thread.Registry, messages *message.Service, reads *readstate.Tracker, users UserDirectory, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		threads:  threads,
		messages: messages,
		reads:    reads,
		users:    users,
		validate: validator.New(),
		logger:   logger.With("component", "httpapi"),
	}
}

// Handler builds the route tree. Everything under /api except user
// provisioning sits behind the supplied auth middleware.
func (a *API) Handler(authMiddleware func(http.Handler) http.Handler) http.Handler {
	protected := http.NewServeMux()

	protected.HandleFunc("GET /api/users/{username}", a.handleUserLookup)

	protected.HandleFunc("GET /api/threads", a.handleThreadList)
	protected.HandleFunc("POST /api/threads", a.handleThreadFindOrCreate)
	protected.HandleFunc("GET /api/threads/{id}", a.handleThreadGet)
	protected.HandleFunc("PATCH /api/threads/{id}", a.handleThreadUpdate)
	protected.HandleFunc("DELETE /api/threads/{id}", a.handleThreadDestroy)

	protected.HandleFunc("GET /api/threads/{id}/messages", a.handleMessageList)
	protected.HandleFunc("POST /api/threads/{id}/messages", a.handleMessageCreate)
	protected.HandleFunc("GET /api/threads/{id}/messages/unread_count", a.handleUnreadCount)
	protected.HandleFunc("GET /api/threads/{id}/messages/{mid}", a.handleMessageGet)
	protected.HandleFunc("PATCH /api/threads/{id}/messages/{mid}", a.handleMessageUpdate)
	protected.HandleFunc("DELETE /api/threads/{id}/messages/{mid}", a.handleMessageDestroy)
	protected.HandleFunc("POST /api/threads/{id}/messages/{mid}/read", a.handleMarkRead)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("POST /api/users", a.handleUserCreate)
	mux.Handle("/api/", authMiddleware(protected))

	return mux
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
}

type userResponse struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Created  time.Time `json:"created"`
}

func (a *API) handleUserCreate(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	user := &store.User{
		ID:        uuid.New().String(),
		Username:  req.Username,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.users.CreateUser(r.Context(), user); err != nil {
		a.writeError(w, r, err)
		return
	}

	a.logger.Info("user created", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, userResponse{
		ID:       user.ID,
		Username: user.Username,
		Created:  user.CreatedAt,
	})
}

// handleUserLookup resolves a username to a directory entry, so callers
// can find the other participant's ID before opening a thread.
func (a *API) handleUserLookup(w http.ResponseWriter, r *http.Request) {
	user, err := a.users.GetUserByUsername(r.Context(), r.PathValue("username"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{
		ID:       user.ID,
		Username: user.Username,
		Created:  user.CreatedAt,
	})
}

// decodeAndValidate decodes a strict JSON body into dst and runs struct
// validation. Unknown fields are rejected rather than silently dropped.
// Writes the error response itself and reports whether decoding succeeded.
func (a *API) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation failed: " + err.Error()})
		return false
	}
	return true
}

// pageFromQuery reads limit/offset query parameters. Values that fail to
// parse fall back to the store defaults.
func pageFromQuery(r *http.Request) store.Page {
	var page store.Page
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			page.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			page.Offset = n
		}
	}
	return page
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps domain errors to HTTP statuses. Not-found and forbidden
// are kept distinct: a non-participant probing a thread gets 403, a thread
// that does not exist gets 404.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, access.ErrForbidden):
		status, msg = http.StatusForbidden, "you do not have permission to perform this action"
	case errors.Is(err, thread.ErrUnknownParticipant):
		status, msg = http.StatusNotFound, "participant does not exist"
	case errors.Is(err, store.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, thread.ErrMissingParticipant),
		errors.Is(err, thread.ErrSelfThread),
		errors.Is(err, thread.ErrParticipantLimit),
		errors.Is(err, message.ErrEmptyText):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, store.ErrDuplicateUser):
		status, msg = http.StatusConflict, "username already taken"
	case errors.Is(err, store.ErrUnavailable):
		status, msg = http.StatusServiceUnavailable, "temporarily unavailable"
	}

	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
