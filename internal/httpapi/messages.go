// ABOUTME: Message and read-state route handlers
// ABOUTME: Message CRUD plus mark-as-read and unread counting

package httpapi

import (
	"net/http"
	"time"

	"github.com/samber/lo"

	"github.com/duplexchat/duplex/internal/auth"
	"github.com/duplexchat/duplex/internal/message"
	"github.com/duplexchat/duplex/internal/store"
)

type createMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

type patchMessageRequest struct {
	Text *string `json:"text"`
}

type messageResponse struct {
	ID       string    `json:"id"`
	ThreadID string    `json:"thread_id"`
	Sender   string    `json:"sender"`
	Text     string    `json:"text"`
	IsRead   bool      `json:"is_read"`
	Created  time.Time `json:"created"`
}

type markReadResponse struct {
	Status  string          `json:"status"`
	Message messageResponse `json:"message"`
}

type unreadCountResponse struct {
	ThreadID    string `json:"thread_id"`
	UnreadCount int    `json:"unread_count"`
}

func toMessageResponse(m *store.Message) messageResponse {
	return messageResponse{
		ID:       m.ID,
		ThreadID: m.ThreadID,
		Sender:   m.Sender,
		Text:     m.Text,
		IsRead:   m.IsRead,
		Created:  m.CreatedAt,
	}
}

func (a *API) handleMessageCreate(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	var req createMessageRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	msg, err := a.messages.Create(r.Context(), actor.UserID, r.PathValue("id"), req.Text)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

func (a *API) handleMessageList(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	msgs, err := a.messages.List(r.Context(), actor.UserID, r.PathValue("id"), pageFromQuery(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, lo.Map(msgs, func(m *store.Message, _ int) messageResponse {
		return toMessageResponse(m)
	}))
}

func (a *API) handleMessageGet(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	msg, err := a.messages.Get(r.Context(), actor.UserID, r.PathValue("id"), r.PathValue("mid"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(msg))
}

func (a *API) handleMessageUpdate(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	var req patchMessageRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	msg, err := a.messages.Update(r.Context(), actor.UserID, r.PathValue("id"), r.PathValue("mid"), message.Patch{Text: req.Text})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(msg))
}

func (a *API) handleMessageDestroy(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	if err := a.messages.Destroy(r.Context(), actor.UserID, r.PathValue("id"), r.PathValue("mid")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMarkRead marks a message read for the caller. A sender calling it
// on their own message gets 200 with a sender_noop status rather than an
// error; repeated calls report already_read.
func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	result, err := a.reads.MarkAsRead(r.Context(), actor.UserID, r.PathValue("id"), r.PathValue("mid"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, markReadResponse{
		Status:  string(result.Outcome),
		Message: toMessageResponse(result.Message),
	})
}

func (a *API) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	count, err := a.reads.UnreadCount(r.Context(), actor.UserID, r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, unreadCountResponse{
		ThreadID:    count.ThreadID,
		UnreadCount: count.UnreadCount,
	})
}
