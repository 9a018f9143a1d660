// ABOUTME: Thread route handlers
// ABOUTME: Find-or-create pairing, listing, retrieval, update and destroy

package httpapi

import (
	"net/http"
	"time"

	"github.com/samber/lo"

	"github.com/duplexchat/duplex/internal/auth"
	"github.com/duplexchat/duplex/internal/store"
	"github.com/duplexchat/duplex/internal/thread"
)

type findOrCreateThreadRequest struct {
	Participant string `json:"participant" validate:"required"`
}

type threadResponse struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

func toThreadResponse(t *store.Thread) threadResponse {
	return threadResponse{
		ID:           t.ID,
		Participants: t.Participants,
		Created:      t.CreatedAt,
		Updated:      t.UpdatedAt,
	}
}

// handleThreadFindOrCreate opens the thread between the caller and another
// user. Responds 201 when this request created the thread and 200 when the
// pair already had one.
func (a *API) handleThreadFindOrCreate(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	var req findOrCreateThreadRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	t, created, err := a.threads.FindOrCreate(r.Context(), actor.UserID, req.Participant)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toThreadResponse(t))
}

func (a *API) handleThreadList(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	threads, err := a.threads.ListForUser(r.Context(), actor.UserID, pageFromQuery(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, lo.Map(threads, func(t *store.Thread, _ int) threadResponse {
		return toThreadResponse(t)
	}))
}

func (a *API) handleThreadGet(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	t, err := a.threads.Get(r.Context(), actor.UserID, r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toThreadResponse(t))
}

func (a *API) handleThreadUpdate(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	// Participants are fixed for a thread's lifetime, so the patch body
	// carries no fields. Strict decoding still rejects attempts to smuggle
	// in changes to immutable fields.
	var patch struct{}
	if !a.decodeAndValidate(w, r, &patch) {
		return
	}

	t, err := a.threads.Update(r.Context(), actor.UserID, r.PathValue("id"), thread.Patch{})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toThreadResponse(t))
}

func (a *API) handleThreadDestroy(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	if err := a.threads.Destroy(r.Context(), actor.UserID, r.PathValue("id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
