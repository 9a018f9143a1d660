package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duplexchat/duplex/internal/auth"
	"github.com/duplexchat/duplex/internal/message"
	"github.com/duplexchat/duplex/internal/readstate"
	"github.com/duplexchat/duplex/internal/store"
	"github.com/duplexchat/duplex/internal/thread"
)

type testEnv struct {
	handler  http.Handler
	verifier *auth.JWTVerifier
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	verifier := auth.NewJWTVerifier([]byte("test-secret"))
	api := New(
		thread.NewRegistry(s, s, nil),
		message.NewService(s, nil),
		readstate.NewTracker(s, nil),
		s,
		nil,
	)

	return &testEnv{
		handler:  api.Handler(auth.Middleware(s, verifier)),
		verifier: verifier,
	}
}

// do performs a request against the API. An empty token leaves the request
// unauthenticated.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req := httptest.NewRequest(method, path, reqBody)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

// createUser provisions a user and returns its ID and a bearer token.
func (e *testEnv) createUser(t *testing.T, username string) (string, string) {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/api/users", "", map[string]string{"username": username})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	user := decodeBody[userResponse](t, rec)
	token, err := e.verifier.Generate(user.ID, time.Hour)
	require.NoError(t, err)
	return user.ID, token
}

func (e *testEnv) createThread(t *testing.T, token, participant string) threadResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/threads", token, map[string]string{"participant": participant})
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, rec.Code, rec.Body.String())
	return decodeBody[threadResponse](t, rec)
}

func (e *testEnv) createMessage(t *testing.T, token, threadID, text string) messageResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/threads/"+threadID+"/messages", token, map[string]string{"text": text})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[messageResponse](t, rec)
}

func TestHealth(t *testing.T) {
	env := setupEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateUser(t *testing.T) {
	env := setupEnv(t)

	rec := env.do(t, http.MethodPost, "/api/users", "", map[string]string{"username": "alice"})
	require.Equal(t, http.StatusCreated, rec.Code)
	user := decodeBody[userResponse](t, rec)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice", user.Username)

	t.Run("duplicate username", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/users", "", map[string]string{"username": "alice"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("username too short", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/users", "", map[string]string{"username": "ab"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/users", "", map[string]string{"username": "carol", "admin": "true"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUserLookup(t *testing.T) {
	env := setupEnv(t)
	aliceID, aliceToken := env.createUser(t, "alice")

	rec := env.do(t, http.MethodGet, "/api/users/alice", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, aliceID, decodeBody[userResponse](t, rec).ID)

	rec = env.do(t, http.MethodGet, "/api/users/ghost", aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	env := setupEnv(t)

	rec := env.do(t, http.MethodGet, "/api/threads", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/threads", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestThreadFindOrCreate(t *testing.T) {
	env := setupEnv(t)
	aliceID, aliceToken := env.createUser(t, "alice")
	bobID, bobToken := env.createUser(t, "bobby")

	rec := env.do(t, http.MethodPost, "/api/threads", aliceToken, map[string]string{"participant": bobID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[threadResponse](t, rec)
	assert.ElementsMatch(t, []string{aliceID, bobID}, created.Participants)

	t.Run("existing thread returns 200", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/threads", aliceToken, map[string]string{"participant": bobID})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, created.ID, decodeBody[threadResponse](t, rec).ID)
	})

	t.Run("reversed pair returns same thread", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/threads", bobToken, map[string]string{"participant": aliceID})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, created.ID, decodeBody[threadResponse](t, rec).ID)
	})

	t.Run("self thread rejected", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/threads", aliceToken, map[string]string{"participant": aliceID})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown participant", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/threads", aliceToken, map[string]string{"participant": "ghost"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing participant", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/threads", aliceToken, map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestThreadListAndGet(t *testing.T) {
	env := setupEnv(t)
	_, aliceToken := env.createUser(t, "alice")
	bobID, _ := env.createUser(t, "bobby")
	carolID, carolToken := env.createUser(t, "carol")

	withBob := env.createThread(t, aliceToken, bobID)
	env.createThread(t, aliceToken, carolID)

	rec := env.do(t, http.MethodGet, "/api/threads", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	threads := decodeBody[[]threadResponse](t, rec)
	assert.Len(t, threads, 2)

	t.Run("pagination", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/threads?limit=1&offset=1", aliceToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decodeBody[[]threadResponse](t, rec), 1)
	})

	t.Run("get as participant", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/threads/"+withBob.ID, aliceToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, withBob.ID, decodeBody[threadResponse](t, rec).ID)
	})

	t.Run("get as outsider is forbidden", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/threads/"+withBob.ID, carolToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("get missing thread", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/threads/nonexistent", aliceToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestThreadUpdate(t *testing.T) {
	env := setupEnv(t)
	_, aliceToken := env.createUser(t, "alice")
	bobID, _ := env.createUser(t, "bobby")
	created := env.createThread(t, aliceToken, bobID)

	rec := env.do(t, http.MethodPatch, "/api/threads/"+created.ID, aliceToken, map[string]string{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[threadResponse](t, rec)
	assert.Equal(t, created.Participants, updated.Participants)
	assert.False(t, updated.Updated.Before(created.Updated))

	t.Run("participants are immutable", func(t *testing.T) {
		rec := env.do(t, http.MethodPatch, "/api/threads/"+created.ID, aliceToken,
			map[string]any{"participants": []string{"x", "y"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestThreadDestroy(t *testing.T) {
	env := setupEnv(t)
	_, aliceToken := env.createUser(t, "alice")
	bobID, bobToken := env.createUser(t, "bobby")
	created := env.createThread(t, aliceToken, bobID)
	env.createMessage(t, aliceToken, created.ID, "hello")

	rec := env.do(t, http.MethodDelete, "/api/threads/"+created.ID, bobToken, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/threads/"+created.ID, aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Messages go with the thread
	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/threads/%s/messages", created.ID), aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessageLifecycle(t *testing.T) {
	env := setupEnv(t)
	aliceID, aliceToken := env.createUser(t, "alice")
	bobID, bobToken := env.createUser(t, "bobby")
	_, carolToken := env.createUser(t, "carol")
	th := env.createThread(t, aliceToken, bobID)
	base := "/api/threads/" + th.ID + "/messages"

	msg := env.createMessage(t, aliceToken, th.ID, "hello bob")
	assert.Equal(t, aliceID, msg.Sender)
	assert.False(t, msg.IsRead)

	t.Run("empty text rejected", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, base, aliceToken, map[string]string{"text": ""})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("outsider cannot post", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, base, carolToken, map[string]string{"text": "let me in"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("list in creation order", func(t *testing.T) {
		env.createMessage(t, bobToken, th.ID, "hi alice")

		rec := env.do(t, http.MethodGet, base, bobToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		msgs := decodeBody[[]messageResponse](t, rec)
		require.Len(t, msgs, 2)
		assert.Equal(t, "hello bob", msgs[0].Text)
		assert.Equal(t, "hi alice", msgs[1].Text)
	})

	t.Run("outsider cannot list", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, base, carolToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("get single message", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, base+"/"+msg.ID, bobToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "hello bob", decodeBody[messageResponse](t, rec).Text)
	})

	t.Run("sender updates text", func(t *testing.T) {
		rec := env.do(t, http.MethodPatch, base+"/"+msg.ID, aliceToken, map[string]string{"text": "hello bob!"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "hello bob!", decodeBody[messageResponse](t, rec).Text)
	})

	t.Run("recipient cannot update", func(t *testing.T) {
		rec := env.do(t, http.MethodPatch, base+"/"+msg.ID, bobToken, map[string]string{"text": "hijacked"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("empty patch is a no-op", func(t *testing.T) {
		rec := env.do(t, http.MethodPatch, base+"/"+msg.ID, aliceToken, map[string]string{})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "hello bob!", decodeBody[messageResponse](t, rec).Text)
	})

	t.Run("sender is immutable", func(t *testing.T) {
		rec := env.do(t, http.MethodPatch, base+"/"+msg.ID, aliceToken, map[string]string{"sender": bobID})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("recipient cannot delete", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, base+"/"+msg.ID, bobToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("sender deletes", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, base+"/"+msg.ID, aliceToken, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = env.do(t, http.MethodGet, base+"/"+msg.ID, aliceToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestMarkRead(t *testing.T) {
	env := setupEnv(t)
	_, aliceToken := env.createUser(t, "alice")
	bobID, bobToken := env.createUser(t, "bobby")
	_, carolToken := env.createUser(t, "carol")
	th := env.createThread(t, aliceToken, bobID)
	msg := env.createMessage(t, aliceToken, th.ID, "unread me")
	readPath := fmt.Sprintf("/api/threads/%s/messages/%s/read", th.ID, msg.ID)

	t.Run("sender marking own message is a no-op", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, readPath, aliceToken, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		result := decodeBody[markReadResponse](t, rec)
		assert.Equal(t, "sender_noop", result.Status)
		assert.False(t, result.Message.IsRead)
	})

	t.Run("recipient marks read", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, readPath, bobToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		result := decodeBody[markReadResponse](t, rec)
		assert.Equal(t, "marked", result.Status)
		assert.True(t, result.Message.IsRead)
	})

	t.Run("second mark is idempotent", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, readPath, bobToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		result := decodeBody[markReadResponse](t, rec)
		assert.Equal(t, "already_read", result.Status)
		assert.True(t, result.Message.IsRead)
	})

	t.Run("outsider is forbidden", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, readPath, carolToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing message", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/threads/%s/messages/ghost/read", th.ID), bobToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestUnreadCount(t *testing.T) {
	env := setupEnv(t)
	_, aliceToken := env.createUser(t, "alice")
	bobID, bobToken := env.createUser(t, "bobby")
	_, carolToken := env.createUser(t, "carol")
	th := env.createThread(t, aliceToken, bobID)
	countPath := fmt.Sprintf("/api/threads/%s/messages/unread_count", th.ID)

	first := env.createMessage(t, aliceToken, th.ID, "one")
	env.createMessage(t, aliceToken, th.ID, "two")
	env.createMessage(t, bobToken, th.ID, "reply")

	// Bob sees alice's two messages; his own unread reply never counts.
	rec := env.do(t, http.MethodGet, countPath, bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	count := decodeBody[unreadCountResponse](t, rec)
	assert.Equal(t, th.ID, count.ThreadID)
	assert.Equal(t, 2, count.UnreadCount)

	rec = env.do(t, http.MethodGet, countPath, aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeBody[unreadCountResponse](t, rec).UnreadCount)

	t.Run("drops after marking read", func(t *testing.T) {
		readPath := fmt.Sprintf("/api/threads/%s/messages/%s/read", th.ID, first.ID)
		rec := env.do(t, http.MethodPost, readPath, bobToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = env.do(t, http.MethodGet, countPath, bobToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, decodeBody[unreadCountResponse](t, rec).UnreadCount)
	})

	t.Run("outsider is forbidden", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, countPath, carolToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
