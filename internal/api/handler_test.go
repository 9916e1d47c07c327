package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/insta-assistant/internal/classifier"
	"github.com/xaenox/insta-assistant/internal/conversation"
	"github.com/xaenox/insta-assistant/internal/eventloop"
	"github.com/xaenox/insta-assistant/internal/knowledge"
	"github.com/xaenox/insta-assistant/internal/storage"
	"github.com/xaenox/insta-assistant/internal/typing"
)

type testServer struct {
	router *gin.Engine
	reg    *knowledge.Registry
	store  *storage.MemoryStorage
}

func newTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg, err := knowledge.Default()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	loop := eventloop.New(64, nil)
	go loop.Run(ctx)

	mgr := conversation.NewManager(loop, classifier.NewKeywordClassifier(reg), conversation.Options{
		ThinkingDelay: 50 * time.Millisecond,
		Typing:        typing.Options{MinDelay: time.Microsecond, MaxDelay: time.Microsecond},
	})
	store := storage.NewMemoryStorage()
	h := NewHandler(mgr, reg, store, nil)

	return &testServer{
		router: SetupRouter(h, RouterConfig{APIKey: apiKey, AllowOrigins: []string{"*"}}),
		reg:    reg,
		store:  store,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) create(t *testing.T) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/conversations", "")
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

type messagesResponse struct {
	Messages []messageResponse `json:"messages"`
}

func (s *testServer) messages(t *testing.T, id string) []messageResponse {
	t.Helper()
	w := s.do(t, http.MethodGet, "/api/conversations/"+id+"/messages", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp messagesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Messages
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestSendMessage_ReplyIsRevealed(t *testing.T) {
	s := newTestServer(t, "")
	id := s.create(t)

	w := s.do(t, http.MethodPost, "/api/conversations/"+id+"/messages", `{"message":"how do I do marketing"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	// a second submission while thinking is rejected
	w = s.do(t, http.MethodPost, "/api/conversations/"+id+"/messages", `{"message":"analytics"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	want, _ := s.reg.Lookup("business", "marketing")
	require.Eventually(t, func() bool {
		msgs := s.messages(t, id)
		return len(msgs) == 2 && !msgs[1].Revealing && msgs[1].Content == want
	}, 5*time.Second, 10*time.Millisecond)

	msgs := s.messages(t, id)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "how do I do marketing", msgs[0].Content)
	assert.Equal(t, "instant", msgs[0].Mode)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "progressive", msgs[1].Mode)
	assert.Len(t, msgs[1].Timestamp, 5)

	require.Eventually(t, func() bool {
		stats, _ := s.store.ListLookups(context.Background())
		return len(stats) == 1 && stats[0].Subtopic == "marketing"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendMessage_Errors(t *testing.T) {
	s := newTestServer(t, "")
	id := s.create(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"empty", "/api/conversations/" + id + "/messages", `{"message":"   "}`, http.StatusBadRequest},
		{"missing field", "/api/conversations/" + id + "/messages", `{}`, http.StatusBadRequest},
		{"malformed", "/api/conversations/" + id + "/messages", `{`, http.StatusBadRequest},
		{"unknown conversation", "/api/conversations/nope/messages", `{"message":"hi"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	assert.Empty(t, s.messages(t, id))
}

func TestGreet(t *testing.T) {
	s := newTestServer(t, "")
	id := s.create(t)

	w := s.do(t, http.MethodPost, "/api/conversations/"+id+"/greet", "")
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		msgs := s.messages(t, id)
		return len(msgs) == 1 && msgs[0].Content == s.reg.Greeting()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStatus(t *testing.T) {
	s := newTestServer(t, "")
	id := s.create(t)
	path := "/api/conversations/" + id + "/status"

	w := s.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"offline"}`, w.Body.String())

	w = s.do(t, http.MethodPost, path, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"online"}`, w.Body.String())

	w = s.do(t, http.MethodPost, path, `{"status":"offline"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"offline"}`, w.Body.String())

	w = s.do(t, http.MethodPost, path, `{"status":"away"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteConversation(t *testing.T) {
	s := newTestServer(t, "")
	id := s.create(t)

	w := s.do(t, http.MethodDelete, "/api/conversations/"+id, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodGet, "/api/conversations/"+id+"/messages", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListTopics(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(t, http.MethodGet, "/api/topics", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Topics []topicResponse `json:"topics"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Topics, len(s.reg.Topics()))

	names := make([]string, 0, len(resp.Topics))
	for _, tp := range resp.Topics {
		names = append(names, tp.Name)
	}
	assert.Contains(t, names, "content_creation")
	assert.Contains(t, names, "business")
}

func TestListStats_Empty(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"stats":[]}`, w.Body.String())
}

func TestAPIKeyRequired(t *testing.T) {
	s := newTestServer(t, "secret")

	w := s.do(t, http.MethodGet, "/api/topics", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/topics", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// health stays public
	w = s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStream(t *testing.T) {
	s := newTestServer(t, "")
	id := s.create(t)

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/conversations/"+id+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// the subscription is registered before the headers are flushed
	w := s.do(t, http.MethodPost, "/api/conversations/"+id+"/messages", `{"message":"analytics"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var names []string
	var last Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			names = append(names, strings.TrimSpace(strings.TrimPrefix(line, "event:")))
		case strings.HasPrefix(line, "data:"):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &last))
		}
		if last.Type == "idle" {
			break
		}
	}

	require.NotEmpty(t, names)
	assert.Equal(t, "message", names[0])
	assert.Equal(t, "idle", names[len(names)-1])
	assert.Contains(t, names, "reveal")
}

func TestStream_UnknownConversation(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(t, http.MethodGet, "/api/conversations/nope/stream", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
