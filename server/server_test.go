package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
	"github.com/xhad/docchat/pkg/chat"
	"github.com/xhad/docchat/pkg/ingest"
	"github.com/xhad/docchat/pkg/metrics"
	"github.com/xhad/docchat/pkg/processor"
	"github.com/xhad/docchat/pkg/records"
	"github.com/xhad/docchat/pkg/retriever"
	"github.com/xhad/docchat/pkg/sse"
	"github.com/xhad/docchat/pkg/store"
	"github.com/xhad/docchat/server"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// textExtractor treats the upload body as the text of a single page.
type textExtractor struct{}

func (textExtractor) Extract(_ context.Context, data []byte) ([]types.Page, error) {
	if bytes.HasPrefix(data, []byte("broken")) {
		return nil, errors.New("corrupt file")
	}
	return []types.Page{{Number: 1, Text: string(data)}}, nil
}

type constEmbedder struct{}

func (constEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (constEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, float32(i), 0}
	}
	return out, nil
}

type wordsGenerator struct{ words []string }

func (g wordsGenerator) Generate(ctx context.Context, _, _ string, onDelta func(string) error) error {
	for _, w := range g.words {
		if err := onDelta(w); err != nil {
			return err
		}
	}
	return nil
}

// stallingGenerator emits one word and then holds the turn open until it is
// canceled.
type stallingGenerator struct{}

func (stallingGenerator) Generate(ctx context.Context, _, _ string, onDelta func(string) error) error {
	if err := onDelta("Hello"); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

type env struct {
	handler http.Handler
	records *records.Memory
	index   *store.MemoryStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWith(t, wordsGenerator{words: []string{"Hello", " world"}})
}

func newEnvWith(t *testing.T, generator types.Generator) *env {
	t.Helper()
	rs := records.NewMemory()
	index := store.NewMemory(3)
	m := metrics.New("srv")

	pipeline := ingest.NewWithConfig(ingest.PipelineConfig{
		MaxUploadBytes: 4096,
		Processor:      processor.ProcessorConfig{ChunkSize: 100, ChunkOverlap: 10, MinChunkLength: 10},
	}, textExtractor{}, constEmbedder{}, index, rs, m)
	ret := retriever.NewWithConfig(retriever.RetrieverConfig{}, constEmbedder{}, index)
	coord := chat.NewCoordinator(ret, generator, rs, m)

	srv, err := server.New(server.Config{MaxUploadBytes: 4096, StreamTimeout: time.Minute}, server.Dependencies{
		Records:     rs,
		Pipeline:    pipeline,
		Coordinator: coord,
		Metrics:     m,
	})
	require.NoError(t, err)
	return &env{handler: srv.Handler(), records: rs, index: index}
}

func (e *env) do(t *testing.T, method, path, user string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if user != "" {
		req.Header.Set(server.UserHeader, user)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *env) doJSON(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	return e.do(t, method, path, user, r, "application/json")
}

func multipartFile(t *testing.T, filename, contentType, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func createSession(t *testing.T, e *env, user string) string {
	t.Helper()
	rec := e.doJSON(t, http.MethodPost, "/api/sessions", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Session models.Session `json:"session"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Session.ID
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = e.do(t, http.MethodGet, "/metrics", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `srv_http_requests_total{method="GET",path="/health",status="200"} 1`)
}

func TestRequiresUser(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/documents", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
}

func TestDocuments(t *testing.T) {
	e := newEnv(t)
	text := strings.Repeat("Quarterly revenue grew in every region we track. ", 6)

	body, ct := multipartFile(t, "report.pdf", "application/pdf", text)
	rec := e.do(t, http.MethodPost, "/api/documents", "alice", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var upload ingest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &upload))
	assert.Equal(t, "report.pdf", upload.Document.Filename)
	assert.Positive(t, upload.ChunksProcessed)
	assert.Equal(t, upload.ChunksProcessed, upload.Document.ChunkCount)
	assert.False(t, upload.Truncated)

	rec = e.do(t, http.MethodGet, "/api/documents", "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Documents []models.Document `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Documents, 1)

	rec = e.do(t, http.MethodGet, "/api/documents", "bob", nil, "")
	assert.JSONEq(t, `{"documents":[]}`, rec.Body.String())

	rec = e.do(t, http.MethodDelete, "/api/documents/"+upload.Document.ID, "bob", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodDelete, "/api/documents/"+upload.Document.ID, "alice", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	n, err := e.index.CountByDocument(context.Background(), upload.Document.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUploadRejects(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name    string
		ctype   string
		content string
		status  int
	}{
		{"not a pdf", "text/plain", "hello", http.StatusBadRequest},
		{"too large", "application/pdf", strings.Repeat("x", 5000), http.StatusBadRequest},
		{"unreadable", "application/pdf", "broken bytes", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartFile(t, "f.pdf", tt.ctype, tt.content)
			rec := e.do(t, http.MethodPost, "/api/documents", "alice", body, ct)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	rec := e.do(t, http.MethodPost, "/api/documents", "alice", strings.NewReader(""), "multipart/form-data; boundary=x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"No file uploaded"}`, rec.Body.String())
}

func TestSessions(t *testing.T) {
	e := newEnv(t)
	id := createSession(t, e, "alice")

	rec := e.do(t, http.MethodGet, "/api/sessions/"+id, "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ephemeralObjects":[]`)

	rec = e.do(t, http.MethodGet, "/api/sessions/"+id, "bob", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.doJSON(t, http.MethodPut, "/api/sessions/"+id, "alice", map[string]any{
		"ephemeralObjects": []any{map[string]any{"sku": "A-1"}, 42},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated struct {
		Session models.Session `json:"session"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.Len(t, updated.Session.EphemeralObjects, 2)
	assert.JSONEq(t, `{"sku":"A-1"}`, string(updated.Session.EphemeralObjects[0]))

	for _, bad := range []any{
		map[string]any{"ephemeralObjects": "nope"},
		map[string]any{"ephemeralObjects": nil},
		map[string]any{},
	} {
		rec = e.doJSON(t, http.MethodPut, "/api/sessions/"+id, "alice", bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"ephemeralObjects must be an array"}`, rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/api/sessions", "alice", nil, "")
	var list struct {
		Sessions []models.Session `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Sessions, 1)

	rec = e.do(t, http.MethodDelete, "/api/sessions/"+id, "alice", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodDelete, "/api/sessions/"+id, "alice", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatStream(t *testing.T) {
	e := newEnv(t)
	id := createSession(t, e, "alice")

	rec := e.doJSON(t, http.MethodPost, "/api/chat", "alice", map[string]any{
		"sessionId":        id,
		"message":          "What changed?",
		"ephemeralObjects": []any{map[string]any{"region": "EMEA"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sse.ContentType, rec.Header().Get("Content-Type"))

	r := sse.NewReader(rec.Body)
	var events []chat.Event
	for {
		var ev chat.Event
		err := r.Decode(&ev)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		events = append(events, ev)
	}

	require.Len(t, events, 4)
	assert.Equal(t, chat.EventSources, events[0].Type)
	assert.Empty(t, events[0].Sources)
	assert.Equal(t, "Hello", events[1].Text)
	assert.Equal(t, " world", events[2].Text)
	assert.Equal(t, chat.EventDone, events[3].Type)

	rec = e.do(t, http.MethodGet, "/api/sessions/"+id+"/messages", "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Messages []models.ChatMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "What changed?", history.Messages[0].Content)
	assert.Equal(t, "Hello world", history.Messages[1].Content)

	rec = e.do(t, http.MethodGet, "/api/sessions/"+id+"/messages", "bob", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatRejects(t *testing.T) {
	e := newEnv(t)
	id := createSession(t, e, "alice")

	tests := []struct {
		name   string
		user   string
		body   any
		status int
	}{
		{"empty message", "alice", map[string]any{"sessionId": id, "message": ""}, http.StatusBadRequest},
		{"unknown session", "alice", map[string]any{"sessionId": "missing", "message": "hi"}, http.StatusNotFound},
		{"foreign session", "bob", map[string]any{"sessionId": id, "message": "hi"}, http.StatusNotFound},
		{"objects not an array", "alice", map[string]any{"sessionId": id, "message": "hi", "ephemeralObjects": "x"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.doJSON(t, http.MethodPost, "/api/chat", tt.user, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.NotEqual(t, sse.ContentType, rec.Header().Get("Content-Type"))
		})
	}
}

func TestWebSocketChat(t *testing.T) {
	e := newEnv(t)
	id := createSession(t, e, "alice")

	ts := httptest.NewServer(e.handler)
	defer ts.Close()

	header := http.Header{}
	header.Set(server.UserHeader, "alice")
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(server.Message{SessionID: id, Message: "hi"}))

	var kinds []chat.EventType
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var ev chat.Event
		require.NoError(t, conn.ReadJSON(&ev))
		kinds = append(kinds, ev.Type)
		if ev.Type == chat.EventDone {
			break
		}
	}
	assert.Equal(t, []chat.EventType{chat.EventSources, chat.EventText, chat.EventText, chat.EventDone}, kinds)

	require.NoError(t, conn.WriteJSON(server.Message{SessionID: "missing", Message: "hi"}))
	var frame map[string]string
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["error"], "not found")
}

func TestWebSocketChat_Cancel(t *testing.T) {
	e := newEnvWith(t, stallingGenerator{})
	id := createSession(t, e, "alice")

	ts := httptest.NewServer(e.handler)
	defer ts.Close()

	header := http.Header{}
	header.Set(server.UserHeader, "alice")
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(server.Message{SessionID: id, Message: "hi"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	for {
		var ev chat.Event
		require.NoError(t, conn.ReadJSON(&ev))
		require.NotEqual(t, chat.EventDone, ev.Type)
		if ev.Type == chat.EventText {
			assert.Equal(t, "Hello", ev.Text)
			break
		}
	}

	require.NoError(t, conn.WriteJSON(server.Message{Type: server.MessageCancel}))

	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "aborted", frame["type"])

	messages, err := e.records.ListMessages(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, models.RoleUser, messages[0].Role)

	assert.Eventually(t, func() bool {
		rec := e.do(t, http.MethodGet, "/metrics", "", nil, "")
		return strings.Contains(rec.Body.String(), `srv_chat_turns_total{outcome="aborted"} 1`)
	}, 5*time.Second, 20*time.Millisecond)
}
