package localapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/ai"
	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/schema"
	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/service/analyze"
	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/service/prompt"
)

type scriptedClient struct {
	frags []string
	err   error
}

func (c *scriptedClient) Complete(context.Context, []prompt.Message) (string, error) {
	return strings.Join(c.frags, ""), c.err
}

func (c *scriptedClient) Stream(context.Context, []prompt.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, f := range c.frags {
			if !yield(f, nil) {
				return
			}
		}
		if c.err != nil {
			yield("", c.err)
		}
	}
}

func newRouter(client ai.Client, maxBody int64) http.Handler {
	log := zap.NewNop().Sugar()
	svc := analyze.NewService(client, analyze.Options{}, log)
	return NewRouter(NewHandler(svc, maxBody, NewMetrics(), log), true)
}

func post(t *testing.T, h http.Handler, body, accept string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		out = append(out, ev)
	}
	return out
}

func TestAnalyze_JSONMock(t *testing.T) {
	rec := post(t, newRouter(ai.NewMockClient(), 1<<20), `{"question":"hello"}`, "application/json")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	var resp schema.AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Timing)
	msgs, err := ai.ParseMock(resp.Answer)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.RoleSystem, msgs[0].Role)
	assert.Equal(t, "hello", msgs[1].Content)
}

func TestAnalyze_JSONErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		client ai.Client
		code   int
		want   string
	}{
		{name: "empty body", body: ``, client: ai.NewMockClient(), code: http.StatusBadRequest, want: "Missing body"},
		{name: "invalid json", body: `{`, client: ai.NewMockClient(), code: http.StatusBadRequest, want: "Invalid JSON"},
		{name: "missing question", body: `{"question":"","messages":[]}`, client: ai.NewMockClient(), code: http.StatusBadRequest, want: "Missing question"},
		{
			name: "assistant-only history", body: `{"messages":[{"role":"assistant","content":"hi"}]}`,
			client: ai.NewMockClient(), code: http.StatusBadRequest, want: "Missing question",
		},
		{
			name: "provider unconfigured", body: `{"question":"q"}`,
			client: &scriptedClient{err: ai.ErrProviderUnconfigured}, code: http.StatusInternalServerError,
			want: "OPENAI_SECRET_ID is not configured (or set OPENAI_API_KEY for local dev)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, newRouter(tt.client, 1<<20), tt.body, "")
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
			assert.JSONEq(t, `{"error":`+mustJSON(t, tt.want)+`}`, rec.Body.String())
		})
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestAnalyze_SSEDeltas(t *testing.T) {
	rec := post(t, newRouter(&scriptedClient{frags: []string{"Hel", "lo", "!"}}, 1<<20), `{"question":"hi"}`, "text/event-stream")

	require.Equal(t, http.StatusOK, rec.Code)
	h := rec.Header()
	assert.Equal(t, "text/event-stream; charset=utf-8", h.Get("Content-Type"))
	assert.Equal(t, "no-cache, no-transform", h.Get("Cache-Control"))
	assert.Equal(t, "no", h.Get("X-Accel-Buffering"))
	assert.Equal(t, "*", h.Get("Access-Control-Allow-Origin"))

	assert.Equal(t, []sseEvent{
		{name: "meta", data: `{"ok":true}`},
		{name: "delta", data: `{"delta":"Hel"}`},
		{name: "delta", data: `{"delta":"lo"}`},
		{name: "delta", data: `{"delta":"!"}`},
		{name: "done", data: `{"done":true}`},
	}, parseSSE(t, rec.Body.String()))
}

func TestAnalyze_SSEMidStreamError(t *testing.T) {
	client := &scriptedClient{frags: []string{"par", "tial"}, err: errors.New("upstream connection reset")}
	rec := post(t, newRouter(client, 1<<20), `{"question":"hi"}`, "text/event-stream")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []sseEvent{
		{name: "meta", data: `{"ok":true}`},
		{name: "delta", data: `{"delta":"par"}`},
		{name: "delta", data: `{"delta":"tial"}`},
		{name: "error", data: `{"error":"upstream connection reset"}`},
	}, parseSSE(t, rec.Body.String()))
}

func TestAnalyze_SSEMock(t *testing.T) {
	rec := post(t, newRouter(ai.NewMockClient(), 1<<20), `{"messages":[{"role":"user","content":"hi"}]}`, "text/event-stream")

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 3)
	var delta struct{ Delta string }
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &delta))
	msgs, err := ai.ParseMock(delta.Delta)
	require.NoError(t, err)
	assert.Equal(t, "hi", msgs[len(msgs)-1].Content)
	assert.Equal(t, "done", events[2].name)
}

func TestAnalyze_SSEValidationBeforeStream(t *testing.T) {
	rec := post(t, newRouter(ai.NewMockClient(), 1<<20), `not json`, "text/event-stream")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	rec = post(t, newRouter(ai.NewMockClient(), 1<<20), `{"question":" "}`, "text/event-stream")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Missing question"}`, rec.Body.String())

	// пустое тело в потоковом режиме разбирается как {}
	rec = post(t, newRouter(ai.NewMockClient(), 1<<20), ``, "text/event-stream")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Missing question"}`, rec.Body.String())

	// история из одних пустых реплик после санитизации пуста: ответ до начала потока
	rec = post(t, newRouter(ai.NewMockClient(), 1<<20), `{"messages":[{"role":"user","content":"  "}]}`, "text/event-stream")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"error":"Missing question"}`, rec.Body.String())
}

func TestAnalyze_SSEAssemblyErrorIsEvent(t *testing.T) {
	rec := post(t, newRouter(ai.NewMockClient(), 1<<20),
		`{"messages":[{"role":"assistant","content":"only me"}]}`, "text/event-stream")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []sseEvent{
		{name: "meta", data: `{"ok":true}`},
		{name: "error", data: `{"error":"Missing question"}`},
	}, parseSSE(t, rec.Body.String()))
}

// countingWriter считает начатые ответы.
type countingWriter struct {
	*httptest.ResponseRecorder
	headers int
}

func (c *countingWriter) WriteHeader(code int) {
	c.headers++
	c.ResponseRecorder.WriteHeader(code)
}

func TestAnalyze_BodyTooLarge(t *testing.T) {
	h := newRouter(ai.NewMockClient(), 64)
	big := `{"question":"` + strings.Repeat("a", 200) + `"}`

	t.Run("content length", func(t *testing.T) {
		rec := &countingWriter{ResponseRecorder: httptest.NewRecorder()}
		req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(big))
		h.ServeHTTP(rec, req)

		assert.Equal(t, 1, rec.headers)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "close", rec.Header().Get("Connection"))
		assert.JSONEq(t, `{"error":"Request body too large (max 64 bytes)"}`, rec.Body.String())
	})

	t.Run("chunked", func(t *testing.T) {
		rec := &countingWriter{ResponseRecorder: httptest.NewRecorder()}
		req := httptest.NewRequest(http.MethodPost, "/analyze", io.MultiReader(strings.NewReader(big)))
		req.ContentLength = -1
		req.Header.Set("Accept", "text/event-stream")
		h.ServeHTTP(rec, req)

		assert.Equal(t, 1, rec.headers)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	})
}

func TestRouter_Misc(t *testing.T) {
	h := newRouter(ai.NewMockClient(), 1<<20)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/anything", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "POST, OPTIONS, GET", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization, Accept", rec.Header().Get("Access-Control-Allow-Headers"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	for _, r := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/nope", nil),
		httptest.NewRequest(http.MethodGet, "/analyze", nil),
		httptest.NewRequest(http.MethodPut, "/analyze", strings.NewReader("{}")),
	} {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusNotFound, rec.Code, r.Method+" "+r.URL.Path)
		assert.Equal(t, "Not Found", rec.Body.String())
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRouter_Metrics(t *testing.T) {
	h := newRouter(ai.NewMockClient(), 1<<20)
	post(t, h, `{"question":"hello"}`, "")
	post(t, h, `{}`, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `analyze_requests_total{mode="json",status="ok"} 1`)
	assert.Contains(t, body, `analyze_requests_total{mode="json",status="invalid"} 1`)
}

func TestRequestIDPropagated(t *testing.T) {
	h := newRouter(ai.NewMockClient(), 1<<20)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

// brokenWriter имитирует ушедшего клиента.
type brokenWriter struct {
	header http.Header
	writes int
}

func (b *brokenWriter) Header() http.Header { return b.header }
func (b *brokenWriter) WriteHeader(int)     {}
func (b *brokenWriter) Write([]byte) (int, error) {
	b.writes++
	return 0, errors.New("broken pipe")
}

func TestSSEWriter_StopsAfterWriteError(t *testing.T) {
	bw := &brokenWriter{header: http.Header{}}
	sse := startSSE(bw)

	assert.False(t, sse.Send(schema.MetaEvent()))
	assert.False(t, sse.Send(schema.DeltaEvent("x")))
	assert.False(t, sse.Send(schema.DoneEvent()))
	assert.LessOrEqual(t, bw.writes, 1)
}

func TestSSEWriter_NothingAfterTerminal(t *testing.T) {
	rec := httptest.NewRecorder()
	sse := startSSE(rec)
	assert.True(t, sse.Send(schema.MetaEvent()))
	assert.True(t, sse.Send(schema.ErrorEvent("boom")))
	assert.False(t, sse.Send(schema.DoneEvent()))
	assert.NotContains(t, rec.Body.String(), "event: done")
}

func TestWebSocket(t *testing.T) {
	srv := httptest.NewServer(newRouter(&scriptedClient{frags: []string{"Hel", "lo"}}, 1<<20))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"question": "hi"}))

	var got []schema.StreamEvent
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var ev schema.StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		got = append(got, ev)
	}
	assert.Equal(t, []schema.StreamEvent{
		schema.MetaEvent(),
		schema.DeltaEvent("Hel"),
		schema.DeltaEvent("lo"),
		schema.DoneEvent(),
	}, got)
}

func TestWebSocket_InvalidRequest(t *testing.T) {
	srv := httptest.NewServer(newRouter(ai.NewMockClient(), 1<<20))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"question":""}`)))
	var ev schema.StreamEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, schema.ErrorEvent("Missing question"), ev)
}

func TestServer_StartStopAndAddrInUse(t *testing.T) {
	log := zap.NewNop().Sugar()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := NewServer("127.0.0.1:0", newRouter(ai.NewMockClient(), 1<<20), log)
	require.NoError(t, first.Start(ctx))

	resp, err := http.Get("http://" + first.Addr() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(bufio.NewReader(resp.Body))
	_ = resp.Body.Close()
	assert.JSONEq(t, `{"ok":true}`, string(body))

	second := NewServer(first.Addr(), http.NotFoundHandler(), log)
	err = second.Start(ctx)
	require.Error(t, err)
	assert.True(t, IsAddrInUse(err))

	require.NoError(t, first.Stop(context.Background()))
	select {
	case <-first.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.NoError(t, first.Err())
}
