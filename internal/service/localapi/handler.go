package localapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/schema"
	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/service/analyze"
)

// Handler обслуживает /analyze в трёх режимах (JSON, SSE, WebSocket) и /health.
type Handler struct {
	svc      *analyze.Service
	metrics  *Metrics
	logger   *zap.SugaredLogger
	maxBody  int64
	upgrader websocket.Upgrader
}

func NewHandler(svc *analyze.Service, maxBody int64, metrics *Metrics, logger *zap.SugaredLogger) *Handler {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Handler{
		svc:     svc,
		metrics: metrics,
		logger:  logger,
		maxBody: maxBody,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Analyze выбирает режим по заголовку Accept. Ошибки разбора тела всегда отдаются JSON,
// даже если клиент просил SSE: поток ещё не начат.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	mode := modeJSON
	if wantsSSE(r) {
		mode = modeSSE
	}
	status := statusOK
	defer func() {
		h.metrics.observe(mode, status, started)
		h.logger.Infow("Analyze request",
			"requestId", middleware.GetReqID(r.Context()),
			"mode", mode,
			"status", status,
			"durationMs", time.Since(started).Milliseconds(),
		)
	}()

	body, err := h.readBody(w, r)
	if err != nil {
		status = statusTooLarge
		var tooLarge *http.MaxBytesError
		if !errors.As(err, &tooLarge) {
			status = statusInvalid
			writeJSON(w, http.StatusBadRequest, schema.ErrorResponse{Error: "Failed to read body"})
		}
		return
	}

	// поток без тела разбирается как {} и получает "Missing question"
	if mode == modeSSE && len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	req, err := analyze.DecodeRequest(body)
	if err != nil {
		status = statusInvalid
		writeJSON(w, http.StatusBadRequest, schema.ErrorResponse{Error: err.Error()})
		return
	}

	if mode == modeSSE {
		status = h.stream(w, r, req, started)
		return
	}

	resp, err := h.svc.Answer(r.Context(), req)
	if err != nil {
		code := http.StatusInternalServerError
		status = statusError
		if schema.IsInvalidRequest(err) {
			code = http.StatusBadRequest
			status = statusInvalid
		}
		h.logger.Warnw("Analyze failed", "requestId", middleware.GetReqID(r.Context()), "error", err)
		writeJSON(w, code, schema.ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// stream ведёт SSE-ответ; возвращает итог для метрик.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request, req *schema.AnalyzeRequest, started time.Time) string {
	seq, prepErr := h.svc.Stream(r.Context(), req)

	sse := startSSE(w)
	sse.Send(schema.MetaEvent())
	if prepErr != nil {
		sse.Send(schema.ErrorEvent(prepErr.Error()))
		return statusInvalid
	}

	first := true
	for frag, err := range seq {
		if err != nil {
			h.logger.Warnw("Analyze stream failed", "requestId", middleware.GetReqID(r.Context()), "error", err)
			sse.Send(schema.ErrorEvent(err.Error()))
			return statusError
		}
		if !sse.Send(schema.DeltaEvent(frag)) {
			return statusAborted
		}
		h.metrics.delta(first, started)
		first = false
	}
	if !sse.Send(schema.DoneEvent()) {
		return statusAborted
	}
	return statusOK
}

// readBody читает тело не больше maxBody байт. При превышении отвечает 413 ровно один раз
// и закрывает соединение.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	defer r.Body.Close()

	if r.ContentLength > h.maxBody {
		err := &http.MaxBytesError{Limit: h.maxBody}
		h.tooLarge(w, r)
		return nil, err
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.tooLarge(w, r)
		}
		return nil, err
	}
	return body, nil
}

func (h *Handler) tooLarge(w http.ResponseWriter, r *http.Request) {
	h.logger.Warnw("Request body too large",
		"requestId", middleware.GetReqID(r.Context()),
		"limit", h.maxBody,
		"contentLength", r.ContentLength,
	)
	w.Header().Set("Connection", "close")
	writeJSON(w, http.StatusRequestEntityTooLarge, schema.ErrorResponse{
		Error: fmt.Sprintf("Request body too large (max %d bytes)", h.maxBody),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}
