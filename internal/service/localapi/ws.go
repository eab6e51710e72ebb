package localapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/schema"
	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/service/analyze"
)

const wsWriteWait = 10 * time.Second

// WebSocket — тот же поток событий, что и SSE, для клиентов без EventSource.
// Клиент присылает один AnalyzeRequest, сервер отвечает кадрами {"event":..,"data":..} и закрывает соединение.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	status := statusOK
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту
		h.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	defer func() {
		h.metrics.observe(modeWS, status, started)
		h.logger.Infow("Analyze request",
			"requestId", middleware.GetReqID(r.Context()),
			"mode", modeWS,
			"status", status,
			"durationMs", time.Since(started).Milliseconds(),
		)
	}()

	conn.SetReadLimit(h.maxBody)
	_, body, err := conn.ReadMessage()
	if err != nil {
		status = statusAborted
		return
	}

	// после хайджека контекст запроса не отменяется сам: следим за закрытием соединения
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	send := func(ev schema.StreamEvent) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(ev) == nil
	}
	defer func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}()

	req, err := analyze.DecodeRequest(body)
	if err != nil {
		status = statusInvalid
		send(schema.ErrorEvent(err.Error()))
		return
	}

	seq, err := h.svc.Stream(ctx, req)
	if !send(schema.MetaEvent()) {
		status = statusAborted
		return
	}
	if err != nil {
		status = statusInvalid
		send(schema.ErrorEvent(err.Error()))
		return
	}

	first := true
	for frag, err := range seq {
		if err != nil {
			status = statusError
			h.logger.Warnw("Analyze stream failed", "requestId", middleware.GetReqID(r.Context()), "error", err)
			send(schema.ErrorEvent(err.Error()))
			return
		}
		if !send(schema.DeltaEvent(frag)) {
			status = statusAborted
			return
		}
		h.metrics.delta(first, started)
		first = false
	}
	if !send(schema.DoneEvent()) {
		status = statusAborted
	}
}
