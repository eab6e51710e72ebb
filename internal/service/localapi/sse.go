package localapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/schema"
)

// sseWriter пишет события text/event-stream. После первой ошибки записи
// (клиент ушёл) или терминального события все дальнейшие записи игнорируются.
type sseWriter struct {
	w        http.ResponseWriter
	rc       *http.ResponseController
	finished bool
}

// startSSE фиксирует ответ как SSE: после этого JSON-ошибка уже невозможна.
func startSSE(w http.ResponseWriter) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &sseWriter{w: w, rc: http.NewResponseController(w)}
	if err := s.rc.Flush(); err != nil {
		s.finished = true
	}
	return s
}

// Send пишет одно событие и сбрасывает буфер. Возвращает false, если писать уже некуда.
func (s *sseWriter) Send(ev schema.StreamEvent) bool {
	if s.finished {
		return false
	}
	data, err := json.Marshal(ev.Payload())
	if err != nil {
		data = []byte(`{"error":"Unknown error"}`)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Event, data); err != nil {
		s.finished = true
		return false
	}
	if err := s.rc.Flush(); err != nil {
		s.finished = true
		return false
	}
	if ev.Terminal() {
		s.finished = true
	}
	return true
}

// wantsSSE сообщает, просит ли клиент поток событий.
func wantsSSE(r *http.Request) bool {
	for _, v := range r.Header.Values("Accept") {
		if containsFold(v, "text/event-stream") {
			return true
		}
	}
	return false
}
