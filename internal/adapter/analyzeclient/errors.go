package analyzeclient

import (
	"context"
	"errors"
	"fmt"
)

// ErrStreamIncomplete — соединение закрылось раньше, чем пришёл done или error.
var ErrStreamIncomplete = errors.New("stream ended before done")

// StreamError — сервер сообщил об ошибке событием error. Message передаётся как есть.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return e.Message }

// StatusError — ответ с кодом не 2xx.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string { return fmt.Sprintf("API Error: %d\n%s", e.Code, e.Body) }

// retryable сообщает, можно ли после ошибки потока попробовать буферизованный запрос.
// Ответ сервера (событие error или 4xx) окончательный.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StreamError
	if errors.As(err, &se) {
		return false
	}
	var st *StatusError
	if errors.As(err, &st) {
		return st.Code >= 500
	}
	return true
}
