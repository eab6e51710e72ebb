package analyzeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/schema"
)

const DefaultURL = "http://127.0.0.1:8787/analyze"

// Client ходит в локальный API: /analyze (JSON и SSE) и /health.
type Client struct {
	url      string
	http     *http.Client
	logger   *zap.SugaredLogger
	fallback bool
}

type Option func(*Client)

// WithHTTPClient подменяет HTTP-клиент (таймауты, транспорт).
func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.http = c } }

// WithFallback включает/выключает откат на буферизованный запрос при сбое потока.
func WithFallback(enabled bool) Option { return func(cl *Client) { cl.fallback = enabled } }

// New создаёт клиента для полного URL эндпоинта /analyze.
func New(analyzeURL string, logger *zap.SugaredLogger, opts ...Option) *Client {
	if analyzeURL == "" {
		analyzeURL = DefaultURL
	}
	c := &Client{
		url:      analyzeURL,
		http:     &http.Client{},
		logger:   logger,
		fallback: true,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Analyze — буферизованный запрос: ответ целиком.
func (c *Client) Analyze(ctx context.Context, req schema.AnalyzeRequest) (schema.AnalyzeResponse, error) {
	resp, err := c.post(ctx, req, "application/json")
	if err != nil {
		return schema.AnalyzeResponse{}, err
	}
	defer resp.Body.Close()

	var out schema.AnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return schema.AnalyzeResponse{}, fmt.Errorf("decode analyze response: %w", err)
	}
	return out, nil
}

// Events открывает SSE-поток и отдаёт события по мере поступления.
// Поток, закончившийся без done/error, завершается ошибкой ErrStreamIncomplete.
func (c *Client) Events(ctx context.Context, req schema.AnalyzeRequest) iter.Seq2[schema.StreamEvent, error] {
	return func(yield func(schema.StreamEvent, error) bool) {
		resp, err := c.post(ctx, req, "text/event-stream")
		if err != nil {
			yield(schema.StreamEvent{}, err)
			return
		}
		defer resp.Body.Close()

		parser := NewParser()
		buf := make([]byte, 32*1024)
		for {
			n, readErr := resp.Body.Read(buf)
			events := parser.Feed(buf[:n])
			if readErr == io.EOF {
				events = append(events, parser.Flush()...)
			}
			for _, ev := range events {
				if !yield(ev, nil) || ev.Terminal() {
					return
				}
			}
			if readErr == io.EOF {
				yield(schema.StreamEvent{}, ErrStreamIncomplete)
				return
			}
			if readErr != nil {
				yield(schema.StreamEvent{}, fmt.Errorf("%w: %w", ErrStreamIncomplete, readErr))
				return
			}
		}
	}
}

// Stream отдаёт непустые фрагменты ответа. Событие error превращается в *StreamError.
// Если поток не удалось получить до первого фрагмента, делается буферизованный запрос,
// и его ответ отдаётся одним фрагментом.
func (c *Client) Stream(ctx context.Context, req schema.AnalyzeRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yielded := false
		var streamErr error

	events:
		for ev, err := range c.Events(ctx, req) {
			if err != nil {
				streamErr = err
				break
			}
			switch ev.Event {
			case schema.EventDelta:
				if ev.Delta == "" {
					continue
				}
				yielded = true
				if !yield(ev.Delta, nil) {
					return
				}
			case schema.EventError:
				streamErr = &StreamError{Message: ev.Error}
				break events
			case schema.EventDone:
				return
			}
		}
		if streamErr == nil {
			return
		}

		if yielded || !c.fallback || !retryable(streamErr) {
			yield("", streamErr)
			return
		}
		c.logger.Warnw("Stream failed, falling back to buffered analyze", "error", streamErr)
		resp, err := c.Analyze(ctx, req)
		if err != nil {
			c.logger.Warnw("Buffered fallback failed", "error", err)
			yield("", streamErr)
			return
		}
		if resp.Answer != "" {
			yield(resp.Answer, nil)
		}
	}
}

// Health проверяет GET /health на том же хосте.
func (c *Client) Health(ctx context.Context) error {
	u, err := c.endpoint("/health")
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	var out struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode health: %w", err)
	}
	if !out.OK {
		return fmt.Errorf("health: not ok")
	}
	return nil
}

// WaitReady опрашивает /health каждые interval, пока API не ответит или не истечёт ctx.
func (c *Client) WaitReady(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := c.Health(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("local api not ready: %w", context.Cause(ctx))
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, payload schema.AnalyzeRequest, accept string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode analyze request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(text)}
	}
	return resp, nil
}

func (c *Client) endpoint(path string) (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", fmt.Errorf("parse analyze url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/analyze") + path
	u.RawQuery = ""
	return u.String(), nil
}
