package localapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Server — локальный HTTP-мост для UI.
type Server struct {
	addr    string
	srv     *http.Server
	logger  *zap.SugaredLogger
	running atomic.Bool

	mu   sync.Mutex
	ln   net.Listener
	err  error
	done chan struct{}
}

func NewServer(addr string, handler http.Handler, logger *zap.SugaredLogger) *Server {
	if addr == "" {
		addr = "127.0.0.1:8787"
	}
	return &Server{
		addr:   addr,
		logger: logger,
		done:   make(chan struct{}),
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       60 * time.Second, // скриншоты в base64 бывают большими
			WriteTimeout:      0,                // SSE-ответ длится столько, сколько генерирует модель
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Start занимает порт и запускает обслуживание в отдельной горутине.
// Ошибка занятого порта возвращается сразу (см. IsAddrInUse).
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		s.logger.Infow("Local API listening", "addr", ln.Addr().String())
		if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) && err != nil {
			s.logger.Errorw("Local API stopped with error", "error", err)
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		} else {
			s.logger.Infow("Local API stopped")
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop(context.WithoutCancel(ctx))
		case <-s.done:
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeoutCause(ctx, 5*time.Second, errors.New("local-api shutdown timeout"))
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warnw("graceful shutdown error", "error", err)
		return s.srv.Close()
	}
	return nil
}

// Addr возвращает фактический адрес прослушивания (после Start) или настроенный.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Done закрывается, когда сервер перестал обслуживать запросы.
func (s *Server) Done() <-chan struct{} { return s.done }

// Err возвращает ошибку, с которой остановилось обслуживание, если она была.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// IsAddrInUse сообщает, что порт уже занят (обычно — уже запущенным экземпляром).
func IsAddrInUse(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	// на Windows приходит WSAEADDRINUSE, который не сводится к EADDRINUSE
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "address already in use") ||
		strings.Contains(msg, "only one usage of each socket address")
}
