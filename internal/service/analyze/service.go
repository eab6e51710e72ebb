package analyze

import (
	"context"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/ai"
	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/schema"
	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/service/history"
	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/service/image"
	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/service/prompt"
)

// Options настраивают конвейер.
type Options struct {
	Limits   history.Limits
	Language string
	Dumper   *image.Dumper // nil — скриншоты не сохраняются
}

// Service — конвейер запроса: обрезка истории → сборка промпта → вызов модели.
type Service struct {
	client ai.Client
	limits history.Limits
	system string
	dumper *image.Dumper
	log    *zap.SugaredLogger
}

func NewService(client ai.Client, opts Options, log *zap.SugaredLogger) *Service {
	return &Service{
		client: client,
		limits: opts.Limits,
		system: prompt.SystemPrompt(opts.Language),
		dumper: opts.Dumper,
		log:    log,
	}
}

// Prepare собирает сообщения для модели. Обрезка истории идёт до удаления дубля вопроса.
func (s *Service) Prepare(req *schema.AnalyzeRequest) ([]prompt.Message, error) {
	s.dump(req.Image)
	return prompt.Assemble(prompt.Input{
		System:   s.system,
		Question: req.Question,
		Image:    req.Image,
		History:  history.Trim(req.Messages, s.limits),
	})
}

// Answer — буферизованный режим: один вызов модели, ответ целиком.
func (s *Service) Answer(ctx context.Context, req *schema.AnalyzeRequest) (schema.AnalyzeResponse, error) {
	started := time.Now()
	msgs, err := s.Prepare(req)
	if err != nil {
		return schema.AnalyzeResponse{}, err
	}

	callStarted := time.Now()
	answer, err := s.client.Complete(ctx, msgs)
	if err != nil {
		return schema.AnalyzeResponse{}, err
	}
	timing := &schema.Timing{
		CompletionMs: time.Since(callStarted).Milliseconds(),
		TotalMs:      time.Since(started).Milliseconds(),
	}
	s.log.Debugw("Analyze completed", "completionMs", timing.CompletionMs, "totalMs", timing.TotalMs)
	return schema.AnalyzeResponse{Answer: answer, Timing: timing}, nil
}

// Stream — потоковый режим. Ошибка сборки промпта возвращается сразу,
// ошибка модели — последним элементом последовательности. Пустые фрагменты не отдаются.
func (s *Service) Stream(ctx context.Context, req *schema.AnalyzeRequest) (iter.Seq2[string, error], error) {
	msgs, err := s.Prepare(req)
	if err != nil {
		return nil, err
	}
	src := s.client.Stream(ctx, msgs)

	return func(yield func(string, error) bool) {
		started := time.Now()
		first := true
		for frag, err := range src {
			if err != nil {
				yield("", err)
				return
			}
			if frag == "" {
				continue
			}
			if first {
				first = false
				s.log.Debugw("First delta", "latencyMs", time.Since(started).Milliseconds())
			}
			if !yield(frag, nil) {
				return
			}
		}
	}, nil
}

func (s *Service) dump(img string) {
	if s.dumper == nil || img == "" {
		return
	}
	path, err := s.dumper.Dump(img)
	if err != nil {
		s.log.Debugw("Screenshot dump skipped", "error", err)
		return
	}
	s.log.Debugw("Screenshot saved", "path", path)
}
