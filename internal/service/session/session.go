package session

import (
	"errors"
	"iter"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/schema"
)

// ErrorPrefix — метка видимой ошибки в реплике ассистента.
const ErrorPrefix = "⚠️ Error: "

var (
	ErrEmptyQuestion = errors.New("empty question")
	ErrBusy          = errors.New("previous answer is still streaming")
)

// Session — потокобезопасная история диалога, как её видит пользователь.
// Ответ ассистента копится в одной реплике, на которую указывает active.
type Session struct {
	id     string
	mu     sync.Mutex
	turns  []schema.ChatTurn
	active int // индекс реплики, в которую идёт поток; -1 — нет
}

// New создаёт сессию; непустое приветствие становится первой репликой ассистента.
func New(welcome string) *Session {
	s := &Session{id: uuid.NewString(), active: -1}
	if w := strings.TrimSpace(welcome); w != "" {
		s.turns = append(s.turns, schema.ChatTurn{Role: schema.RoleAssistant, Content: w})
	}
	return s
}

func (s *Session) ID() string { return s.id }

// Submit добавляет реплику пользователя и пустую реплику ассистента под ответ.
// Возвращает запрос для /analyze: вопрос плюс история, заканчивающаяся этой же репликой.
func (s *Session) Submit(question, image string) (schema.AnalyzeRequest, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return schema.AnalyzeRequest{}, ErrEmptyQuestion
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active >= 0 {
		return schema.AnalyzeRequest{}, ErrBusy
	}

	history := make([]schema.ChatTurn, 0, len(s.turns)+1)
	for _, t := range s.turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		history = append(history, t)
	}
	user := schema.ChatTurn{Role: schema.RoleUser, Content: q}
	history = append(history, user)

	s.turns = append(s.turns, user, schema.ChatTurn{Role: schema.RoleAssistant})
	s.active = len(s.turns) - 1

	return schema.AnalyzeRequest{Question: q, Messages: history, Image: strings.TrimSpace(image)}, nil
}

// AppendDelta дописывает фрагмент в текущий ответ. false — ответа в процессе нет.
func (s *Session) AppendDelta(delta string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active < 0 {
		return false
	}
	s.turns[s.active].Content += delta
	return true
}

// Complete завершает текущий ответ.
func (s *Session) Complete() {
	s.mu.Lock()
	s.active = -1
	s.mu.Unlock()
}

// Fail завершает текущий ответ видимой ошибкой. Уже полученный текст остаётся.
// Возвращает итоговый текст реплики.
func (s *Session) Fail(err error) string {
	msg := "Unknown error"
	if err != nil {
		msg = err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active < 0 {
		return ""
	}
	t := &s.turns[s.active]
	if t.Content == "" {
		t.Content = ErrorPrefix + msg
	} else {
		t.Content += "\n\n" + ErrorPrefix + msg
	}
	s.active = -1
	return t.Content
}

// Consume читает поток фрагментов в текущий ответ. onDelta (может быть nil)
// вызывается на каждый фрагмент. Ошибка потока фиксируется через Fail и возвращается.
func (s *Session) Consume(seq iter.Seq2[string, error], onDelta func(string)) error {
	for delta, err := range seq {
		if err != nil {
			s.Fail(err)
			return err
		}
		if delta == "" {
			continue
		}
		s.AppendDelta(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	s.Complete()
	return nil
}

// Turns возвращает копию истории.
func (s *Session) Turns() []schema.ChatTurn {
	s.mu.Lock()
	out := make([]schema.ChatTurn, len(s.turns))
	copy(out, s.turns)
	s.mu.Unlock()
	return out
}

// Streaming сообщает, идёт ли сейчас ответ.
func (s *Session) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active >= 0
}

func (s *Session) Len() int {
	s.mu.Lock()
	l := len(s.turns)
	s.mu.Unlock()
	return l
}
