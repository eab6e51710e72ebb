package ai

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"

	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/service/prompt"
)

// Client интерфейс для взаимодействия с моделью. Все реализации должны быть взаимозаменяемыми.
type Client interface {
	// Complete делает один небуферизованный вызов и возвращает текст первого варианта ответа.
	Complete(ctx context.Context, msgs []prompt.Message) (string, error)
	// Stream возвращает ленивую последовательность непустых фрагментов ответа.
	// Ошибка провайдера приходит последним элементом; повторный обход не поддерживается.
	Stream(ctx context.Context, msgs []prompt.Message) iter.Seq2[string, error]
}

// ErrStreamConsumed — последовательность уже была прочитана.
var ErrStreamConsumed = errors.New("stream already consumed")

// single запрещает повторный обход последовательности.
func single(seq iter.Seq2[string, error]) iter.Seq2[string, error] {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if used.Swap(true) {
			yield("", ErrStreamConsumed)
			return
		}
		seq(yield)
	}
}

// failed — последовательность из одной ошибки.
func failed(err error) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("", err)
	}
}
