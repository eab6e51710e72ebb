package main

import (
	"context"
	"iter"

	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/service/prompt"
)

type failingClient struct{ err error }

func (c *failingClient) Complete(context.Context, []prompt.Message) (string, error) { return "", c.err }

func (c *failingClient) Stream(context.Context, []prompt.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) { yield("", c.err) }
}
