package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/service/prompt"
)

// MockPrefix — маркер ответа мок-клиента.
const MockPrefix = "MOCK_RESPONSE:"

// MockClient заглушка, которая не делает реальных запросов:
// отвечает собранными сообщениями в JSON с префиксом MockPrefix.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Complete(_ context.Context, msgs []prompt.Message) (string, error) {
	return MockPayload(msgs)
}

func (c *MockClient) Stream(_ context.Context, msgs []prompt.Message) iter.Seq2[string, error] {
	return single(func(yield func(string, error) bool) {
		payload, err := MockPayload(msgs)
		if err != nil {
			yield("", err)
			return
		}
		yield(payload, nil)
	})
}

// MockPayload формирует детерминированный ответ мока.
func MockPayload(msgs []prompt.Message) (string, error) {
	b, err := json.Marshal(msgs)
	if err != nil {
		return "", fmt.Errorf("mock payload: %w", err)
	}
	return MockPrefix + string(b), nil
}

// ParseMock восстанавливает сообщения из ответа мока.
func ParseMock(answer string) ([]prompt.Message, error) {
	rest, ok := strings.CutPrefix(answer, MockPrefix)
	if !ok {
		return nil, fmt.Errorf("parse mock: missing %s prefix", MockPrefix)
	}
	var msgs []prompt.Message
	if err := json.Unmarshal([]byte(rest), &msgs); err != nil {
		return nil, fmt.Errorf("parse mock: %w", err)
	}
	return msgs, nil
}
