package analyze

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/schema"
	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/service/history"
)

type rawRequest struct {
	Question json.RawMessage `json:"question"`
	Messages json.RawMessage `json:"messages"`
	Image    json.RawMessage `json:"image"`
}

// DecodeRequest разбирает тело /analyze в типизированный запрос.
// История санитизируется, после чего запрос проходит валидацию. Пустое тело — ErrMissingBody.
func DecodeRequest(body []byte) (*schema.AnalyzeRequest, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, schema.ErrMissingBody
	}
	var raw rawRequest
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, schema.ErrInvalidJSON
	}

	req := &schema.AnalyzeRequest{
		Question: strings.TrimSpace(jsonString(raw.Question)),
		Messages: history.Sanitize(raw.Messages),
		Image:    strings.TrimSpace(jsonString(raw.Image)),
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// jsonString возвращает значение, только если это JSON-строка.
func jsonString(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || v[0] != '"' {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}
