package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Типы частей составного сообщения.
const (
	PartText  = "text"
	PartImage = "image_url"
)

// ImageURL — ссылка на изображение (у нас всегда data URL).
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart — часть составного сообщения: текст или картинка.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

func TextPart(text string) ContentPart { return ContentPart{Type: PartText, Text: text} }

func ImagePart(url string) ContentPart {
	return ContentPart{Type: PartImage, ImageURL: &ImageURL{URL: url}}
}

// Message — сообщение, уходящее модели. Если Parts не nil, content сериализуется списком частей,
// иначе строкой Content.
type Message struct {
	Role    string
	Content string
	Parts   []ContentPart
}

// Text возвращает текстовое содержимое сообщения (для составного — склейку текстовых частей).
func (m Message) Text() string {
	if m.Parts == nil {
		return m.Content
	}
	var buf bytes.Buffer
	for _, p := range m.Parts {
		if p.Type == PartText {
			buf.WriteString(p.Text)
		}
	}
	return buf.String()
}

// Image возвращает URL картинки, если она есть.
func (m Message) Image() (string, bool) {
	for _, p := range m.Parts {
		if p.Type == PartImage && p.ImageURL != nil {
			return p.ImageURL.URL, true
		}
	}
	return "", false
}

type wireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	var (
		content []byte
		err     error
	)
	if m.Parts != nil {
		content, err = json.Marshal(m.Parts)
	} else {
		content, err = json.Marshal(m.Content)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{Role: m.Role, Content: content})
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*m = Message{Role: w.Role}

	raw := bytes.TrimSpace(w.Content)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		return nil
	case raw[0] == '[':
		m.Parts = []ContentPart{}
		return json.Unmarshal(raw, &m.Parts)
	case raw[0] == '"':
		return json.Unmarshal(raw, &m.Content)
	default:
		return fmt.Errorf("prompt message content: unexpected %s", raw)
	}
}
