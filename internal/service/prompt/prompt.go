package prompt

import (
	"strings"

	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/schema"
)

// ErrMissingQuestion — не удалось определить текст текущей реплики пользователя.
var ErrMissingQuestion = schema.ErrMissingQuestion

const DefaultLanguage = "Traditional Chinese"

// SystemPrompt собирает системную инструкцию для заданного языка ответа.
func SystemPrompt(language string) string {
	if strings.TrimSpace(language) == "" {
		language = DefaultLanguage
	}
	return strings.Join([]string{
		"You are a helpful assistant.",
		"Reply in natural " + language + ".",
		"Format your answer using GitHub-flavored Markdown (like ChatGPT): paragraphs, bullet/numbered lists, code fences with language tags, and tables when helpful.",
		"Keep structure clean: use short sections and whitespace; avoid huge unbroken text blocks.",
	}, "\n")
}

// NormalizeImageDataURL приводит картинку к data URL.
// Готовый data URL возвращается как есть. Сырой base64 очищается от пробелов и переносов,
// URL-алфавит переводится в стандартный, недостающий паддинг дописывается; результат оборачивается в image/png.
func NormalizeImageDataURL(image string) string {
	s := strings.TrimSpace(image)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "data:image/") {
		return s
	}
	if strings.HasPrefix(s, "data:") && strings.Contains(s, ";base64,") {
		return s
	}
	return "data:image/png;base64," + CleanBase64(s)
}

var base64Cleaner = strings.NewReplacer(" ", "", "\n", "", "\r", "", "\t", "", "-", "+", "_", "/")

// CleanBase64 приводит сырой base64 к стандартному алфавиту с паддингом.
func CleanBase64(s string) string {
	if strings.ContainsAny(s, " \n\r\t-_") {
		s = base64Cleaner.Replace(s)
	}
	s = strings.TrimRight(s, "=")
	if r := len(s) % 4; r != 0 {
		s += strings.Repeat("=", 4-r)
	}
	return s
}

// Input — всё, из чего собирается запрос к модели. History уже санитизирована и обрезана.
type Input struct {
	System   string
	Question string
	Image    string
	History  []schema.ChatTurn
}

// Assemble собирает [system, ...history, user].
//
// Текст пользователя берётся из Question; если он пуст — из последней user-реплики истории,
// которая при этом из истории убирается. Если Question задан и совпадает с последней
// user-репликой истории, эта реплика отбрасывается как дубль.
func Assemble(in Input) ([]Message, error) {
	history := make([]schema.ChatTurn, len(in.History))
	copy(history, in.History)

	text := strings.TrimSpace(in.Question)
	if text != "" {
		if n := len(history); n > 0 {
			last := history[n-1]
			if last.Role == schema.RoleUser && strings.TrimSpace(last.Content) == text {
				history = history[:n-1]
			}
		}
	} else {
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Role != schema.RoleUser {
				continue
			}
			text = strings.TrimSpace(history[i].Content)
			history = append(history[:i], history[i+1:]...)
			break
		}
	}
	if text == "" {
		return nil, ErrMissingQuestion
	}

	out := make([]Message, 0, len(history)+2)
	out = append(out, Message{Role: schema.RoleSystem, Content: in.System})
	for _, turn := range history {
		out = append(out, Message{Role: turn.Role, Content: turn.Content})
	}

	user := Message{Role: schema.RoleUser, Content: text}
	if url := NormalizeImageDataURL(in.Image); url != "" {
		user = Message{Role: schema.RoleUser, Parts: []ContentPart{TextPart(text), ImagePart(url)}}
	}
	return append(out, user), nil
}
