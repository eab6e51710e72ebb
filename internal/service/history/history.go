package history

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/schema"
)

const (
	DefaultMaxMessages = 40
	DefaultMaxChars    = 12000
)

// Limits ограничивает историю, отправляемую модели.
type Limits struct {
	MaxMessages int // максимум сообщений
	MaxChars    int // максимум символов суммарно по всем оставленным сообщениям
}

// DefaultLimits возвращает ограничения по умолчанию (40 сообщений / 12000 символов).
func DefaultLimits() Limits {
	return Limits{MaxMessages: DefaultMaxMessages, MaxChars: DefaultMaxChars}
}

// normalized подставляет дефолты вместо неположительных значений.
func (l Limits) normalized() Limits {
	if l.MaxMessages <= 0 {
		l.MaxMessages = DefaultMaxMessages
	}
	if l.MaxChars <= 0 {
		l.MaxChars = DefaultMaxChars
	}
	return l
}

type rawTurn struct {
	Role    json.RawMessage `json:"role"`
	Content json.RawMessage `json:"content"`
}

// Sanitize приводит произвольный JSON из тела запроса к списку ChatTurn.
// Никогда не падает: мусор превращается в пустой результат.
// Роль, отличная от assistant, становится user; контент приводится к строке и обрезается;
// реплики с пустым контентом отбрасываются. Порядок сохраняется.
func Sanitize(raw json.RawMessage) []schema.ChatTurn {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}

	out := make([]schema.ChatTurn, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' {
			continue
		}
		var rt rawTurn
		if err := json.Unmarshal(item, &rt); err != nil {
			continue
		}
		role := schema.RoleUser
		if asString(rt.Role) == schema.RoleAssistant {
			role = schema.RoleAssistant
		}
		content := strings.TrimSpace(asString(rt.Content))
		if content == "" {
			continue
		}
		out = append(out, schema.ChatTurn{Role: role, Content: content})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// asString приводит JSON-значение к строке: строки как есть, null/отсутствие — пусто,
// остальное — исходный JSON-текст.
func asString(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return ""
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
		return ""
	}
	return string(v)
}

// Trim ограничивает историю жадно с конца: сообщение берётся, если влезает в оба лимита.
// Первое (самое свежее) сообщение берётся всегда, даже если одно превышает лимит символов.
// Более свежее сообщение никогда не отбрасывается ради более старого.
// Результат — новый срез в хронологическом порядке; входной срез не меняется.
func Trim(turns []schema.ChatTurn, lim Limits) []schema.ChatTurn {
	if len(turns) == 0 {
		return nil
	}
	lim = lim.normalized()

	total := 0
	kept := 0
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		next := total + utf8.RuneCountInString(turns[i].Content)
		if kept >= lim.MaxMessages {
			break
		}
		if next > lim.MaxChars && kept > 0 {
			break
		}
		total = next
		kept++
		start = i
	}

	out := make([]schema.ChatTurn, kept)
	copy(out, turns[start:])
	return out
}

// Chars возвращает суммарную длину контента в символах.
func Chars(turns []schema.ChatTurn) int {
	n := 0
	for _, t := range turns {
		n += utf8.RuneCountInString(t.Content)
	}
	return n
}
