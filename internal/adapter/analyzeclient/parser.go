package analyzeclient

import (
	"bytes"
	"strings"

	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/schema"
)

const defaultEventName = "message"

// Parser инкрементально разбирает байты text/event-stream в события.
// Неполная строка в конце куска сохраняется до следующего Feed.
type Parser struct {
	buf   []byte
	event string
}

func NewParser() *Parser { return &Parser{event: defaultEventName} }

// Feed добавляет кусок потока и возвращает события из всех завершённых строк.
func (p *Parser) Feed(chunk []byte) []schema.StreamEvent {
	p.buf = append(p.buf, chunk...)

	var out []schema.StreamEvent
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimSuffix(p.buf[:idx], []byte{'\r'}))
		p.buf = p.buf[idx+1:]
		if ev, ok := p.line(line); ok {
			out = append(out, ev)
		}
	}
	// не держим ссылку на уже разобранную часть
	if len(p.buf) == 0 {
		p.buf = nil
	}
	return out
}

// Flush разбирает остаток без завершающего перевода строки (конец потока).
func (p *Parser) Flush() []schema.StreamEvent {
	if len(p.buf) == 0 {
		return nil
	}
	line := strings.TrimSuffix(string(p.buf), "\r")
	p.buf = nil
	if ev, ok := p.line(line); ok {
		return []schema.StreamEvent{ev}
	}
	return nil
}

func (p *Parser) line(line string) (schema.StreamEvent, bool) {
	switch {
	case line == "":
		p.event = defaultEventName
	case strings.HasPrefix(line, "event:"):
		p.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
	case strings.HasPrefix(line, "data:"):
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		ev, ok, err := schema.DecodeEvent(p.event, []byte(data))
		if err != nil || !ok {
			return schema.StreamEvent{}, false
		}
		return ev, true
	}
	return schema.StreamEvent{}, false
}
