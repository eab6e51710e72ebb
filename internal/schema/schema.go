package schema

import (
	"encoding/json"
	"fmt"
)

// Роли реплик в истории диалога.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatTurn — одна реплика диалога, как её видит пользователь.
type ChatTurn struct {
	Role    string `json:"role" validate:"oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// AnalyzeRequest — тело запроса POST /analyze после разбора и санитизации.
// Question уже обрезан по пробелам; Messages == nil, если история пустая.
type AnalyzeRequest struct {
	Question string     `json:"question,omitempty" validate:"required_without=Messages"`
	Messages []ChatTurn `json:"messages,omitempty" validate:"omitempty,dive"`
	Image    string     `json:"image,omitempty" validate:"omitempty,imagedata"`
}

// Timing — служебные замеры буферизованного ответа, только для наблюдаемости.
type Timing struct {
	CompletionMs int64 `json:"completionMs"`
	TotalMs      int64 `json:"totalMs"`
}

// AnalyzeResponse — ответ буферизованного режима.
type AnalyzeResponse struct {
	Answer string  `json:"answer"`
	Timing *Timing `json:"_timing,omitempty"`
}

// ErrorResponse — тело любой JSON-ошибки.
type ErrorResponse struct {
	Error string `json:"error"`
}

// EventName — имя SSE-события.
type EventName string

const (
	EventMeta  EventName = "meta"
	EventDelta EventName = "delta"
	EventDone  EventName = "done"
	EventError EventName = "error"
)

// StreamEvent — размеченное объединение событий потока ответа.
// Заполнено только поле, соответствующее Event.
type StreamEvent struct {
	Event EventName
	OK    bool
	Delta string
	Error string
}

func MetaEvent() StreamEvent                { return StreamEvent{Event: EventMeta, OK: true} }
func DeltaEvent(delta string) StreamEvent   { return StreamEvent{Event: EventDelta, Delta: delta} }
func DoneEvent() StreamEvent                { return StreamEvent{Event: EventDone} }
func ErrorEvent(message string) StreamEvent { return StreamEvent{Event: EventError, Error: message} }

// Terminal сообщает, завершает ли событие поток.
func (e StreamEvent) Terminal() bool {
	return e.Event == EventDone || e.Event == EventError
}

// Payload возвращает объект, который уходит в строку data: события.
func (e StreamEvent) Payload() any {
	switch e.Event {
	case EventMeta:
		return struct {
			OK bool `json:"ok"`
		}{e.OK}
	case EventDelta:
		return struct {
			Delta string `json:"delta"`
		}{e.Delta}
	case EventDone:
		return struct {
			Done bool `json:"done"`
		}{true}
	case EventError:
		return ErrorResponse{Error: e.Error}
	default:
		return struct{}{}
	}
}

// wireEvent — кадр WebSocket: {"event": ..., "data": {...}}.
type wireEvent struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (e StreamEvent) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(e.Payload())
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{Event: e.Event, Data: data})
}

func (e *StreamEvent) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	ev, ok, err := DecodeEvent(string(w.Event), w.Data)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("unknown stream event %q", w.Event)
	}
	*e = ev
	return nil
}

// DecodeEvent собирает StreamEvent из имени события и JSON-данных.
// Неизвестные имена возвращают ok=false без ошибки.
func DecodeEvent(name string, data []byte) (StreamEvent, bool, error) {
	var obj map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &obj); err != nil {
			// не-объект (число, строка) — считаем пустым объектом
			obj = nil
			var probe any
			if perr := json.Unmarshal(data, &probe); perr != nil {
				return StreamEvent{}, false, err
			}
		}
	}

	switch EventName(name) {
	case EventMeta:
		ok, _ := obj["ok"].(bool)
		return StreamEvent{Event: EventMeta, OK: ok}, true, nil
	case EventDelta:
		return DeltaEvent(stringify(obj["delta"], "")), true, nil
	case EventDone:
		return DoneEvent(), true, nil
	case EventError:
		return ErrorEvent(stringify(obj["error"], "Unknown error")), true, nil
	default:
		return StreamEvent{}, false, nil
	}
}

func stringify(v any, def string) string {
	switch t := v.(type) {
	case nil:
		return def
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return def
		}
		return string(b)
	}
}
