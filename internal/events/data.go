package events

import "time"

// Typed accessors for Event.Data. Missing or mistyped keys yield the zero value.

func (e Event) Str(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

func (e Event) Float(key string) float64 {
	switch v := e.Data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func (e Event) Int64(key string) int64 {
	switch v := e.Data[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func (e Event) Bool(key string) bool {
	b, _ := e.Data[key].(bool)
	return b
}

func (e Event) Time(key string) time.Time {
	t, _ := e.Data[key].(time.Time)
	return t
}

// ChatID returns the routing chat id, or 0 when the event goes to every admin
func (e Event) ChatID() int64 {
	return e.Int64(KeyChatID)
}
