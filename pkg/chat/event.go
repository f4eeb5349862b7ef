package chat

import (
	"encoding/json"

	"github.com/xhad/docchat/internal/models"
)

type EventType string

const (
	EventSources EventType = "sources"
	EventText    EventType = "text"
	EventDone    EventType = "done"
)

// Event is one element of a turn's output. Exactly one payload field is
// meaningful per type.
type Event struct {
	Type    EventType           `json:"type"`
	Sources []models.ChatSource `json:"sources,omitempty"`
	Text    string              `json:"text,omitempty"`
}

// MarshalJSON always writes the sources array on a sources event, even when
// it is empty.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventSources:
		sources := e.Sources
		if sources == nil {
			sources = []models.ChatSource{}
		}
		return json.Marshal(struct {
			Type    EventType           `json:"type"`
			Sources []models.ChatSource `json:"sources"`
		}{e.Type, sources})
	case EventText:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			Text string    `json:"text"`
		}{e.Type, e.Text})
	default:
		return json.Marshal(struct {
			Type EventType `json:"type"`
		}{e.Type})
	}
}
