package amqp

import (
	"encoding/json"
	"time"
)

// RateRefreshMessage asks the rates worker to refresh one currency pair,
// or every active pair when From and To are empty. The worker fetches the
// actual rates itself; the message is only a trigger.
type RateRefreshMessage struct {
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRateRefreshMessage builds a refresh trigger for one pair. Pass empty
// currencies to request a full sweep.
func NewRateRefreshMessage(from, to string) *RateRefreshMessage {
	return &RateRefreshMessage{
		From:      from,
		To:        to,
		Timestamp: time.Now(),
	}
}

// AllPairs reports whether the message requests a full sweep.
func (m *RateRefreshMessage) AllPairs() bool {
	return m.From == "" && m.To == ""
}

func (m *RateRefreshMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func RateRefreshMessageFromJSON(data []byte) (*RateRefreshMessage, error) {
	var msg RateRefreshMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
