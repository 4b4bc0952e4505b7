package amqp

import (
	"encoding/json"
	"time"
)

// CategorySyncMessage asks the worker to push one local collection to the
// remote store. It carries only the key pair; the worker reads the current
// payload from the local store, so a stale message still pushes fresh data.
type CategorySyncMessage struct {
	UserID    string    `json:"user_id"`
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
}

func NewCategorySyncMessage(userID, category string) *CategorySyncMessage {
	return &CategorySyncMessage{
		UserID:    userID,
		Category:  category,
		Timestamp: time.Now(),
	}
}

func (m *CategorySyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func CategorySyncMessageFromJSON(data []byte) (*CategorySyncMessage, error) {
	var msg CategorySyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
