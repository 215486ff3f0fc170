package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// RawID keeps a platform message id verbatim so that the engine can decide
// whether it is an integer. It accepts JSON numbers and strings.
type RawID string

func (r *RawID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = RawID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("message id must be a string or number: %w", err)
	}
	*r = RawID(n.String())
	return nil
}

// Int64 parses the id as a base-10 integer
func (r RawID) Int64() (int64, error) {
	return strconv.ParseInt(string(r), 10, 64)
}

// Chat is a source chat known to the MAX account
type Chat struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// SourceMessage is a message observed on the source platform
type SourceMessage struct {
	ID          RawID       `json:"id"`
	ChatID      *int64      `json:"chat_id,omitempty"`
	Sender      *int64      `json:"sender,omitempty"`
	Time        int64       `json:"time"` // unix milliseconds
	Text        string      `json:"text"`
	Attachments Attachments `json:"attaches,omitempty"`
}
