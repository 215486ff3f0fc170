package max

import "maxrelay/internal/models"

type chatsResponse struct {
	Chats []models.Chat `json:"chats"`
}

type userResponse struct {
	ID    int64    `json:"id"`
	Names []string `json:"names"`
}

type urlResponse struct {
	URL string `json:"url"`
}

type historyResponse struct {
	Messages []models.SourceMessage `json:"messages"`
}

// Event is one frame of the gateway's websocket stream. The webhook endpoint
// accepts the same envelope.
type Event struct {
	Type    string                `json:"type"`
	Message *models.SourceMessage `json:"message,omitempty"`
}

const EventTypeMessage = "message"
