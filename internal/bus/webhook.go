package bus

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// webhookDelivery mirrors the Cloud API webhook envelope. Only the
// fields the relay consumes are declared.
type webhookDelivery struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []webhookMessage  `json:"messages"`
				Statuses []json.RawMessage `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Audio *webhookMedia `json:"audio"`
	Image *webhookMedia `json:"image"`
}

type webhookMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

// ParseWebhook extracts the first user message from a webhook POST body.
// Deliveries that carry no message (status callbacks, read receipts)
// return (nil, nil): they must be acknowledged but not dispatched.
// Malformed JSON returns an error; the caller still acks those.
func ParseWebhook(body []byte) (*InboundEvent, error) {
	var delivery webhookDelivery
	if err := json.Unmarshal(body, &delivery); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	for _, entry := range delivery.Entry {
		for _, change := range entry.Changes {
			if len(change.Value.Messages) == 0 {
				continue
			}
			msg := change.Value.Messages[0]
			if msg.From == "" {
				continue
			}
			return eventFromMessage(msg), nil
		}
	}
	return nil, nil
}

func eventFromMessage(msg webhookMessage) *InboundEvent {
	ev := &InboundEvent{
		EventID:   uuid.NewString(),
		Sender:    msg.From,
		MessageID: msg.ID,
		RawType:   msg.Type,
	}
	switch msg.Type {
	case "text":
		ev.Modality = ModalityText
		if msg.Text != nil {
			ev.Text = msg.Text.Body
		}
	case "audio":
		ev.Modality = ModalityAudio
		if msg.Audio != nil {
			ev.Media = &Media{ID: msg.Audio.ID, MimeType: msg.Audio.MimeType}
		}
	case "image":
		ev.Modality = ModalityImage
		if msg.Image != nil {
			ev.Media = &Media{
				ID:       msg.Image.ID,
				MimeType: msg.Image.MimeType,
				Caption:  msg.Image.Caption,
			}
		}
	default:
		ev.Modality = ModalityOther
	}
	return ev
}
