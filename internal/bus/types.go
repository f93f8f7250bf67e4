// Package bus defines the event types exchanged between the webhook
// server and the dispatch pipeline.
package bus

// Modality classifies an inbound WhatsApp message by how it gets handled.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityAudio Modality = "audio"
	ModalityImage Modality = "image"
	// ModalityOther covers stickers, documents, locations, contacts and
	// anything Meta adds later. These still get a reply.
	ModalityOther Modality = "other"
)

// Media identifies a downloadable attachment on an inbound message.
type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// InboundEvent is one user message extracted from a webhook delivery.
type InboundEvent struct {
	EventID   string   `json:"event_id"`   // internal correlation id
	Sender    string   `json:"sender"`     // sender phone number (wa_id)
	MessageID string   `json:"message_id"` // Cloud API message id, used for read receipts
	Modality  Modality `json:"modality"`
	RawType   string   `json:"raw_type"`       // the type string as delivered
	Text      string   `json:"text,omitempty"` // text body, empty for media
	Media     *Media   `json:"media,omitempty"`
}

// Outcome reports how the pipeline resolved an event.
type Outcome string

const (
	// OutcomeReplied means the model produced the reply that was sent.
	OutcomeReplied Outcome = "replied"
	// OutcomeApology means a known failure was answered with a stock
	// apology and conversation history was left untouched.
	OutcomeApology Outcome = "apology"
	// OutcomeFallback means an unexpected failure was caught and the
	// generic fallback text was sent on a best-effort basis.
	OutcomeFallback Outcome = "fallback"
)
