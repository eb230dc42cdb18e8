package bot

// WebhookPayload is the envelope Meta delivers to the WhatsApp webhook.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one WhatsApp Business Account entry in a webhook delivery.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change carries one field-level notification. Only changes with field
// "messages" contain user messages.
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue holds the messages within a change.
type ChangeValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Messages         []InboundMessage `json:"messages"`
}

// InboundMessage is one message from a user. Text is nil for non-text
// message types (media, reactions), and Type is "status" for delivery
// receipts, which carry no text at all.
type InboundMessage struct {
	From string       `json:"from"`
	ID   string       `json:"id"`
	Type string       `json:"type"`
	Text *TextContent `json:"text"`
}

// TextContent is the text body of an inbound message.
type TextContent struct {
	Body string `json:"body"`
}

// Body returns the message text, or the empty string when the message has
// no text content.
func (m *InboundMessage) Body() string {
	if m.Text == nil {
		return ""
	}
	return m.Text.Body
}
