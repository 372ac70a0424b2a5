package domain

import "encoding/json"

// ContentPart is one element of a multi-part message body (text or an inline image).
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image reference, usually a data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// ChatMessage is the chat message shape sent to the completions endpoint.
// When Parts is non-empty it is sent as the content array instead of Content.
type ChatMessage struct {
	Role    string
	Content string
	Parts   []ContentPart
}

type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

func (m ChatMessage) MarshalJSON() ([]byte, error) {
	w := wireMessage{Role: m.Role, Content: m.Content}
	if len(m.Parts) > 0 {
		w.Content = m.Parts
	}
	return json.Marshal(w)
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImagePart builds an image content part from a URL or data URL.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}}
}
