package chat

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Attachment types.
const (
	AttachmentFile     = "file"
	AttachmentNotebook = "notebook"
)

// Selection is a text range within an attached file or cell.
type Selection struct {
	Start   [2]int `json:"start"`
	End     [2]int `json:"end"`
	Content string `json:"content"`
}

// NotebookCell references one cell of an attached notebook.
type NotebookCell struct {
	ID        string     `json:"id"`
	InputType string     `json:"input_type"`
	Selection *Selection `json:"selection,omitempty"`
}

// Attachment is a file or notebook attached to a message. Value holds the
// path in both cases.
type Attachment struct {
	Type      string         `json:"type"`
	Value     string         `json:"value"`
	MimeType  string         `json:"mimetype,omitempty"`
	Selection *Selection     `json:"selection,omitempty"`
	Cells     []NotebookCell `json:"cells,omitempty"`
}

// DecodeAttachment rebuilds a typed attachment from its stored JSON form.
// A missing type means file.
func DecodeAttachment(raw json.RawMessage) (Attachment, error) {
	var a Attachment
	if err := json.Unmarshal(raw, &a); err != nil {
		return Attachment{}, fmt.Errorf("decode attachment: %w", err)
	}
	if a.Type == "" {
		a.Type = AttachmentFile
	}
	if a.Value == "" {
		return Attachment{}, errors.New("decode attachment: missing value")
	}
	if a.Type == AttachmentNotebook {
		for _, c := range a.Cells {
			if c.ID == "" || c.InputType == "" {
				return Attachment{}, errors.New("decode attachment: notebook cell missing id or input_type")
			}
		}
	}
	return a, nil
}
