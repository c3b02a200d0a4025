// Package models defines the shared data types exchanged between the Loom
// client, the session gateway, and persistent storage: messages and their
// content blocks, tree snapshots, and session status values.
package models

import "encoding/json"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType identifies the kind of a content block within a message.
type BlockType string

const (
	// BlockContent is plain text content.
	BlockContent BlockType = "content"
	// BlockAttachments is a set of image attachments.
	BlockAttachments BlockType = "attachments"
	// BlockResearch is an ordered list of thinking and tool sub-items
	// produced during an assistant turn.
	BlockResearch BlockType = "research"
	// BlockError carries a user-visible error message.
	BlockError BlockType = "error"
)

// Block is one content unit of a message. Exactly one of the payload fields
// is meaningful for a given Type; order within a message is preserved.
type Block struct {
	Type        BlockType      `json:"type"`
	Text        string         `json:"text,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Items       []ResearchItem `json:"items,omitempty"`
}

// Attachment is an image attached to a message. Storage and upload are
// handled by an external collaborator; only the reference travels here.
type Attachment struct {
	ID       string `json:"id,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"` // base64, inline images only
}

// ResearchItemType identifies a sub-item inside a research block.
type ResearchItemType string

const (
	ResearchThinking ResearchItemType = "thinking"
	ResearchTool     ResearchItemType = "tool"
)

// ResearchItem is one entry of a research block: either a thinking passage
// or a completed tool invocation with its result.
type ResearchItem struct {
	Type ResearchItemType `json:"type"`
	Text string           `json:"text,omitempty"`
	Tool *ToolUse         `json:"tool,omitempty"`
}

// ToolUse records a tool invocation and its result inside a research block.
type ToolUse struct {
	CallID string          `json:"callId"`
	Name   string          `json:"name"`
	Args   json.RawMessage `json:"args,omitempty"`
	Result string          `json:"result,omitempty"`
}

// Message is one node of a conversation tree. Parent/child structure is
// represented arena-style: ids are positive integers assigned from a
// monotonic counter, and sibling links are ids rather than pointers so a
// snapshot serializes without cycles. A zero id field means "none".
type Message struct {
	ID        int     `json:"id"`
	Role      Role    `json:"role"`
	Blocks    []Block `json:"blocks"`
	CreatedAt string  `json:"createdAt"`

	// LatestChild is the most recently active child, or 0 for a leaf.
	LatestChild int `json:"latestChild,omitempty"`
	// PrevSibling and NextSibling link messages sharing the same parent in
	// creation order, independent of which sibling is active.
	PrevSibling int `json:"prevSibling,omitempty"`
	NextSibling int `json:"nextSibling,omitempty"`
}

// TextBlock builds a single content block.
func TextBlock(text string) Block {
	return Block{Type: BlockContent, Text: text}
}

// ErrorBlock builds a single error block.
func ErrorBlock(message string) Block {
	return Block{Type: BlockError, Text: message}
}

// ContentText returns the concatenated text of all content blocks.
func (m *Message) ContentText() string {
	var out string
	for _, b := range m.Blocks {
		if b.Type == BlockContent {
			out += b.Text
		}
	}
	return out
}
