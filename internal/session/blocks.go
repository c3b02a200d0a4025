package session

import (
	"encoding/json"
	"strings"

	"github.com/haasonsaas/loom/pkg/models"
)

// blockAccumulator assembles the assistant message incrementally as deltas
// and tool events stream in. Content text goes into content blocks;
// thinking passages and tool invocations go into research blocks. Adjacent
// entries of the same kind coalesce so the block order preserves the real
// interleaving across iterations.
type blockAccumulator struct {
	blocks   []models.Block
	iterText strings.Builder
}

func newBlockAccumulator() *blockAccumulator {
	return &blockAccumulator{}
}

// BeginIteration resets the per-iteration text; the accumulated blocks keep
// growing across iterations.
func (b *blockAccumulator) BeginIteration() {
	b.iterText.Reset()
}

// IterationText returns the content text streamed since BeginIteration.
func (b *blockAccumulator) IterationText() string {
	return b.iterText.String()
}

// AddText appends a content delta.
func (b *blockAccumulator) AddText(text string) {
	b.iterText.WriteString(text)
	if n := len(b.blocks); n > 0 && b.blocks[n-1].Type == models.BlockContent {
		b.blocks[n-1].Text += text
		return
	}
	b.blocks = append(b.blocks, models.TextBlock(text))
}

// AddThinking appends a thinking delta to the current research block.
func (b *blockAccumulator) AddThinking(text string) {
	items := b.researchItems()
	if n := len(*items); n > 0 && (*items)[n-1].Type == models.ResearchThinking {
		(*items)[n-1].Text += text
		return
	}
	*items = append(*items, models.ResearchItem{Type: models.ResearchThinking, Text: text})
}

// AddToolCall records a tool invocation in the current research block. The
// result arrives later via SetToolResult.
func (b *blockAccumulator) AddToolCall(callID, name string, args json.RawMessage) {
	items := b.researchItems()
	*items = append(*items, models.ResearchItem{
		Type: models.ResearchTool,
		Tool: &models.ToolUse{CallID: callID, Name: name, Args: args},
	})
}

// SetToolResult fills in the result of a previously recorded tool call.
func (b *blockAccumulator) SetToolResult(callID, result string) {
	for i := len(b.blocks) - 1; i >= 0; i-- {
		if b.blocks[i].Type != models.BlockResearch {
			continue
		}
		items := b.blocks[i].Items
		for j := len(items) - 1; j >= 0; j-- {
			if items[j].Type == models.ResearchTool && items[j].Tool != nil && items[j].Tool.CallID == callID {
				items[j].Tool.Result = result
				return
			}
		}
	}
}

// Blocks returns the blocks built so far. The caller must not mutate them;
// tree snapshots share block slices.
func (b *blockAccumulator) Blocks() []models.Block {
	out := make([]models.Block, len(b.blocks))
	copy(out, b.blocks)
	return out
}

// researchItems returns the item slice of the trailing research block,
// appending a fresh block when the last block is not a research block.
func (b *blockAccumulator) researchItems() *[]models.ResearchItem {
	if n := len(b.blocks); n > 0 && b.blocks[n-1].Type == models.BlockResearch {
		return &b.blocks[n-1].Items
	}
	b.blocks = append(b.blocks, models.Block{Type: models.BlockResearch})
	return &b.blocks[len(b.blocks)-1].Items
}
