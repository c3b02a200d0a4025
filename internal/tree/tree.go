// Package tree implements the branching conversation tree.
//
// Messages form a forest: editing a message never replaces it, it inserts a
// new sibling next to it, so every variant of a conversation survives and can
// be revisited. Messages are stored arena-style in a slice indexed by id-1
// with integer sibling links, which keeps snapshots flat and serializable.
//
// All operations are non-mutating: they take a State value and return a new
// one, leaving the input untouched. This is what makes it safe for the client
// and the session agent to each hold a copy and reconcile through event
// replay instead of shared memory.
package tree

import (
	"github.com/haasonsaas/loom/pkg/models"
)

// State is the full serializable snapshot of one conversation tree.
type State struct {
	// Messages is the arena: Messages[i] has id i+1. It only grows.
	Messages []models.Message `json:"messages"`
	// CurrentPath is the active root-to-leaf sequence of message ids.
	CurrentPath []int `json:"currentPath"`
	// LatestRootID is the id of the active root subtree, 0 when empty.
	LatestRootID int `json:"latestRootId,omitempty"`
	// NextID is the next id to assign; strictly greater than every id ever
	// created, never reused.
	NextID int `json:"nextId"`
}

// NewState returns an empty tree.
func NewState() State {
	return State{NextID: 1}
}

// lookup returns a pointer into msgs for id, or nil when the id does not
// resolve. The pointer aliases the slice; callers that got msgs from a
// cloned State may mutate through it.
func lookup(msgs []models.Message, id int) *models.Message {
	if id < 1 || id > len(msgs) {
		return nil
	}
	m := &msgs[id-1]
	if m.ID != id {
		return nil
	}
	return m
}

// clone copies the message arena so link fields can be rewritten without
// touching the input state. Block slices are shared: no operation ever
// mutates the blocks of an existing message.
func clone(msgs []models.Message) []models.Message {
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out
}

// Add appends a message as a child of the last message on the current path,
// or as a new root when the path is empty. The new message is spliced into
// the sibling chain immediately after the previously active sibling, becomes
// the parent's latest child, and the current path extends to it.
func Add(s State, role models.Role, blocks []models.Block, createdAt string) State {
	id := s.NextID
	if id < 1 {
		id = len(s.Messages) + 1
	}

	msgs := clone(s.Messages)
	msg := models.Message{
		ID:        id,
		Role:      role,
		Blocks:    blocks,
		CreatedAt: createdAt,
	}

	var parentID int
	if len(s.CurrentPath) > 0 {
		parentID = s.CurrentPath[len(s.CurrentPath)-1]
	}

	// Previous active sibling at the insertion level.
	var active int
	if parentID == 0 {
		active = s.LatestRootID
	} else if parent := lookup(msgs, parentID); parent != nil {
		active = parent.LatestChild
	}

	if prev := lookup(msgs, active); prev != nil {
		msg.PrevSibling = prev.ID
		msg.NextSibling = prev.NextSibling
	}

	msgs = append(msgs, msg)

	// Fix sibling back-links around the insertion point.
	if prev := lookup(msgs, msg.PrevSibling); prev != nil {
		prev.NextSibling = id
	}
	if next := lookup(msgs, msg.NextSibling); next != nil {
		next.PrevSibling = id
	}

	out := State{
		Messages:     msgs,
		LatestRootID: s.LatestRootID,
		NextID:       id + 1,
	}
	if parentID == 0 {
		out.LatestRootID = id
	} else if parent := lookup(msgs, parentID); parent != nil {
		parent.LatestChild = id
	}

	out.CurrentPath = make([]int, 0, len(s.CurrentPath)+1)
	out.CurrentPath = append(out.CurrentPath, s.CurrentPath...)
	out.CurrentPath = append(out.CurrentPath, id)
	return out
}

// Edit creates a new sibling of anchorID carrying the given blocks. The
// anchor's own blocks are never touched; the new sibling is spliced into the
// chain immediately after the anchor, becomes the parent's latest child, and
// the current path switches to descend through it. Returns the new state,
// the added message, and false when anchorID does not resolve.
func Edit(s State, anchorID int, blocks []models.Block, createdAt string) (State, *models.Message, bool) {
	anchor := lookup(s.Messages, anchorID)
	if anchor == nil {
		return s, nil, false
	}

	id := s.NextID
	msgs := clone(s.Messages)

	msg := models.Message{
		ID:          id,
		Role:        anchor.Role,
		Blocks:      blocks,
		CreatedAt:   createdAt,
		PrevSibling: anchorID,
		NextSibling: anchor.NextSibling,
	}
	msgs = append(msgs, msg)

	lookup(msgs, anchorID).NextSibling = id
	if next := lookup(msgs, msg.NextSibling); next != nil {
		next.PrevSibling = id
	}

	out := State{
		Messages:     msgs,
		LatestRootID: s.LatestRootID,
		NextID:       id + 1,
	}

	// Re-point the parent's active-branch pointer at the new sibling. The
	// parent is derived from sibling-chain membership: it is the message
	// whose latestChild lands in the anchor's chain, or the root pointer
	// when the chain is a root chain. When the anchor sits off the active
	// path, the switch propagates through every ancestor so the rebuilt
	// path descends through the new sibling.
	chain := siblingChain(msgs, anchorID)
	if containsID(chain, s.LatestRootID) {
		out.LatestRootID = id
	} else if parent := parentOfChain(msgs, chain); parent != nil {
		parent.LatestChild = id
		for steps := 0; steps <= len(msgs); steps++ {
			chain = siblingChain(msgs, parent.ID)
			if containsID(chain, out.LatestRootID) {
				out.LatestRootID = parent.ID
				break
			}
			up := parentOfChain(msgs, chain)
			if up == nil {
				break
			}
			up.LatestChild = parent.ID
			parent = up
		}
	}

	out.CurrentPath = BuildPath(msgs, out.LatestRootID)
	added := lookup(out.Messages, id)
	return out, added, true
}

// SwitchBranch re-points the active-branch pointer at the given depth to
// targetID and recomputes the path tail by following latestChild from there.
// Depth 1 selects among roots; depth d > 1 selects among children of the
// message at path position d-1. Returns the input state unchanged when the
// depth or target is invalid.
func SwitchBranch(s State, depth, targetID int) State {
	if depth < 1 || depth > len(s.CurrentPath) {
		return s
	}
	target := lookup(s.Messages, targetID)
	if target == nil {
		return s
	}

	// The target must be a sibling of the message currently active at that
	// depth; anything else would detach the path from the tree.
	current := s.CurrentPath[depth-1]
	if !containsID(siblingChain(s.Messages, targetID), current) {
		return s
	}
	if targetID == current {
		return s
	}

	msgs := clone(s.Messages)
	out := State{
		Messages:     msgs,
		LatestRootID: s.LatestRootID,
		NextID:       s.NextID,
	}

	if depth == 1 {
		out.LatestRootID = targetID
	} else {
		parentID := s.CurrentPath[depth-2]
		if parent := lookup(msgs, parentID); parent != nil {
			parent.LatestChild = targetID
		}
	}

	out.CurrentPath = append(out.CurrentPath, s.CurrentPath[:depth-1]...)
	out.CurrentPath = append(out.CurrentPath, descend(msgs, targetID)...)
	return out
}

// BuildPath walks latestChild pointers from the active root and returns the
// resulting root-to-leaf id sequence. The walk stops early if a referenced
// id does not resolve, returning the path built so far.
func BuildPath(msgs []models.Message, latestRootID int) []int {
	return descend(msgs, latestRootID)
}

func descend(msgs []models.Message, from int) []int {
	var path []int
	id := from
	for id != 0 {
		m := lookup(msgs, id)
		if m == nil {
			break
		}
		path = append(path, id)
		if len(path) > len(msgs) {
			// A latestChild cycle would be a corrupted snapshot; stop
			// rather than spin.
			break
		}
		id = m.LatestChild
	}
	return path
}

// MessagesFromPath resolves a path to its messages, silently dropping ids
// that no longer resolve.
func MessagesFromPath(msgs []models.Message, path []int) []models.Message {
	out := make([]models.Message, 0, len(path))
	for _, id := range path {
		if m := lookup(msgs, id); m != nil {
			out = append(out, *m)
		}
	}
	return out
}

// BranchInfo describes the sibling chain containing a message, for branch
// navigation. CurrentIndex is the zero-based position of the message within
// the chain.
type BranchInfo struct {
	CurrentIndex int
	Total        int
	SiblingIDs   []int
}

// Branches returns branch navigation info for the chain containing id, or
// nil when the message has no siblings (nothing to navigate).
func Branches(msgs []models.Message, id int) *BranchInfo {
	if lookup(msgs, id) == nil {
		return nil
	}
	chain := siblingChain(msgs, id)
	if len(chain) < 2 {
		return nil
	}
	info := &BranchInfo{Total: len(chain), SiblingIDs: chain}
	for i, sid := range chain {
		if sid == id {
			info.CurrentIndex = i
			break
		}
	}
	return info
}

// LinearItem is one entry of a flat history used to hydrate a tree.
type LinearItem struct {
	Role      models.Role
	Blocks    []models.Block
	CreatedAt string
}

// NewLinearState builds a tree for a chain with no branching: each item
// becomes the sole child of the previous one. The inverse of projecting a
// linear tree through MessagesFromPath.
func NewLinearState(items []LinearItem) State {
	s := NewState()
	for _, it := range items {
		s = Add(s, it.Role, it.Blocks, it.CreatedAt)
	}
	return s
}

// siblingChain returns the full chain containing id, left to right. The
// walk is bounded by the arena size so a corrupted link cannot loop.
func siblingChain(msgs []models.Message, id int) []int {
	m := lookup(msgs, id)
	if m == nil {
		return nil
	}

	// Walk to the leftmost sibling.
	left := id
	for steps := 0; steps <= len(msgs); steps++ {
		cur := lookup(msgs, left)
		if cur == nil || cur.PrevSibling == 0 {
			break
		}
		left = cur.PrevSibling
	}

	var chain []int
	for cur := left; cur != 0 && len(chain) <= len(msgs); {
		m := lookup(msgs, cur)
		if m == nil {
			break
		}
		chain = append(chain, cur)
		cur = m.NextSibling
	}
	return chain
}

// parentOfChain finds the message whose latestChild points into the chain.
// Returns a pointer into msgs, or nil for a root chain.
func parentOfChain(msgs []models.Message, chain []int) *models.Message {
	for i := range msgs {
		if msgs[i].ID == 0 {
			continue
		}
		if msgs[i].LatestChild != 0 && containsID(chain, msgs[i].LatestChild) {
			return &msgs[i]
		}
	}
	return nil
}

func containsID(ids []int, id int) bool {
	if id == 0 {
		return false
	}
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
