package tree

import (
	"reflect"
	"testing"

	"github.com/haasonsaas/loom/pkg/models"
)

func addText(s State, role models.Role, text string) State {
	return Add(s, role, []models.Block{models.TextBlock(text)}, "2026-01-01T00:00:00Z")
}

// checkSiblingLinks verifies that every prev/next pair is mutually
// consistent and that no sibling chain cycles.
func checkSiblingLinks(t *testing.T, msgs []models.Message) {
	t.Helper()
	for _, m := range msgs {
		if m.NextSibling != 0 {
			next := msgs[m.NextSibling-1]
			if next.PrevSibling != m.ID {
				t.Errorf("message %d: nextSibling %d has prevSibling %d", m.ID, m.NextSibling, next.PrevSibling)
			}
		}
		if m.PrevSibling != 0 {
			prev := msgs[m.PrevSibling-1]
			if prev.NextSibling != m.ID {
				t.Errorf("message %d: prevSibling %d has nextSibling %d", m.ID, m.PrevSibling, prev.NextSibling)
			}
		}
		seen := map[int]bool{}
		for id := m.ID; id != 0; id = msgs[id-1].NextSibling {
			if seen[id] {
				t.Fatalf("sibling chain containing %d cycles at %d", m.ID, id)
			}
			seen[id] = true
		}
	}
}

func TestAddLinearChain(t *testing.T) {
	s := NewState()
	s = addText(s, models.RoleUser, "one")
	s = addText(s, models.RoleAssistant, "two")
	s = addText(s, models.RoleUser, "three")

	if want := []int{1, 2, 3}; !reflect.DeepEqual(s.CurrentPath, want) {
		t.Fatalf("currentPath = %v, want %v", s.CurrentPath, want)
	}
	if s.NextID != 4 {
		t.Errorf("nextId = %d, want 4", s.NextID)
	}
	if s.LatestRootID != 1 {
		t.Errorf("latestRootId = %d, want 1", s.LatestRootID)
	}

	got := MessagesFromPath(s.Messages, BuildPath(s.Messages, s.LatestRootID))
	if len(got) != 3 {
		t.Fatalf("projected %d messages, want 3", len(got))
	}
	for i, text := range []string{"one", "two", "three"} {
		if got[i].ContentText() != text {
			t.Errorf("message %d text = %q, want %q", i, got[i].ContentText(), text)
		}
	}
	checkSiblingLinks(t, s.Messages)
}

func TestAddDoesNotMutateInput(t *testing.T) {
	s := addText(NewState(), models.RoleUser, "hi")
	before := len(s.Messages)
	pathBefore := append([]int(nil), s.CurrentPath...)

	_ = addText(s, models.RoleAssistant, "reply")

	if len(s.Messages) != before {
		t.Errorf("input state grew to %d messages", len(s.Messages))
	}
	if !reflect.DeepEqual(s.CurrentPath, pathBefore) {
		t.Errorf("input currentPath changed: %v", s.CurrentPath)
	}
}

func TestEditCreatesSibling(t *testing.T) {
	// Spec scenario: user "hi" (1), assistant reply (2), edit 1 with "hello".
	s := addText(NewState(), models.RoleUser, "hi")
	s = addText(s, models.RoleAssistant, "reply")

	edited, added, ok := Edit(s, 1, []models.Block{models.TextBlock("hello")}, "2026-01-01T00:01:00Z")
	if !ok {
		t.Fatal("edit of existing message failed")
	}
	if added.ID != 3 {
		t.Fatalf("added id = %d, want 3", added.ID)
	}
	if got := edited.Messages[0].NextSibling; got != 3 {
		t.Errorf("1.nextSibling = %d, want 3", got)
	}
	if got := added.PrevSibling; got != 1 {
		t.Errorf("3.prevSibling = %d, want 1", got)
	}
	if want := []int{3}; !reflect.DeepEqual(edited.CurrentPath, want) {
		t.Errorf("currentPath = %v, want %v", edited.CurrentPath, want)
	}

	// The anchor's blocks survive untouched.
	if got := edited.Messages[0].ContentText(); got != "hi" {
		t.Errorf("anchor text = %q, want %q", got, "hi")
	}
	if got := s.Messages[0].NextSibling; got != 0 {
		t.Errorf("input state mutated: 1.nextSibling = %d", got)
	}

	// Message 2 is reachable again via switchBranch back to the original root.
	back := SwitchBranch(edited, 1, 1)
	if want := []int{1, 2}; !reflect.DeepEqual(back.CurrentPath, want) {
		t.Errorf("after switch back, currentPath = %v, want %v", back.CurrentPath, want)
	}
	checkSiblingLinks(t, edited.Messages)
}

func TestEditMissingAnchor(t *testing.T) {
	s := addText(NewState(), models.RoleUser, "hi")
	if _, _, ok := Edit(s, 99, nil, ""); ok {
		t.Error("edit of missing anchor should fail")
	}
}

func TestEditMidTree(t *testing.T) {
	s := addText(NewState(), models.RoleUser, "q1")
	s = addText(s, models.RoleAssistant, "a1")
	s = addText(s, models.RoleUser, "q2")
	s = addText(s, models.RoleAssistant, "a2")

	// Edit the second user message; the branch point is below a1.
	edited, added, ok := Edit(s, 3, []models.Block{models.TextBlock("q2 v2")}, "")
	if !ok {
		t.Fatal("edit failed")
	}
	if added.ID != 5 {
		t.Fatalf("added id = %d, want 5", added.ID)
	}
	if want := []int{1, 2, 5}; !reflect.DeepEqual(edited.CurrentPath, want) {
		t.Errorf("currentPath = %v, want %v", edited.CurrentPath, want)
	}
	if got := edited.Messages[1].LatestChild; got != 5 {
		t.Errorf("parent latestChild = %d, want 5", got)
	}
	if info := Branches(edited.Messages, 5); info == nil {
		t.Error("expected branch info for edited sibling chain")
	} else {
		if info.Total != 2 || info.CurrentIndex != 1 {
			t.Errorf("branch info = %+v, want total 2 index 1", info)
		}
		if want := []int{3, 5}; !reflect.DeepEqual(info.SiblingIDs, want) {
			t.Errorf("siblingIds = %v, want %v", info.SiblingIDs, want)
		}
	}
	checkSiblingLinks(t, edited.Messages)

	// Switching back at depth 3 restores the old subtree, a2 included.
	back := SwitchBranch(edited, 3, 3)
	if want := []int{1, 2, 3, 4}; !reflect.DeepEqual(back.CurrentPath, want) {
		t.Errorf("after switch, currentPath = %v, want %v", back.CurrentPath, want)
	}
}

func TestRepeatedEditsAllocateFreshIDs(t *testing.T) {
	s := addText(NewState(), models.RoleUser, "v1")
	seen := map[int]bool{1: true}
	for i := 0; i < 5; i++ {
		next, added, ok := Edit(s, 1, []models.Block{models.TextBlock("v")}, "")
		if !ok {
			t.Fatal("edit failed")
		}
		if seen[added.ID] {
			t.Fatalf("id %d reused", added.ID)
		}
		if added.ID >= next.NextID {
			t.Fatalf("nextId %d not above allocated id %d", next.NextID, added.ID)
		}
		seen[added.ID] = true
		s = next
	}
	checkSiblingLinks(t, s.Messages)
	if info := Branches(s.Messages, 1); info == nil || info.Total != 6 {
		t.Fatalf("expected 6 siblings, got %+v", info)
	}
}

func TestSwitchBranchInvalidTargetIsNoOp(t *testing.T) {
	s := addText(NewState(), models.RoleUser, "hi")
	s = addText(s, models.RoleAssistant, "reply")

	for _, tc := range []struct {
		name   string
		depth  int
		target int
	}{
		{"missing target", 1, 99},
		{"depth out of range", 5, 1},
		{"target not a sibling at depth", 1, 2},
	} {
		out := SwitchBranch(s, tc.depth, tc.target)
		if !reflect.DeepEqual(out, s) {
			t.Errorf("%s: state changed", tc.name)
		}
	}
}

func TestBuildPathStopsAtMissingID(t *testing.T) {
	s := addText(NewState(), models.RoleUser, "hi")
	msgs := clone(s.Messages)
	msgs[0].LatestChild = 42 // dangling

	if got := BuildPath(msgs, 1); !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("path = %v, want [1]", got)
	}
}

func TestBranchesSingleSibling(t *testing.T) {
	s := addText(NewState(), models.RoleUser, "hi")
	if info := Branches(s.Messages, 1); info != nil {
		t.Errorf("expected nil branch info for lone message, got %+v", info)
	}
	if info := Branches(s.Messages, 7); info != nil {
		t.Errorf("expected nil branch info for missing id, got %+v", info)
	}
}

func TestLinearRoundTrip(t *testing.T) {
	items := []LinearItem{
		{Role: models.RoleUser, Blocks: []models.Block{models.TextBlock("a")}, CreatedAt: "t1"},
		{Role: models.RoleAssistant, Blocks: []models.Block{models.TextBlock("b")}, CreatedAt: "t2"},
		{Role: models.RoleUser, Blocks: []models.Block{models.TextBlock("c")}, CreatedAt: "t3"},
		{Role: models.RoleAssistant, Blocks: []models.Block{models.TextBlock("d")}, CreatedAt: "t4"},
	}
	s := NewLinearState(items)

	path := BuildPath(s.Messages, s.LatestRootID)
	msgs := MessagesFromPath(s.Messages, path)
	if len(msgs) != len(items) {
		t.Fatalf("round trip yielded %d messages, want %d", len(msgs), len(items))
	}
	for i, it := range items {
		if msgs[i].Role != it.Role {
			t.Errorf("message %d role = %s, want %s", i, msgs[i].Role, it.Role)
		}
		if msgs[i].CreatedAt != it.CreatedAt {
			t.Errorf("message %d createdAt = %q, want %q", i, msgs[i].CreatedAt, it.CreatedAt)
		}
		if !reflect.DeepEqual(msgs[i].Blocks, it.Blocks) {
			t.Errorf("message %d blocks differ", i)
		}
	}
}

func TestRootSiblings(t *testing.T) {
	// Editing the root creates a second root subtree; both stay navigable.
	s := addText(NewState(), models.RoleUser, "first root")
	s = addText(s, models.RoleAssistant, "reply one")

	edited, _, ok := Edit(s, 1, []models.Block{models.TextBlock("second root")}, "")
	if !ok {
		t.Fatal("edit failed")
	}
	edited = addText(edited, models.RoleAssistant, "reply two")

	if edited.LatestRootID != 3 {
		t.Fatalf("latestRootId = %d, want 3", edited.LatestRootID)
	}
	if want := []int{3, 4}; !reflect.DeepEqual(edited.CurrentPath, want) {
		t.Fatalf("currentPath = %v, want %v", edited.CurrentPath, want)
	}

	back := SwitchBranch(edited, 1, 1)
	if want := []int{1, 2}; !reflect.DeepEqual(back.CurrentPath, want) {
		t.Errorf("currentPath = %v, want %v", back.CurrentPath, want)
	}
	checkSiblingLinks(t, edited.Messages)
}

func TestEditOffPathSwitchesBranch(t *testing.T) {
	// Editing a message whose ancestors sit off the active path must pull
	// the path back through those ancestors and down to the new sibling.
	s := addText(NewState(), models.RoleUser, "v1")
	s = addText(s, models.RoleAssistant, "reply to v1")

	// Branch the root; the path moves to the new root subtree, leaving the
	// reply on the abandoned branch.
	s, _, ok := Edit(s, 1, []models.Block{models.TextBlock("v2")}, "")
	if !ok {
		t.Fatal("root edit failed")
	}
	if want := []int{3}; !reflect.DeepEqual(s.CurrentPath, want) {
		t.Fatalf("currentPath = %v, want %v", s.CurrentPath, want)
	}

	edited, added, ok := Edit(s, 2, []models.Block{models.TextBlock("reply edited")}, "")
	if !ok {
		t.Fatal("off-path edit failed")
	}
	if edited.LatestRootID != 1 {
		t.Errorf("latestRootId = %d, want 1", edited.LatestRootID)
	}
	if want := []int{1, added.ID}; !reflect.DeepEqual(edited.CurrentPath, want) {
		t.Errorf("currentPath = %v, want %v", edited.CurrentPath, want)
	}
	if added.PrevSibling != 2 {
		t.Errorf("prevSibling = %d, want 2", added.PrevSibling)
	}
	checkSiblingLinks(t, edited.Messages)
}
