package chat

import (
	"slices"
	"strconv"
	"strings"
)

// Node is a message together with the replies that point at it.
type Node struct {
	Message
	Children []*Node `json:"children"`
}

// BuildTree links msgs by ParentMessageID. Messages whose parent is absent
// from msgs become roots, so any page of a chat yields a valid forest.
// Siblings are ordered by message index when both have one, otherwise by
// creation time.
func BuildTree(msgs []Message) []*Node {
	byID := make(map[string]*Node, len(msgs))
	order := make([]*Node, 0, len(msgs))
	for i := range msgs {
		if _, dup := byID[msgs[i].ID]; dup {
			continue
		}
		n := &Node{Message: msgs[i], Children: []*Node{}}
		byID[n.ID] = n
		order = append(order, n)
	}

	roots := make([]*Node, 0)
	for _, n := range order {
		if n.ParentMessageID != nil {
			if p, ok := byID[*n.ParentMessageID]; ok && p != n {
				p.Children = append(p.Children, n)
				continue
			}
		}
		roots = append(roots, n)
	}

	slices.SortStableFunc(roots, compareNodes)
	for _, n := range order {
		slices.SortStableFunc(n.Children, compareNodes)
	}
	return roots
}

func compareNodes(a, b *Node) int {
	ai, aok := parseIndex(a.MessageIndex)
	bi, bok := parseIndex(b.MessageIndex)
	if aok && bok && ai != bi {
		if ai < bi {
			return -1
		}
		return 1
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func parseIndex(s *string) (int, bool) {
	if s == nil {
		return 0, false
	}
	n, err := strconv.Atoi(*s)
	if err != nil {
		return 0, false
	}
	return n, true
}
