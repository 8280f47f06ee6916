package service

import (
	"github.com/threadvault/threadvault/internal/model"
)

// ThreadNode is one message and its direct replies. Trees are built from
// id references by index lookup, so a corrupt parent link cannot loop.
type ThreadNode struct {
	Message *model.Message `json:"message"`
	Replies []*ThreadNode  `json:"replies,omitempty"`
}

// ThreadStats summarizes a thread from the same single batched fetch
// that builds its tree.
type ThreadStats struct {
	RootID       string `json:"root_id"`
	MessageCount int    `json:"message_count"`
	Participants int    `json:"participants"`
	MaxDepth     int    `json:"max_depth"`
}

// buildThreadTree assembles the reply tree from one flat, pre-sorted
// slice using the two-pass index-then-link strategy: first index every
// node by id, then attach each node to its parent's reply list in a
// single linear scan. Input order (depth, created_at) is preserved in
// each reply list. Returns nil when the root row is absent.
//
// A reply whose parent is missing from the set attaches to the root
// rather than disappearing.
func buildThreadTree(rootID string, messages []*model.Message) *ThreadNode {
	nodes := make(map[string]*ThreadNode, len(messages))
	for _, msg := range messages {
		nodes[msg.ID] = &ThreadNode{Message: msg}
	}

	root, ok := nodes[rootID]
	if !ok {
		return nil
	}

	for _, msg := range messages {
		if msg.ID == rootID {
			continue
		}
		node := nodes[msg.ID]
		parent := root
		if msg.ParentID != nil {
			if p, ok := nodes[*msg.ParentID]; ok {
				parent = p
			}
		}
		parent.Replies = append(parent.Replies, node)
	}
	return root
}

// statsForThread computes thread statistics from the flat member slice.
func statsForThread(rootID string, messages []*model.Message) *ThreadStats {
	stats := &ThreadStats{
		RootID:       rootID,
		MessageCount: len(messages),
	}
	participants := make(map[string]struct{}, 2)
	for _, msg := range messages {
		participants[msg.SenderID] = struct{}{}
		participants[msg.ReceiverID] = struct{}{}
		if msg.Depth > stats.MaxDepth {
			stats.MaxDepth = msg.Depth
		}
	}
	stats.Participants = len(participants)
	return stats
}
