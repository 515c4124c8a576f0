package app

import (
	"log"
	"sort"

	"codeconnect/api/internal/store"
)

// ReplyNode is a reply with its nested children.
type ReplyNode struct {
	store.Reply
	Children []*ReplyNode
}

// BuildReplyForest assembles a flat reply list into a forest of nested nodes.
// Replies whose parent is missing from the list are dropped and logged.
// Children at every level are ordered oldest first, ties broken by ID so the
// output is stable.
func BuildReplyForest(replies []store.Reply) []*ReplyNode {
	nodes := make([]ReplyNode, len(replies))
	index := make(map[string]*ReplyNode, len(replies))
	for i := range replies {
		nodes[i] = ReplyNode{Reply: replies[i]}
		index[replies[i].ID] = &nodes[i]
	}

	roots := make([]*ReplyNode, 0)
	for i := range nodes {
		node := &nodes[i]
		if node.ParentReplyID == "" {
			roots = append(roots, node)
			continue
		}
		parent, ok := index[node.ParentReplyID]
		if !ok {
			log.Printf("reply tree: dropping orphan reply %s (parent %s missing)", node.ID, node.ParentReplyID)
			continue
		}
		parent.Children = append(parent.Children, node)
	}

	sortLevel(roots)
	for i := range nodes {
		sortLevel(nodes[i].Children)
	}

	// Anything not reachable from a root (a detached parent loop) is dropped.
	if reachable := countForest(roots); reachable < len(replies) {
		log.Printf("reply tree: dropped %d unreachable replies", len(replies)-reachable)
	}

	return roots
}

func sortLevel(level []*ReplyNode) {
	sort.Slice(level, func(i, j int) bool {
		if level[i].CreatedAt.Equal(level[j].CreatedAt) {
			return level[i].ID < level[j].ID
		}
		return level[i].CreatedAt.Before(level[j].CreatedAt)
	})
}

// countForest walks the forest iteratively with a visited set so a malformed
// parent link can never loop.
func countForest(roots []*ReplyNode) int {
	visited := make(map[string]struct{})
	stack := append([]*ReplyNode(nil), roots...)
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[node.ID]; seen {
			continue
		}
		visited[node.ID] = struct{}{}
		stack = append(stack, node.Children...)
	}
	return len(visited)
}

// replyForestPayload serializes a forest into the JSON shape the API returns.
func replyForestPayload(roots []*ReplyNode) []map[string]any {
	visited := make(map[string]struct{})
	return replyLevelPayload(roots, visited)
}

func replyLevelPayload(level []*ReplyNode, visited map[string]struct{}) []map[string]any {
	items := make([]map[string]any, 0, len(level))
	for _, node := range level {
		if _, seen := visited[node.ID]; seen {
			continue
		}
		visited[node.ID] = struct{}{}
		item := map[string]any{
			"id":            node.ID,
			"messageId":     node.MessageID,
			"authorId":      node.AuthorID,
			"authorName":    node.AuthorName,
			"content":       node.Content,
			"upvotes":       node.Upvotes,
			"downvotes":     node.Downvotes,
			"createdAt":     node.CreatedAt,
			"parentReplyId": nullableString(node.ParentReplyID),
			"replies":       replyLevelPayload(node.Children, visited),
		}
		if node.ImageURL != "" {
			item["imageUrl"] = node.ImageURL
		}
		items = append(items, item)
	}
	return items
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
