// Package group assembles media-group sibling sets from a flat message
// stream. Lone messages become synthetic singleton groups so the partitioner
// has one uniform unit of work.
package group

import (
	"fmt"
	"log"

	"tgmirror/internal/media"
	"tgmirror/pkg/telegramapi"
)

// MediaGroup is an indivisible set of messages sharing one group id. The
// partitioner must assign it whole.
type MediaGroup struct {
	ID             string
	Messages       []telegramapi.Message
	EstimatedBytes int64
	// Synthetic marks singleton groups built for lone messages.
	Synthetic bool
}

func (g *MediaGroup) add(msg telegramapi.Message) {
	g.Messages = append(g.Messages, msg)
	g.EstimatedBytes += media.Estimate(msg)
}

// Len returns the number of member messages.
func (g *MediaGroup) Len() int { return len(g.Messages) }

// SingletonID builds the synthetic group id for a lone message.
func SingletonID(messageID int) string { return fmt.Sprintf("single:%d", messageID) }

// Collection is the grouped view of a fetched message window.
type Collection struct {
	// Groups preserves first-encounter order, which is message-id order when
	// the input is sorted.
	Groups []*MediaGroup

	RealGroups     int
	Singletons     int
	TotalMessages  int
	EstimatedBytes int64
}

// Build performs the single linear pass over messages. Input is expected to
// be sorted by id ascending; member order inside a group follows input order.
func Build(messages []telegramapi.Message) *Collection {
	col := &Collection{}
	byID := make(map[string]*MediaGroup)

	for _, msg := range messages {
		if !msg.Valid() {
			continue
		}
		col.TotalMessages++

		if gid := msg.MediaGroupID; gid != "" {
			g, ok := byID[gid]
			if !ok {
				g = &MediaGroup{ID: gid}
				byID[gid] = g
				col.Groups = append(col.Groups, g)
				col.RealGroups++
			}
			g.add(msg)
			continue
		}

		g := &MediaGroup{ID: SingletonID(msg.ID), Synthetic: true}
		g.add(msg)
		col.Groups = append(col.Groups, g)
		col.Singletons++
	}

	for _, g := range col.Groups {
		col.EstimatedBytes += g.EstimatedBytes
	}

	log.Printf("[Grouper] %d messages -> %d media groups, %d singletons (est. %s)",
		col.TotalMessages, col.RealGroups, col.Singletons, formatMiB(col.EstimatedBytes))
	return col
}

// ExpectedGroupSizes maps every real group id to its member count. The
// structure-preserving publisher uses it to know when a batch is complete.
func (c *Collection) ExpectedGroupSizes() map[string]int {
	sizes := make(map[string]int, c.RealGroups)
	for _, g := range c.Groups {
		if !g.Synthetic {
			sizes[g.ID] = g.Len()
		}
	}
	return sizes
}

func formatMiB(n int64) string {
	return fmt.Sprintf("%.1f MiB", float64(n)/float64(1<<20))
}
