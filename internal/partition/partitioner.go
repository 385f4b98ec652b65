// Package partition assigns media groups to sessions: largest-first greedy
// onto the least-loaded session, preserving group atomicity. Validation
// failures here are bugs, not user conditions.
package partition

import (
	"fmt"
	"log"
	"sort"

	"tgmirror/internal/group"
)

// Assignment is the work parcel for one session.
type Assignment struct {
	Session        string
	Groups         []*group.MediaGroup
	Messages       int
	EstimatedBytes int64
}

func (a *Assignment) add(g *group.MediaGroup) {
	a.Groups = append(a.Groups, g)
	a.Messages += g.Len()
	a.EstimatedBytes += g.EstimatedBytes
}

// Options tune the partitioner.
type Options struct {
	// LargestFirst sorts groups by estimated size descending before the
	// greedy pass. Largest-first greedy is near-optimal on bin-packing-like
	// distributions.
	LargestFirst bool
	// MinBalanceRatio is the advisory min/max load floor. Falling below it is
	// reported, never fatal.
	MinBalanceRatio float64
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{LargestFirst: true, MinBalanceRatio: 0.7}
}

// Partition assigns every group in col to exactly one session. The result is
// deterministic: stable sort plus lowest-index tie-break.
func Partition(col *group.Collection, sessions []string, opts Options) ([]*Assignment, error) {
	if len(sessions) == 0 {
		return nil, fmt.Errorf("partitioner: no sessions available")
	}

	assignments := make([]*Assignment, len(sessions))
	for i, name := range sessions {
		assignments[i] = &Assignment{Session: name}
	}

	groups := make([]*group.MediaGroup, len(col.Groups))
	copy(groups, col.Groups)
	if opts.LargestFirst {
		sort.SliceStable(groups, func(i, j int) bool {
			return groups[i].EstimatedBytes > groups[j].EstimatedBytes
		})
	}

	for _, g := range groups {
		assignments[minLoadIndex(assignments)].add(g)
	}

	if err := validate(col, assignments); err != nil {
		return nil, err
	}

	ratio := BalanceRatio(assignments)
	for _, a := range assignments {
		log.Printf("[Partitioner] %s: %d groups, %d messages, est. %.1f MiB",
			a.Session, len(a.Groups), a.Messages, float64(a.EstimatedBytes)/float64(1<<20))
	}
	if len(col.Groups) >= len(sessions) && ratio < opts.MinBalanceRatio {
		log.Printf("[Partitioner] WARN: load balance ratio %.3f below %.3f", ratio, opts.MinBalanceRatio)
	} else {
		log.Printf("[Partitioner] load balance ratio %.3f", ratio)
	}
	return assignments, nil
}

func minLoadIndex(assignments []*Assignment) int {
	idx := 0
	for i, a := range assignments {
		if a.EstimatedBytes < assignments[idx].EstimatedBytes {
			idx = i
		}
	}
	return idx
}

// validate enforces the partition invariants: message conservation, group
// uniqueness, and no idle session while groups outnumber sessions.
func validate(col *group.Collection, assignments []*Assignment) error {
	total := 0
	seen := make(map[string]string, len(col.Groups))
	for _, a := range assignments {
		total += a.Messages
		for _, g := range a.Groups {
			if owner, dup := seen[g.ID]; dup {
				return fmt.Errorf("partitioner bug: group %s assigned to both %s and %s", g.ID, owner, a.Session)
			}
			seen[g.ID] = a.Session
		}
	}
	if total != col.TotalMessages {
		return fmt.Errorf("partitioner bug: assigned %d messages, input had %d", total, col.TotalMessages)
	}
	if len(seen) != len(col.Groups) {
		return fmt.Errorf("partitioner bug: assigned %d groups, input had %d", len(seen), len(col.Groups))
	}
	if len(col.Groups) >= len(assignments) && col.TotalMessages > 0 {
		for _, a := range assignments {
			if len(a.Groups) == 0 {
				return fmt.Errorf("partitioner bug: session %s left empty with %d groups to place", a.Session, len(col.Groups))
			}
		}
	}
	return nil
}

// BalanceRatio reports min/max estimated load across assignments; 1.0 is a
// perfect balance, 0 means at least one session got nothing.
func BalanceRatio(assignments []*Assignment) float64 {
	if len(assignments) == 0 {
		return 0
	}
	min, max := assignments[0].EstimatedBytes, assignments[0].EstimatedBytes
	for _, a := range assignments[1:] {
		if a.EstimatedBytes < min {
			min = a.EstimatedBytes
		}
		if a.EstimatedBytes > max {
			max = a.EstimatedBytes
		}
	}
	if max == 0 {
		return 1
	}
	return float64(min) / float64(max)
}
