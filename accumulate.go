package changes

import (
	"context"
	"sort"

	osm "github.com/omniscale/go-osm"
	"github.com/pkg/errors"

	"github.com/omniscale/osm-get-changes/replication"
)

// AccumulatedDiff is the merged result of consecutive replication diffs.
type AccumulatedDiff struct {
	// Changes are the merged change records. Sorted by element kind and ID
	// when deduplication is enabled, in download order otherwise.
	Changes []osm.Diff
	// Size is the accumulated uncompressed size of all merged diffs.
	Size int64
	// LastSequence is the newest sequence ID merged into Changes.
	LastSequence int
}

type AccumulateOptions struct {
	// MaxBytes stops the download once the accumulated size reaches this
	// limit. Zero means no limit.
	MaxBytes int64
	// Deduplicate collapses multiple versions of the same element to the
	// newest one and sorts the result.
	Deduplicate bool
	// LimitTo drops changes outside this bbox, see filterDiffs.
	LimitTo *LimitTo
}

type elemKind int

const (
	nodeElem elemKind = iota
	wayElem
	relationElem
)

type elemKey struct {
	kind elemKind
	id   int64
}

func changeKey(d osm.Diff) elemKey {
	switch {
	case d.Node != nil:
		return elemKey{nodeElem, d.Node.ID}
	case d.Way != nil:
		return elemKey{wayElem, d.Way.ID}
	default:
		return elemKey{relationElem, d.Rel.ID}
	}
}

// Accumulate downloads consecutive diffs starting at start and merges them
// in memory. The download stops when the server has no diff for the next
// sequence (i.e. the run caught up with the server) or when the
// accumulated size reaches opts.MaxBytes.
//
// Returns the merged diff and the last merged sequence ID. When no diff
// was available at all, the diff is nil and the sequence is start-1.
// A transport failure aborts the whole accumulation, nothing is returned.
func Accumulate(ctx context.Context, server DiffServer, start int, opts AccumulateOptions) (*AccumulatedDiff, int, error) {
	var merged []osm.Diff
	var size int64
	byKey := map[elemKey]int{}
	insertedNodes := map[int64]struct{}{}
	insertedWays := map[int64]struct{}{}

	cur := start
	for {
		batch, err := server.FetchDiff(ctx, cur)
		if errors.Cause(err) == replication.ErrDiffNotFound {
			break
		}
		if err != nil {
			return nil, start - 1, errors.Wrapf(err, "fetching diff %d", cur)
		}

		records := batch.Changes
		if opts.LimitTo != nil {
			records = filterDiffs(records, opts.LimitTo, insertedNodes, insertedWays)
		}
		for _, d := range records {
			if opts.Deduplicate {
				// diffs arrive in chronological order, the last version
				// of an element wins
				k := changeKey(d)
				if i, ok := byKey[k]; ok {
					merged[i] = d
					continue
				}
				byKey[k] = len(merged)
			}
			merged = append(merged, d)
		}

		size += batch.Size
		cur++
		if opts.MaxBytes > 0 && size >= opts.MaxBytes {
			break
		}
	}

	if cur == start {
		return nil, start - 1, nil
	}

	if opts.Deduplicate {
		sort.Slice(merged, func(i, j int) bool {
			ki, kj := changeKey(merged[i]), changeKey(merged[j])
			if ki.kind != kj.kind {
				return ki.kind < kj.kind
			}
			return ki.id < kj.id
		})
	}

	return &AccumulatedDiff{
		Changes:      merged,
		Size:         size,
		LastSequence: cur - 1,
	}, cur - 1, nil
}

// filterDiffs drops changes outside the limitTo bbox: nodes by coordinate,
// ways unless they reference a kept node, relations unless a member node
// or way was kept. Kept node and way IDs are recorded in insertedNodes and
// insertedWays so later diffs can still match references from earlier
// ones.
func filterDiffs(diffs []osm.Diff, limitTo *LimitTo, insertedNodes, insertedWays map[int64]struct{}) []osm.Diff {
	kept := make([]osm.Diff, 0, len(diffs))
	for _, d := range diffs {
		switch {
		case d.Node != nil:
			if !limitTo.Contains(d.Node.Long, d.Node.Lat) {
				continue
			}
			insertedNodes[d.Node.ID] = struct{}{}
		case d.Way != nil:
			found := false
			for _, ref := range d.Way.Refs {
				if _, ok := insertedNodes[ref]; ok {
					found = true
					break
				}
			}
			if !found {
				continue
			}
			insertedWays[d.Way.ID] = struct{}{}
		case d.Rel != nil:
			found := false
			for _, m := range d.Rel.Members {
				switch m.Type {
				case osm.NodeMember:
					_, found = insertedNodes[m.ID]
				case osm.WayMember:
					_, found = insertedWays[m.ID]
				}
				if found {
					break
				}
			}
			if !found {
				continue
			}
		}
		kept = append(kept, d)
	}
	return kept
}
