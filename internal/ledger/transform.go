// Package ledger turns fetched draws into the compact per-account ledger and
// maintains it on disk.
package ledger

import (
	"slices"
	"strconv"

	"github.com/celerix-dev/celerix-gacha/internal/model"
	"github.com/celerix-dev/celerix-gacha/pkg/schema"
)

// categoryPoolTypes maps remote category ids to pool type codes.
// Unknown categories are limited pools.
var categoryPoolTypes = map[string]int{
	"normal":  schema.PoolTypeStandard,
	"classic": schema.PoolTypeClassic,
}

// PoolTypeForCategory returns the pool type code of a remote category id.
func PoolTypeForCategory(category string) int {
	if pt, ok := categoryPoolTypes[category]; ok {
		return pt
	}
	return schema.PoolTypeLimited
}

// EventKey returns the ledger key for a millisecond timestamp: the decimal
// floor of the time in seconds.
func EventKey(ms int64) string {
	sec := ms / 1000
	if ms%1000 < 0 {
		sec--
	}
	return strconv.FormatInt(sec, 10)
}

// Transform groups draws into events by second. Within an event draws keep
// their arrival order; pool name and type come from the event's first draw.
func Transform(draws []model.RawDraw) schema.Ledger {
	out := make(schema.Ledger)
	for _, d := range draws {
		key := EventKey(d.TimeMs)
		ev, ok := out[key]
		if !ok {
			ev = schema.Event{
				Pool:     d.PoolName,
				PoolType: PoolTypeForCategory(d.Category),
			}
		}
		ev.Draws = append(ev.Draws, schema.Draw{
			Name:   d.CharName,
			Rarity: d.Rarity + 1,
			IsNew:  d.IsNew,
		})
		out[key] = ev
	}
	return out
}

// MergeStats counts what a merge did to the existing ledger.
type MergeStats struct {
	Added     int
	Replaced  int
	Unchanged int
	// Collisions lists keys whose stored event was replaced by different content.
	Collisions []string
}

// Merge overlays fresh onto existing. An incoming event replaces the stored
// one with the same key. Neither input is modified.
func Merge(existing, fresh schema.Ledger) (schema.Ledger, MergeStats) {
	out := make(schema.Ledger, len(existing)+len(fresh))
	for k, ev := range existing {
		out[k] = ev
	}

	var stats MergeStats
	for _, k := range fresh.SortedKeys() {
		ev := fresh[k]
		old, ok := out[k]
		switch {
		case !ok:
			stats.Added++
		case equalEvents(old, ev):
			stats.Unchanged++
		default:
			stats.Replaced++
			stats.Collisions = append(stats.Collisions, k)
		}
		out[k] = ev
	}
	return out, stats
}

// MergeMissing adds the events of incoming whose keys existing lacks. Stored
// events always win.
func MergeMissing(existing, incoming schema.Ledger) (schema.Ledger, int) {
	out := make(schema.Ledger, len(existing)+len(incoming))
	for k, ev := range existing {
		out[k] = ev
	}
	added := 0
	for k, ev := range incoming {
		if _, ok := out[k]; ok {
			continue
		}
		out[k] = ev
		added++
	}
	return out, added
}

func equalEvents(a, b schema.Event) bool {
	return a.Pool == b.Pool && a.PoolType == b.PoolType && slices.Equal(a.Draws, b.Draws)
}
