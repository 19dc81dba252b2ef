package ledger

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-gacha/pkg/schema"
)

// Export is the file format of third-party draw trackers: events keyed by
// unix seconds with zero-based rarities and no pool type.
type Export struct {
	Data map[string]ExportEvent `json:"data"`
}

type ExportEvent struct {
	Pool  string            `json:"p"`
	Draws []json.RawMessage `json:"c"`
}

// ImportStats reports the outcome of an import.
type ImportStats struct {
	Events  int `json:"events"`
	Added   int `json:"added"`
	Skipped int `json:"skipped_draws"`
	Total   int `json:"total"`
}

// PoolTypeForName guesses the pool type from a pool's display name.
func PoolTypeForName(pool string) int {
	switch {
	case strings.Contains(pool, "标准寻访"):
		return schema.PoolTypeStandard
	case strings.Contains(pool, "中坚寻访"), strings.Contains(pool, "中坚甄选"):
		return schema.PoolTypeClassic
	default:
		return schema.PoolTypeLimited
	}
}

// Convert turns an export into ledger events. Draw tuples with fewer than
// three elements are skipped and counted.
func Convert(exp Export) (schema.Ledger, int) {
	out := make(schema.Ledger, len(exp.Data))
	skipped := 0
	for key, ev := range exp.Data {
		draws := make([]schema.Draw, 0, len(ev.Draws))
		for _, raw := range ev.Draws {
			var d schema.Draw
			if err := json.Unmarshal(raw, &d); err != nil {
				skipped++
				continue
			}
			d.Rarity++
			draws = append(draws, d)
		}
		out[key] = schema.Event{
			Pool:     ev.Pool,
			PoolType: PoolTypeForName(ev.Pool),
			Draws:    draws,
		}
	}
	return out, skipped
}

// Import reads an export from r and adds its events to the ledger of account.
// Events already in the ledger are kept as stored.
func (s *Store) Import(user, account string, r io.Reader) (ImportStats, error) {
	if !s.layout.Exists(user, account) {
		return ImportStats{}, fmt.Errorf("%w: no account %q", ErrNotFound, account)
	}

	var exp Export
	if err := json.NewDecoder(r).Decode(&exp); err != nil {
		return ImportStats{}, fmt.Errorf("decode export: %w", err)
	}
	incoming, skipped := Convert(exp)
	for k := range incoming {
		if err := validKey(k); err != nil {
			return ImportStats{}, fmt.Errorf("export: %w", err)
		}
	}

	stats := ImportStats{Events: len(incoming), Skipped: skipped}
	meta, err := s.Update(user, account, func(existing schema.Ledger) (schema.Ledger, error) {
		merged, added := MergeMissing(existing, incoming)
		stats.Added = added
		return merged, nil
	})
	if err != nil {
		return ImportStats{}, err
	}
	stats.Total = meta.RecordCount

	s.logger.Info("export imported",
		zap.String("game_uid", account),
		zap.Int("events", stats.Events),
		zap.Int("added", stats.Added),
		zap.Int("skipped_draws", stats.Skipped),
	)
	return stats, nil
}
