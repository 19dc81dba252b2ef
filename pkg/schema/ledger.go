// Package schema defines the on-disk ledger format shared with the statistics
// consumers. A ledger is written per account as data.json next to metadata.json.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Pool type codes stored in Event.PoolType.
const (
	PoolTypeLimited  = 0
	PoolTypeStandard = 1
	PoolTypeClassic  = 2
)

// Draw is one character obtained in an event.
// It is encoded as the tuple [name, rarity, is_new] with is_new as 0 or 1.
type Draw struct {
	Name   string
	Rarity int
	IsNew  bool
}

func (d Draw) MarshalJSON() ([]byte, error) {
	isNew := 0
	if d.IsNew {
		isNew = 1
	}
	return json.Marshal([]any{d.Name, d.Rarity, isNew})
}

// UnmarshalJSON accepts the third element as a number or a boolean, since
// exports from other tools use either.
func (d *Draw) UnmarshalJSON(b []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(b, &tuple); err != nil {
		return err
	}
	if len(tuple) < 3 {
		return fmt.Errorf("draw tuple has %d elements, want 3", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &d.Name); err != nil {
		return fmt.Errorf("draw name: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &d.Rarity); err != nil {
		return fmt.Errorf("draw rarity: %w", err)
	}
	var flag any
	if err := json.Unmarshal(tuple[2], &flag); err != nil {
		return fmt.Errorf("draw new flag: %w", err)
	}
	switch v := flag.(type) {
	case bool:
		d.IsNew = v
	case float64:
		d.IsNew = v != 0
	default:
		return fmt.Errorf("draw new flag has unexpected type %T", flag)
	}
	return nil
}

// Event is a cluster of draws that happened within the same second.
type Event struct {
	Pool     string `json:"p"`
	PoolType int    `json:"pt"`
	Draws    []Draw `json:"c"`
}

// Ledger maps decimal unix-second strings to events.
// Map order carries no meaning; use SortedKeys for a stable order.
type Ledger map[string]Event

// SortedKeys returns the ledger keys by descending timestamp.
// Keys that are not integers sort after all numeric keys, lexically.
func (l Ledger) SortedKeys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.ParseInt(keys[i], 10, 64)
		b, errB := strconv.ParseInt(keys[j], 10, 64)
		switch {
		case errA == nil && errB == nil:
			return a > b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}

// Metadata summarises the last successful write of a ledger.
type Metadata struct {
	LastUpdate  string `json:"last_update"`
	GameUID     string `json:"game_uid"`
	RecordCount int    `json:"record_count"`
}
