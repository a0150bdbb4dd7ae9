// Package invalidation describes the change notifications published when
// metadata documents are rewritten upstream.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

type Event struct {
	Version    int      `json:"version"`
	Op         string   `json:"op"`
	Collection string   `json:"collection"`
	IDs        []string `json:"ids"`
	// Seq increases per collection; replays and reordered deliveries carry
	// a Seq no greater than one already applied.
	Seq uint64    `json:"seq"`
	TS  time.Time `json:"ts"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case "insert", "update", "delete":
	default:
		return fmt.Errorf("op must be insert|update|delete")
	}
	if strings.TrimSpace(e.Collection) == "" {
		return fmt.Errorf("collection is required")
	}
	if len(e.IDs) == 0 {
		return fmt.Errorf("ids must name at least one document")
	}
	for _, id := range e.IDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("ids must not contain blanks")
		}
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}
