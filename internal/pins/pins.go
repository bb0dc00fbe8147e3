// Package pins records which module owns which GPIO line so two modules
// cannot drive the same pin.
package pins

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// ErrConflict is returned when a line is already owned by another module.
var ErrConflict = errors.New("pin already assigned")

// Registry maps GPIO line offsets to owning modules.
type Registry struct {
	owners map[int]string
	log    *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{owners: make(map[int]string), log: log}
}

// Register claims lines for owner. Either all lines are claimed or none.
func (r *Registry) Register(owner string, lines ...int) error {
	seen := make(map[int]bool, len(lines))
	for _, l := range lines {
		if prev, ok := r.owners[l]; ok {
			r.log.Error("pin conflict",
				zap.Int("line", l),
				zap.String("module", owner),
				zap.String("owner", prev))
			return fmt.Errorf("line %d for %s, owned by %s: %w", l, owner, prev, ErrConflict)
		}
		if seen[l] {
			return fmt.Errorf("line %d listed twice for %s: %w", l, owner, ErrConflict)
		}
		seen[l] = true
	}
	for _, l := range lines {
		r.owners[l] = owner
	}
	r.log.Info("pins assigned", zap.String("module", owner), zap.Ints("lines", lines))
	return nil
}

// Assignment is one owned line.
type Assignment struct {
	Line  int    `json:"line"`
	Owner string `json:"owner"`
}

// Assignments lists the owned lines in ascending order.
func (r *Registry) Assignments() []Assignment {
	out := make([]Assignment, 0, len(r.owners))
	for l, o := range r.owners {
		out = append(out, Assignment{Line: l, Owner: o})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out
}
