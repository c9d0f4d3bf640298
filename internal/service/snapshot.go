package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/vmxmy/buttongate/internal/core"
)

// Snapshot is an immutable view of the active rules, grouped by button type
// and pre-sorted into resolution order. Once published it is never mutated;
// concurrent evaluations and a batch in flight all read the same version.
type Snapshot struct {
	Version uint64
	BuiltAt time.Time

	buttons map[string][]candidate
	total   int
}

// candidate is one rule with its conditions parsed once at build time.
type candidate struct {
	rule       core.Rule
	conditions core.ExpressionNode
	weight     int
}

// RuleCount reports how many rules the snapshot holds.
func (s *Snapshot) RuleCount() int {
	return s.total
}

// ButtonTypes lists the button types the snapshot has rules for, sorted.
func (s *Snapshot) ButtonTypes() []string {
	types := make([]string, 0, len(s.buttons))
	for buttonType := range s.buttons {
		types = append(types, buttonType)
	}
	sort.Strings(types)
	return types
}

func (s *Snapshot) candidates(buttonType string) []candidate {
	return s.buttons[buttonType]
}

// buildSnapshot indexes rules by button type and orders each group broad to
// narrow (global, department, role, user), then by ascending priority, with
// creation time and ID as stable tie-breakers. Rows that fail condition
// parsing are skipped and logged so one bad row cannot poison the snapshot.
func buildSnapshot(version uint64, at time.Time, rules []core.Rule, logger *slog.Logger) *Snapshot {
	buttons := make(map[string][]candidate)
	total := 0

	for _, rule := range rules {
		if !rule.Scope.Valid() {
			logger.Warn("skipping rule with unknown scope",
				"rule_id", rule.ID, "scope", string(rule.Scope))
			continue
		}
		conditions, err := core.ParseConditions(rule.Conditions)
		if err != nil {
			logger.Warn("skipping rule with unparseable conditions",
				"rule_id", rule.ID, "button_type", rule.ButtonType, "error", err)
			continue
		}
		buttons[rule.ButtonType] = append(buttons[rule.ButtonType], candidate{
			rule:       rule,
			conditions: conditions,
			weight:     rule.Scope.Weight(),
		})
		total++
	}

	for _, group := range buttons {
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].weight != group[j].weight {
				return group[i].weight < group[j].weight
			}
			if group[i].rule.Priority != group[j].rule.Priority {
				return group[i].rule.Priority < group[j].rule.Priority
			}
			if !group[i].rule.CreatedAt.Equal(group[j].rule.CreatedAt) {
				return group[i].rule.CreatedAt.Before(group[j].rule.CreatedAt)
			}
			return group[i].rule.ID < group[j].rule.ID
		})
	}

	return &Snapshot{Version: version, BuiltAt: at, buttons: buttons, total: total}
}

// Rebuild loads the rules active right now and atomically swaps in a new
// snapshot. Rebuilds from any trigger are serialized so versions stay
// monotonic; readers keep the previous snapshot until the swap. On failure
// the previous snapshot remains authoritative.
func (s *Service) Rebuild(ctx context.Context) error {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	at := s.now()
	rules, err := s.repo.ListActiveRules(ctx, at)
	if err != nil {
		s.recordSnapshotFailure()
		s.logger.Error("snapshot rebuild failed; previous snapshot remains authoritative",
			"error", err)
		return &RebuildError{Err: fmt.Errorf("load active rules: %w", err)}
	}

	next := buildSnapshot(s.version+1, at, rules, s.logger)
	s.version++
	s.snapshot.Store(next)
	s.recordSnapshot(next.Version, next.RuleCount())
	s.logger.Debug("published rule snapshot",
		"version", next.Version, "rules", next.RuleCount())
	return nil
}

// CurrentSnapshot returns the snapshot evaluations are being served from.
func (s *Service) CurrentSnapshot() *Snapshot {
	return s.snapshot.Load()
}
