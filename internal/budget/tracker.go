// Package budget accumulates worker spend per run and reports limit breaches
package budget

import (
	"fmt"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/config"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/logging"
)

// Breach is one exceeded limit
type Breach struct {
	Kind   string // "tokens" or "cost"
	Limit  float64
	Actual float64
}

func (b Breach) String() string {
	if b.Kind == "cost" {
		return fmt.Sprintf("cost $%.2f exceeds limit $%.2f", b.Actual, b.Limit)
	}
	return fmt.Sprintf("tokens %.0f exceed limit %.0f", b.Actual, b.Limit)
}

// Evaluation is the result of checking a run against its limits
type Evaluation struct {
	Breaches   []Breach
	StopReason domain.StopReason
}

// Tracker records usage and enforces the configured limits
type Tracker struct {
	config config.BudgetConfig
	logger *logging.Logger
}

// NewTracker creates a Tracker
func NewTracker(cfg config.BudgetConfig, logger *logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Tracker{config: cfg, logger: logger}
}

// RecordUsageUpdates adds each result's usage to its task and to the run total
func (t *Tracker) RecordUsageUpdates(state *domain.RunState, results []domain.TaskResult) {
	for _, r := range results {
		if r.Usage == (domain.Usage{}) {
			continue
		}
		ts := state.EnsureTask(r.TaskID)
		ts.Usage = ts.Usage.Add(r.Usage)
		state.Usage = state.Usage.Add(r.Usage)
	}
}

// EvaluateBreaches compares run totals with the limits. Only block mode
// produces a stop reason.
func (t *Tracker) EvaluateBreaches(state *domain.RunState) Evaluation {
	var ev Evaluation
	if t.config.MaxTokens > 0 && state.Usage.TotalTokens() > t.config.MaxTokens {
		ev.Breaches = append(ev.Breaches, Breach{
			Kind:   "tokens",
			Limit:  float64(t.config.MaxTokens),
			Actual: float64(state.Usage.TotalTokens()),
		})
	}
	if t.config.MaxCostUSD > 0 && state.Usage.CostUSD > t.config.MaxCostUSD {
		ev.Breaches = append(ev.Breaches, Breach{
			Kind:   "cost",
			Limit:  t.config.MaxCostUSD,
			Actual: state.Usage.CostUSD,
		})
	}

	for _, b := range ev.Breaches {
		t.logger.Warn("budget limit exceeded", "run_id", state.RunID, "breach", b.String(), "mode", t.config.Mode)
	}
	if len(ev.Breaches) > 0 && t.config.Mode == "block" {
		ev.StopReason = domain.StopBudgetBlock
	}
	return ev
}
