package compliance

import (
	"reflect"
	"testing"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
)

func TestChecker_RunForTask(t *testing.T) {
	manifest := domain.TaskManifest{
		ID:    "T1",
		Files: domain.Scope{Writes: []string{"services/billing/**", "docs/billing.md"}},
	}
	changed := []string{"services/billing/a.go", "docs/billing.md", "pkg/core/x.go", "Makefile"}

	tests := []struct {
		mode      string
		wantWarn  int
		wantBlock int
	}{
		{"off", 0, 0},
		{"", 0, 0},
		{"warn", 2, 0},
		{"block", 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			res := NewChecker(tt.mode).RunForTask(manifest, changed)
			if res.ScopeViolations.WarnCount != tt.wantWarn || res.ScopeViolations.BlockCount != tt.wantBlock {
				t.Errorf("ScopeViolations = %+v", res.ScopeViolations)
			}
			if tt.wantWarn+tt.wantBlock > 0 && !reflect.DeepEqual(res.OutOfScope, []string{"pkg/core/x.go", "Makefile"}) {
				t.Errorf("OutOfScope = %v", res.OutOfScope)
			}
		})
	}
}
