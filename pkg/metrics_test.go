package pkg

import (
	"testing"
	"time"
)

func TestObserveUnit(t *testing.T) {
	// Metric labels cover every outcome; none of them may panic.
	outcomes := []Outcome{OutcomeOK, OutcomeChanged, OutcomeSkipped, OutcomeFailed, OutcomeIgnored, OutcomeUnreachable}
	for _, outcome := range outcomes {
		ObserveUnit("set marker", "marker", "h1", outcome, 25*time.Millisecond)
	}
}
