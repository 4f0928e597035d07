package handler

import (
	"github.com/uber-go/tally"
)

// Metrics tracks API call counters.
type Metrics struct {
	Calls     tally.Counter
	CallsFail tally.Counter
}

// NewMetrics returns a new Metrics on the given scope.
func NewMetrics(scope tally.Scope) *Metrics {
	successScope := scope.Tagged(map[string]string{"result": "success"})
	failScope := scope.Tagged(map[string]string{"result": "fail"})
	return &Metrics{
		Calls:     successScope.Counter("calls"),
		CallsFail: failScope.Counter("calls"),
	}
}
