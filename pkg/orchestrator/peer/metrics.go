package peer

import (
	"github.com/uber-go/tally"
)

// Metrics is the struct containing all the counters that track peer
// connection and command delivery
type Metrics struct {
	Connect     tally.Counter
	ConnectFail tally.Counter
	Invoke      tally.Counter
	InvokeFail  tally.Counter
}

// NewMetrics returns a new Metrics struct, with all metrics
// initialized and rooted at the given tally.Scope
func NewMetrics(scope tally.Scope) *Metrics {
	successScope := scope.Tagged(map[string]string{"result": "success"})
	failScope := scope.Tagged(map[string]string{"result": "fail"})
	return &Metrics{
		Connect:     successScope.Counter("connect"),
		ConnectFail: failScope.Counter("connect"),
		Invoke:      successScope.Counter("invoke"),
		InvokeFail:  failScope.Counter("invoke"),
	}
}
