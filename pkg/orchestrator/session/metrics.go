package session

import (
	"github.com/uber-go/tally"
)

// Metrics tracks per-session command counters.
type Metrics struct {
	AddReceptors        tally.Counter
	AddReceptorsFail    tally.Counter
	RemoveReceptors     tally.Counter
	RemoveReceptorsFail tally.Counter
	Configure           tally.Counter
	ConfigureFail       tally.Counter
	Scan                tally.Counter
	ScanFail            tally.Counter
	EndScan             tally.Counter
	EndScanFail         tally.Counter
	GoToIdle            tally.Counter
	GoToIdleFail        tally.Counter
	Abort               tally.Counter
	AbortFail           tally.Counter
	ObsReset            tally.Counter
	ObsResetFail        tally.Counter
	Restart             tally.Counter
	RestartFail         tally.Counter

	StateChanges tally.Counter

	UpdatesForwarded tally.Counter
	UpdatesDeduped   tally.Counter
	UpdatesDropped   tally.Counter
}

// NewMetrics returns a new Metrics on the given scope.
func NewMetrics(scope tally.Scope) *Metrics {
	commandScope := scope.SubScope("command")
	successScope := commandScope.Tagged(map[string]string{"result": "success"})
	failScope := commandScope.Tagged(map[string]string{"result": "fail"})
	updateScope := scope.SubScope("update")

	return &Metrics{
		AddReceptors:        successScope.Counter("add_receptors"),
		AddReceptorsFail:    failScope.Counter("add_receptors"),
		RemoveReceptors:     successScope.Counter("remove_receptors"),
		RemoveReceptorsFail: failScope.Counter("remove_receptors"),
		Configure:           successScope.Counter("configure"),
		ConfigureFail:       failScope.Counter("configure"),
		Scan:                successScope.Counter("scan"),
		ScanFail:            failScope.Counter("scan"),
		EndScan:             successScope.Counter("end_scan"),
		EndScanFail:         failScope.Counter("end_scan"),
		GoToIdle:            successScope.Counter("go_to_idle"),
		GoToIdleFail:        failScope.Counter("go_to_idle"),
		Abort:               successScope.Counter("abort"),
		AbortFail:           failScope.Counter("abort"),
		ObsReset:            successScope.Counter("obs_reset"),
		ObsResetFail:        failScope.Counter("obs_reset"),
		Restart:             successScope.Counter("restart"),
		RestartFail:         failScope.Counter("restart"),

		StateChanges: scope.Counter("state_changes"),

		UpdatesForwarded: updateScope.Counter("forwarded"),
		UpdatesDeduped:   updateScope.Counter("deduped"),
		UpdatesDropped:   updateScope.Counter("dropped"),
	}
}
