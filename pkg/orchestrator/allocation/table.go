package allocation

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/uber-go/tally"
)

// FunctionMode is the single active processing mode of a processing element.
type FunctionMode string

// Function modes a processing element can run.
const (
	ModeIdle FunctionMode = "IDLE"
	ModeCorr FunctionMode = "CORR"
	ModePSS  FunctionMode = "PSS-BF"
	ModePST  FunctionMode = "PST-BF"
	ModeVLBI FunctionMode = "VLBI"
)

// Errors surfaced per item during allocation. Conflicts are reported per
// item so the caller can continue the rest of a batch.
var (
	ErrChannelizerOwned = errors.New("channelizer already owned by another session")
	ErrModeConflict     = errors.New("element function mode conflicts with another session")
	ErrElementExhausted = errors.New("element is owned by the maximum number of sessions")
)

// Config holds the resource counts for the allocation table.
type Config struct {
	ChannelizerCount      int `yaml:"channelizer_count"`
	ElementCount          int `yaml:"element_count"`
	MaxSessionsPerElement int `yaml:"max_sessions_per_element"`
}

type elementState struct {
	mode   FunctionMode
	owners map[int]bool
}

// Table tracks which channelizer units and processing elements are bound to
// which session. It is shared by every session in the process and is the
// single point of cross-session exclusivity enforcement, all mutations
// happen under one mutex.
type Table struct {
	sync.Mutex

	config  Config
	metrics *Metrics

	// channelizer id -> owning session id, absent when unassigned.
	channelizers map[int]int
	// element id -> function mode + owning session set.
	elements map[int]*elementState
}

// NewTable creates an allocation table for the configured resource counts.
func NewTable(config Config, scope tally.Scope) *Table {
	if config.MaxSessionsPerElement <= 0 {
		config.MaxSessionsPerElement = 16
	}
	return &Table{
		config:       config,
		metrics:      NewMetrics(scope.SubScope("allocation")),
		channelizers: make(map[int]int),
		elements:     make(map[int]*elementState),
	}
}

// AssignChannelizer marks the channelizer unit as owned by the session.
// Assigning a unit the session already owns is a no-op.
func (t *Table) AssignChannelizer(channelizerID, sessionID int) error {
	t.Lock()
	defer t.Unlock()

	if channelizerID < 1 || channelizerID > t.config.ChannelizerCount {
		return errors.Errorf("channelizer %d outside valid range [1, %d]",
			channelizerID, t.config.ChannelizerCount)
	}
	if owner, ok := t.channelizers[channelizerID]; ok {
		if owner == sessionID {
			return nil
		}
		return errors.Wrapf(ErrChannelizerOwned,
			"channelizer %d owned by session %d", channelizerID, owner)
	}
	t.channelizers[channelizerID] = sessionID
	t.metrics.AssignedChannelizers.Update(float64(len(t.channelizers)))
	return nil
}

// ReleaseChannelizer clears the session's ownership of the channelizer unit.
// Releasing an unassigned unit is a no-op; releasing a unit owned by a
// different session is an error.
func (t *Table) ReleaseChannelizer(channelizerID, sessionID int) error {
	t.Lock()
	defer t.Unlock()

	owner, ok := t.channelizers[channelizerID]
	if !ok {
		return nil
	}
	if owner != sessionID {
		return errors.Errorf("channelizer %d owned by session %d, not %d",
			channelizerID, owner, sessionID)
	}
	delete(t.channelizers, channelizerID)
	t.metrics.AssignedChannelizers.Update(float64(len(t.channelizers)))
	return nil
}

// OwnerOf returns the session owning the channelizer unit, if any.
func (t *Table) OwnerOf(channelizerID int) (int, bool) {
	t.Lock()
	defer t.Unlock()

	owner, ok := t.channelizers[channelizerID]
	return owner, ok
}

// ChannelizersOf returns the channelizer units owned by the session.
func (t *Table) ChannelizersOf(sessionID int) []int {
	t.Lock()
	defer t.Unlock()

	var ids []int
	for id, owner := range t.channelizers {
		if owner == sessionID {
			ids = append(ids, id)
		}
	}
	return ids
}

// BindElement adds the session to the element's owner set with the given
// function mode. An element runs only one function mode across all owners,
// binding with a different mode while any other session holds the element
// is a conflict. The check and the bind are atomic under the table mutex.
func (t *Table) BindElement(elementID, sessionID int, mode FunctionMode) error {
	t.Lock()
	defer t.Unlock()

	if elementID < 1 || elementID > t.config.ElementCount {
		return errors.Errorf("element %d outside valid range [1, %d]",
			elementID, t.config.ElementCount)
	}
	if mode == ModeIdle {
		return errors.Errorf("cannot bind element %d to mode %s", elementID, mode)
	}

	state, ok := t.elements[elementID]
	if !ok {
		state = &elementState{mode: ModeIdle, owners: make(map[int]bool)}
		t.elements[elementID] = state
	}
	if len(state.owners) > 0 && state.mode != mode {
		t.metrics.ModeConflicts.Inc(1)
		return errors.Wrapf(ErrModeConflict,
			"element %d held in mode %s, requested %s", elementID, state.mode, mode)
	}
	if !state.owners[sessionID] && len(state.owners) >= t.config.MaxSessionsPerElement {
		return errors.Wrapf(ErrElementExhausted, "element %d", elementID)
	}
	state.mode = mode
	state.owners[sessionID] = true
	t.metrics.BoundElements.Update(float64(t.boundElementCount()))
	return nil
}

// ReleaseElement drops the session from the element's owner set. The mode
// resets to idle once the owner set empties.
func (t *Table) ReleaseElement(elementID, sessionID int) {
	t.Lock()
	defer t.Unlock()

	state, ok := t.elements[elementID]
	if !ok {
		return
	}
	delete(state.owners, sessionID)
	if len(state.owners) == 0 {
		delete(t.elements, elementID)
	}
	t.metrics.BoundElements.Update(float64(t.boundElementCount()))
}

// ElementMode returns the function mode the element is currently held in.
func (t *Table) ElementMode(elementID int) FunctionMode {
	t.Lock()
	defer t.Unlock()

	if state, ok := t.elements[elementID]; ok {
		return state.mode
	}
	return ModeIdle
}

// ElementsOf returns the elements the session currently owns.
func (t *Table) ElementsOf(sessionID int) []int {
	t.Lock()
	defer t.Unlock()

	var ids []int
	for id, state := range t.elements {
		if state.owners[sessionID] {
			ids = append(ids, id)
		}
	}
	return ids
}

// ReleaseSession clears every channelizer and element entry the session
// owns, used on session teardown.
func (t *Table) ReleaseSession(sessionID int) {
	t.Lock()
	defer t.Unlock()

	for id, owner := range t.channelizers {
		if owner == sessionID {
			delete(t.channelizers, id)
		}
	}
	for id, state := range t.elements {
		delete(state.owners, sessionID)
		if len(state.owners) == 0 {
			delete(t.elements, id)
		}
	}
	t.metrics.AssignedChannelizers.Update(float64(len(t.channelizers)))
	t.metrics.BoundElements.Update(float64(t.boundElementCount()))
}

func (t *Table) boundElementCount() int {
	return len(t.elements)
}
