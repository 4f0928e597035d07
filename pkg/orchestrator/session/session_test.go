package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
	"github.com/uber-go/tally"

	"github.com/midcbf/orchestrator/pkg/common/async"
	"github.com/midcbf/orchestrator/pkg/common/statemachine"
	"github.com/midcbf/orchestrator/pkg/orchestrator/allocation"
	"github.com/midcbf/orchestrator/pkg/orchestrator/peer"
	"github.com/midcbf/orchestrator/pkg/orchestrator/peer/mocks"
	"github.com/midcbf/orchestrator/pkg/orchestrator/receptor"
	"github.com/midcbf/orchestrator/pkg/orchestrator/scanconfig"
)

const testParameters = `{
	"dish_parameters": {
		"SKA001": {"vcc": 1, "k": 1000},
		"SKA036": {"vcc": 2, "k": 1000},
		"SKA063": {"vcc": 3, "k": 1000},
		"SKA100": {"vcc": 4, "k": 1000}
	}
}`

type SessionTestSuite struct {
	suite.Suite

	ctrl      *gomock.Controller
	connector *mocks.MockConnector
	table     *allocation.Table
	mapper    *receptor.Mapper
	pool      *async.Pool
	session   *Session

	ctx context.Context
}

func TestSession(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}

func (suite *SessionTestSuite) SetupTest() {
	suite.ctrl = gomock.NewController(suite.T())
	suite.connector = mocks.NewMockConnector(suite.ctrl)
	suite.table = allocation.NewTable(allocation.Config{
		ChannelizerCount:      197,
		ElementCount:          27,
		MaxSessionsPerElement: 16,
	}, tally.NoopScope)

	mapper, err := receptor.New([]byte(testParameters))
	suite.NoError(err)
	suite.mapper = mapper

	validator := scanconfig.NewValidator(mapper, suite.table, suite.connector, 27)
	suite.pool = async.NewPool(async.PoolOptions{MaxWorkers: 2})
	suite.session = New(
		1, mapper, suite.table, suite.connector, validator, suite.pool, tally.NoopScope)
	suite.ctx = context.Background()
}

func (suite *SessionTestSuite) TearDownTest() {
	suite.pool.Stop()
	suite.ctrl.Finish()
}

// expectPeer wires a connector expectation for one peer id.
func (suite *SessionTestSuite) expectPeer(peerID string) *mocks.MockPeer {
	p := mocks.NewMockPeer(suite.ctrl)
	p.EXPECT().ID().Return(peerID).AnyTimes()
	suite.connector.EXPECT().Connect(gomock.Any(), peerID).Return(p, nil)
	return p
}

// allocate adds SKA001 and SKA036 and returns their channelizer peers.
func (suite *SessionTestSuite) allocate() (*mocks.MockPeer, *mocks.MockPeer) {
	p1 := suite.expectPeer("vcc-001")
	p2 := suite.expectPeer("vcc-002")
	suite.NoError(suite.session.AddReceptors(suite.ctx, []string{"SKA001", "SKA036"}))
	suite.Equal(Idle, suite.session.State())
	return p1, p2
}

func (suite *SessionTestSuite) document() []byte {
	doc := &scanconfig.Document{
		Common: scanconfig.CommonConfig{
			ConfigID:      "sbi-mvp01-20200325-00001",
			SubarrayID:    1,
			FrequencyBand: "1",
		},
		CBF: scanconfig.CBFConfig{
			FSP: []scanconfig.FSPConfig{
				{
					FSPID:             1,
					FunctionMode:      "CORR",
					FrequencySliceID:  1,
					IntegrationFactor: 1,
					Receptors:         []string{"SKA001"},
				},
			},
		},
	}
	data, err := json.Marshal(doc)
	suite.NoError(err)
	return data
}

// configure drives a full happy-path configure and returns the element and
// sub-session peers.
func (suite *SessionTestSuite) configure(
	p1, p2 *mocks.MockPeer) (*mocks.MockPeer, *mocks.MockPeer) {
	return suite.configureDocument(p1, p2, suite.document())
}

func (suite *SessionTestSuite) configureDocument(
	p1, p2 *mocks.MockPeer, document []byte) (*mocks.MockPeer, *mocks.MockPeer) {

	for _, p := range []*mocks.MockPeer{p1, p2} {
		p.EXPECT().
			Invoke(gomock.Any(), peer.ConfigureBand, gomock.Any(), gomock.Any()).
			Return(nil)
		p.EXPECT().
			Invoke(gomock.Any(), peer.ConfigureScan, gomock.Any(), gomock.Any()).
			Return(nil)
	}

	ep := suite.expectPeer("fsp-01")
	ep.EXPECT().
		Invoke(gomock.Any(), peer.SetFunctionMode, gomock.Any(), gomock.Any()).
		Return(nil)
	ep.EXPECT().
		Invoke(gomock.Any(), peer.AddMembership, gomock.Any(), gomock.Any()).
		Return(nil)

	sp := suite.expectPeer("fsp-01-corr")
	sp.EXPECT().
		Invoke(gomock.Any(), peer.ConfigureScan, gomock.Any(), gomock.Any()).
		Return(nil)

	suite.NoError(suite.session.Configure(suite.ctx, document))
	suite.Equal(Ready, suite.session.State())
	return ep, sp
}

func (suite *SessionTestSuite) TestAddReceptors() {
	suite.Equal(Unallocated, suite.session.State())
	suite.allocate()

	suite.Equal([]string{"SKA001", "SKA036"}, suite.session.Receptors())
	owner, ok := suite.table.OwnerOf(1)
	suite.True(ok)
	suite.Equal(1, owner)
	owner, ok = suite.table.OwnerOf(2)
	suite.True(ok)
	suite.Equal(1, owner)
}

func (suite *SessionTestSuite) TestAddReceptorsPartialFailure() {
	suite.expectPeer("vcc-001")

	err := suite.session.AddReceptors(suite.ctx, []string{"SKA999", "SKA001"})
	suite.Error(err)

	// The valid receptor is kept despite the failed one.
	suite.Equal([]string{"SKA001"}, suite.session.Receptors())
	suite.Equal(Idle, suite.session.State())
}

func (suite *SessionTestSuite) TestAddReceptorTwice() {
	suite.allocate()
	// No connector expectation: the duplicate is skipped, not re-connected.
	suite.NoError(suite.session.AddReceptors(suite.ctx, []string{"SKA001"}))
	suite.Equal([]string{"SKA001", "SKA036"}, suite.session.Receptors())
}

func (suite *SessionTestSuite) TestAddReceptorConflict() {
	suite.NoError(suite.table.AssignChannelizer(1, 2))

	err := suite.session.AddReceptors(suite.ctx, []string{"SKA001"})
	suite.Error(err)
	suite.Equal(Unallocated, suite.session.State())
	suite.Empty(suite.session.Receptors())
}

func (suite *SessionTestSuite) TestRemoveReceptors() {
	p1, p2 := suite.allocate()

	p1.EXPECT().Disconnect().Return(nil)
	suite.NoError(suite.session.RemoveReceptors(suite.ctx, []string{"SKA001"}))
	suite.Equal(Idle, suite.session.State())
	suite.Equal([]string{"SKA036"}, suite.session.Receptors())
	_, ok := suite.table.OwnerOf(1)
	suite.False(ok)

	// Absent ids are skipped without error.
	suite.NoError(suite.session.RemoveReceptors(suite.ctx, []string{"SKA001"}))

	p2.EXPECT().Disconnect().Return(nil)
	suite.NoError(suite.session.RemoveAllReceptors(suite.ctx))
	suite.Equal(Unallocated, suite.session.State())
	suite.Empty(suite.session.Receptors())
}

func (suite *SessionTestSuite) TestConfigure() {
	p1, p2 := suite.allocate()
	suite.configure(p1, p2)

	suite.Equal("sbi-mvp01-20200325-00001", suite.session.ConfigID())
	suite.Equal(allocation.ModeCorr, suite.table.ElementMode(1))
}

func (suite *SessionTestSuite) TestConfigureValidationFailure() {
	suite.allocate()

	doc := []byte(`{"common": {"frequency_band": "6"}, "cbf": {"fsp": []}}`)
	err := suite.session.Configure(suite.ctx, doc)
	suite.Error(err)
	// Validation failures leave the session untouched.
	suite.Equal(Idle, suite.session.State())
}

func (suite *SessionTestSuite) TestConfigureDispatchFault() {
	p1, p2 := suite.allocate()

	for _, p := range []*mocks.MockPeer{p1, p2} {
		p.EXPECT().
			Invoke(gomock.Any(), peer.ConfigureBand, gomock.Any(), gomock.Any()).
			Return(nil)
		p.EXPECT().
			Invoke(gomock.Any(), peer.ConfigureScan, gomock.Any(), gomock.Any()).
			Return(nil)
	}
	ep := suite.expectPeer("fsp-01")
	ep.EXPECT().
		Invoke(gomock.Any(), peer.SetFunctionMode, gomock.Any(), gomock.Any()).
		Return(nil)
	ep.EXPECT().
		Invoke(gomock.Any(), peer.AddMembership, gomock.Any(), gomock.Any()).
		Return(nil)
	sp := suite.expectPeer("fsp-01-corr")
	sp.EXPECT().
		Invoke(gomock.Any(), peer.ConfigureScan, gomock.Any(), gomock.Any()).
		Return(errors.New("element rejected the configuration"))
	ep.EXPECT().Disconnect().Return(nil)
	sp.EXPECT().Disconnect().Return(nil)

	err := suite.session.Configure(suite.ctx, suite.document())
	suite.Error(err)
	suite.Equal(Fault, suite.session.State())
	// The element binding was unwound.
	suite.Equal(allocation.ModeIdle, suite.table.ElementMode(1))
}

func (suite *SessionTestSuite) TestScanLifecycle() {
	p1, p2 := suite.allocate()
	_, sp := suite.configure(p1, p2)

	for _, p := range []*mocks.MockPeer{p1, p2, sp} {
		p.EXPECT().
			Invoke(gomock.Any(), peer.Scan, gomock.Any(), gomock.Any()).
			Return(nil)
	}
	suite.NoError(suite.session.Scan(suite.ctx, 5))
	suite.Equal(Scanning, suite.session.State())
	suite.Equal(int64(5), suite.session.ScanID())

	for _, p := range []*mocks.MockPeer{p1, p2, sp} {
		p.EXPECT().
			Invoke(gomock.Any(), peer.EndScan, gomock.Any(), gomock.Any()).
			Return(nil)
	}
	suite.NoError(suite.session.EndScan(suite.ctx))
	suite.Equal(Ready, suite.session.State())
}

func (suite *SessionTestSuite) TestGoToIdle() {
	p1, p2 := suite.allocate()
	ep, sp := suite.configure(p1, p2)

	for _, p := range []*mocks.MockPeer{p1, p2, sp} {
		p.EXPECT().
			Invoke(gomock.Any(), peer.GoToIdle, gomock.Any(), gomock.Any()).
			Return(nil)
	}
	ep.EXPECT().
		Invoke(gomock.Any(), peer.RemoveMembership, gomock.Any(), gomock.Any()).
		Return(nil)
	ep.EXPECT().Disconnect().Return(nil)
	sp.EXPECT().Disconnect().Return(nil)

	suite.NoError(suite.session.GoToIdle(suite.ctx))
	suite.Equal(Idle, suite.session.State())
	suite.Empty(suite.session.ConfigID())
	suite.Equal(allocation.ModeIdle, suite.table.ElementMode(1))
	// Receptors survive the deconfigure.
	suite.Equal([]string{"SKA001", "SKA036"}, suite.session.Receptors())
}

func (suite *SessionTestSuite) TestAbortAndObsReset() {
	p1, p2 := suite.allocate()
	ep, sp := suite.configure(p1, p2)

	// Abort lands in ABORTED even when peers fail.
	p1.EXPECT().
		Invoke(gomock.Any(), peer.Abort, gomock.Any(), gomock.Any()).
		Return(errors.New("channelizer unreachable"))
	for _, p := range []*mocks.MockPeer{p2, ep, sp} {
		p.EXPECT().
			Invoke(gomock.Any(), peer.Abort, gomock.Any(), gomock.Any()).
			Return(nil)
	}
	suite.NoError(suite.session.Abort(suite.ctx))
	suite.Equal(Aborted, suite.session.State())

	for _, p := range []*mocks.MockPeer{p1, p2, ep, sp} {
		p.EXPECT().
			Invoke(gomock.Any(), peer.ObsReset, gomock.Any(), gomock.Any()).
			Return(nil)
	}
	ep.EXPECT().
		Invoke(gomock.Any(), peer.RemoveMembership, gomock.Any(), gomock.Any()).
		Return(nil)
	ep.EXPECT().Disconnect().Return(nil)
	sp.EXPECT().Disconnect().Return(nil)

	suite.NoError(suite.session.ObsReset(suite.ctx))
	suite.Equal(Idle, suite.session.State())
	suite.Equal([]string{"SKA001", "SKA036"}, suite.session.Receptors())
	suite.Equal(allocation.ModeIdle, suite.table.ElementMode(1))
}

func (suite *SessionTestSuite) TestRestart() {
	p1, p2 := suite.allocate()

	for _, p := range []*mocks.MockPeer{p1, p2} {
		p.EXPECT().
			Invoke(gomock.Any(), peer.Abort, gomock.Any(), gomock.Any()).
			Return(nil)
	}
	suite.NoError(suite.session.Abort(suite.ctx))
	suite.Equal(Aborted, suite.session.State())

	for _, p := range []*mocks.MockPeer{p1, p2} {
		p.EXPECT().
			Invoke(gomock.Any(), peer.ObsReset, gomock.Any(), gomock.Any()).
			Return(nil)
		p.EXPECT().Disconnect().Return(nil)
	}
	suite.NoError(suite.session.Restart(suite.ctx))
	suite.Equal(Unallocated, suite.session.State())
	suite.Empty(suite.session.Receptors())
	suite.Empty(suite.table.ChannelizersOf(1))
}

func (suite *SessionTestSuite) TestCommandGuards() {
	suite.Error(suite.session.Scan(suite.ctx, 1))
	suite.Error(suite.session.EndScan(suite.ctx))
	suite.Error(suite.session.GoToIdle(suite.ctx))
	suite.Error(suite.session.ObsReset(suite.ctx))
	suite.Error(suite.session.Restart(suite.ctx))
	suite.Error(suite.session.Configure(suite.ctx, suite.document()))
	suite.Equal(Unallocated, suite.session.State())
}

func (suite *SessionTestSuite) TestStateListener() {
	var transitions []statemachine.State
	suite.session.AddListener(
		func(sessionID int, from, to statemachine.State, reason string) {
			suite.Equal(1, sessionID)
			transitions = append(transitions, to)
		})

	suite.allocate()
	suite.Equal([]statemachine.State{Idle}, transitions)
}

func (suite *SessionTestSuite) TestSubmittedOperation() {
	suite.expectPeer("vcc-001")

	op := suite.session.SubmitAddReceptors([]string{"SKA001"})
	suite.NoError(op.Wait(suite.ctx))
	suite.Equal(OperationOK, op.Status())
	suite.Equal("add-receptors", op.Name())

	found, ok := suite.session.Operation(op.ID())
	suite.True(ok)
	suite.Equal(op, found)
	suite.Equal(Idle, suite.session.State())
}

func (suite *SessionTestSuite) TestSubmittedOperationFailure() {
	op := suite.session.SubmitScan(1)
	suite.Error(op.Wait(suite.ctx))
	suite.Equal(OperationFailed, op.Status())
	suite.Error(op.Err())
}
