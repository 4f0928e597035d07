package session

import (
	"context"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/midcbf/orchestrator/pkg/orchestrator/peer"
	"github.com/midcbf/orchestrator/pkg/orchestrator/peer/mocks"
)

// rewrittenTo matches an update request whose single entry was rewritten
// from a receptor id to the given channelizer id.
type rewrittenTo struct {
	channelizerID int
}

func (m rewrittenTo) Matches(x interface{}) bool {
	request, ok := x.(*updateRequest)
	if !ok || len(request.Entries) != 1 {
		return false
	}
	entry := request.Entries[0]
	return entry.ReceptorID == "" && entry.ChannelizerID == m.channelizerID
}

func (m rewrittenTo) String() string {
	return "update request with entries rewritten to channelizer ids"
}

func (suite *SessionTestSuite) delayModel() []byte {
	return []byte(`{"entries": [
		{"receptor_id": "SKA001", "epoch": 1700000000, "coefficients": [0.1, 0.2, 0.3]}
	]}`)
}

func (suite *SessionTestSuite) TestDelayModelForwarding() {
	p1, p2 := suite.allocate()
	_, sp := suite.configure(p1, p2)

	// Delay models go to the whole data path with receptor ids rewritten.
	for _, p := range []*mocks.MockPeer{p1, p2, sp} {
		p.EXPECT().
			Invoke(gomock.Any(), peer.UpdateDelayModel, rewrittenTo{1}, gomock.Any()).
			Return(nil)
	}
	suite.NoError(suite.session.HandleUpdate(suite.ctx, DelayModel, suite.delayModel()))
}

func (suite *SessionTestSuite) TestDuplicateUpdateDropped() {
	p1, p2 := suite.allocate()
	_, sp := suite.configure(p1, p2)

	for _, p := range []*mocks.MockPeer{p1, p2, sp} {
		p.EXPECT().
			Invoke(gomock.Any(), peer.UpdateDelayModel, gomock.Any(), gomock.Any()).
			Return(nil)
	}
	suite.NoError(suite.session.HandleUpdate(suite.ctx, DelayModel, suite.delayModel()))

	// A byte-identical document is dropped without any peer traffic.
	suite.NoError(suite.session.HandleUpdate(suite.ctx, DelayModel, suite.delayModel()))
}

func (suite *SessionTestSuite) TestChangedUpdateForwarded() {
	p1, p2 := suite.allocate()
	_, sp := suite.configure(p1, p2)

	for _, p := range []*mocks.MockPeer{p1, p2, sp} {
		p.EXPECT().
			Invoke(gomock.Any(), peer.UpdateDelayModel, gomock.Any(), gomock.Any()).
			Return(nil).
			Times(2)
	}
	suite.NoError(suite.session.HandleUpdate(suite.ctx, DelayModel, suite.delayModel()))

	changed := []byte(`{"entries": [
		{"receptor_id": "SKA001", "epoch": 1700000010, "coefficients": [0.4, 0.5, 0.6]}
	]}`)
	suite.NoError(suite.session.HandleUpdate(suite.ctx, DelayModel, changed))
}

func (suite *SessionTestSuite) TestUpdateDroppedOutsideObservation() {
	suite.allocate()
	// Not configured: the update is silently dropped.
	suite.NoError(suite.session.HandleUpdate(suite.ctx, DelayModel, suite.delayModel()))
}

func (suite *SessionTestSuite) TestJonesMatrixRouting() {
	p1, p2 := suite.allocate()
	suite.configure(p1, p2)

	// Jones matrices go to the channelizer units only.
	for _, p := range []*mocks.MockPeer{p1, p2} {
		p.EXPECT().
			Invoke(gomock.Any(), peer.UpdateJones, rewrittenTo{1}, gomock.Any()).
			Return(nil)
	}
	suite.NoError(suite.session.HandleUpdate(suite.ctx, JonesMatrix, suite.delayModel()))
}

func (suite *SessionTestSuite) TestBeamWeightsWithoutBeamformers() {
	p1, p2 := suite.allocate()
	suite.configure(p1, p2)

	// A correlation-only configuration has no beam weight consumers.
	suite.NoError(suite.session.HandleUpdate(suite.ctx, BeamWeights, suite.delayModel()))
}

func (suite *SessionTestSuite) TestUnknownUpdateKind() {
	suite.Error(suite.session.HandleUpdate(suite.ctx, UpdateKind("phase-screen"), nil))
}

func (suite *SessionTestSuite) TestMalformedUpdate() {
	p1, p2 := suite.allocate()
	suite.configure(p1, p2)

	err := suite.session.HandleUpdate(suite.ctx, DelayModel, []byte("{not json"))
	suite.Error(err)
	suite.Contains(err.Error(), "malformed")
}

func (suite *SessionTestSuite) TestUpdateUnknownReceptorEntrySkipped() {
	p1, p2 := suite.allocate()
	_, sp := suite.configure(p1, p2)

	document := []byte(`{"entries": [
		{"receptor_id": "SKA001", "coefficients": [0.1]},
		{"receptor_id": "SKA999", "coefficients": [0.2]}
	]}`)
	// The unknown receptor entry is dropped, the rest is forwarded.
	for _, p := range []*mocks.MockPeer{p1, p2, sp} {
		p.EXPECT().
			Invoke(gomock.Any(), peer.UpdateDelayModel, rewrittenTo{1}, gomock.Any()).
			Return(nil)
	}
	suite.NoError(suite.session.HandleUpdate(suite.ctx, DelayModel, document))
}

func (suite *SessionTestSuite) TestUpdateRoutingDuringElementRelease() {
	p1, p2 := suite.allocate()
	ep, sp := suite.configure(p1, p2)

	for _, p := range []*mocks.MockPeer{p1, p2, sp} {
		p.EXPECT().
			Invoke(gomock.Any(), peer.GoToIdle, gomock.Any(), gomock.Any()).
			Return(nil)
	}

	entered := make(chan struct{})
	unblock := make(chan struct{})
	ep.EXPECT().
		Invoke(gomock.Any(), peer.RemoveMembership, gomock.Any(), gomock.Any()).
		DoAndReturn(func(
			ctx context.Context, command peer.Command,
			payload, result interface{}) error {
			close(entered)
			<-unblock
			return nil
		})
	ep.EXPECT().Disconnect().Return(nil)
	sp.EXPECT().Disconnect().Return(nil)

	done := make(chan error, 1)
	go func() { done <- suite.session.GoToIdle(suite.ctx) }()
	<-entered

	// The membership removal is still in flight; delay models keep flowing
	// to the channelizer units without waiting for it.
	for _, p := range []*mocks.MockPeer{p1, p2} {
		p.EXPECT().
			Invoke(gomock.Any(), peer.UpdateDelayModel, gomock.Any(), gomock.Any()).
			Return(nil)
	}
	routed := make(chan error, 1)
	go func() {
		routed <- suite.session.HandleUpdate(suite.ctx, DelayModel, suite.delayModel())
	}()
	select {
	case err := <-routed:
		suite.NoError(err)
	case <-time.After(5 * time.Second):
		suite.FailNow("update routing blocked behind element release")
	}

	close(unblock)
	suite.NoError(<-done)
}
