package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/midcbf/orchestrator/pkg/orchestrator/peer"
	"github.com/midcbf/orchestrator/pkg/orchestrator/peer/mocks"
	"github.com/midcbf/orchestrator/pkg/orchestrator/scanconfig"
)

func (suite *SessionTestSuite) documentWithDelaySource() []byte {
	doc := &scanconfig.Document{
		Common: scanconfig.CommonConfig{
			ConfigID:      "sbi-mvp01-20200325-00002",
			SubarrayID:    1,
			FrequencyBand: "1",
		},
		CBF: scanconfig.CBFConfig{
			DelayModelSource: "tm-delay-01",
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

func (suite *SessionTestSuite) TestUpdateSources() {
	suite.Empty(suite.session.UpdateSources())

	p1, p2 := suite.allocate()
	// The validator probes the source during configure.
	probe := suite.expectPeer("tm-delay-01")
	probe.EXPECT().Disconnect().Return(nil)
	suite.configureDocument(p1, p2, suite.documentWithDelaySource())

	sources := suite.session.UpdateSources()
	suite.Equal(map[UpdateKind]string{DelayModel: "tm-delay-01"}, sources)
}

func (suite *SessionTestSuite) TestSubscriberPollsDelaySource() {
	p1, p2 := suite.allocate()
	probe := suite.expectPeer("tm-delay-01")
	probe.EXPECT().Disconnect().Return(nil)
	_, sp := suite.configureDocument(p1, p2, suite.documentWithDelaySource())

	document := []byte(`{"entries": [{"receptor_id": "SKA001", "coefficients": [0.1]}]}`)

	source := mocks.NewMockPeer(suite.ctrl)
	source.EXPECT().ID().Return("tm-delay-01").AnyTimes()
	source.EXPECT().Disconnect().Return(nil).AnyTimes()
	source.EXPECT().
		Invoke(gomock.Any(), peer.GetDelayModel, gomock.Any(), gomock.Any()).
		DoAndReturn(func(
			ctx context.Context, command peer.Command,
			payload, result interface{}) error {
			*(result.(*json.RawMessage)) = document
			return nil
		}).
		AnyTimes()
	suite.connector.EXPECT().
		Connect(gomock.Any(), "tm-delay-01").
		Return(source, nil).
		AnyTimes()

	// The dedup in the serializer makes repeated polls forward only once.
	forwarded := make(chan struct{}, 30)
	for _, p := range []*mocks.MockPeer{p1, p2, sp} {
		p.EXPECT().
			Invoke(gomock.Any(), peer.UpdateDelayModel, gomock.Any(), gomock.Any()).
			DoAndReturn(func(
				ctx context.Context, command peer.Command,
				payload, result interface{}) error {
				forwarded <- struct{}{}
				return nil
			})
	}

	subscriber := NewSubscriber(suite.session, suite.connector, 5*time.Millisecond)
	subscriber.Start()
	defer subscriber.Stop()

	for i := 0; i < 3; i++ {
		select {
		case <-forwarded:
		case <-time.After(5 * time.Second):
			suite.FailNow("timed out waiting for update forwarding")
		}
	}
}

func (suite *SessionTestSuite) TestSubscriberIdleWithoutConfiguration() {
	// A long interval: the loop starts but never fires during the test.
	subscriber := NewSubscriber(suite.session, suite.connector, time.Hour)
	subscriber.Start()
	// Start is idempotent.
	subscriber.Start()
	subscriber.Stop()
	subscriber.Stop()
}
