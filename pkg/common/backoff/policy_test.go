package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type RetryPolicyTestSuite struct {
	suite.Suite
}

func TestRetryPolicyTestSuite(t *testing.T) {
	suite.Run(t, new(RetryPolicyTestSuite))
}

func (s *RetryPolicyTestSuite) TestFixedIntervalUntilExhausted() {
	// The connect policy: three attempts at a fixed interval.
	policy := NewRetryPolicy(3, 100*time.Millisecond)
	r := NewRetrier(policy)

	s.Equal(100*time.Millisecond, r.NextBackOff())
	s.Equal(100*time.Millisecond, r.NextBackOff())
	s.Equal(done, r.NextBackOff())
}

func (s *RetryPolicyTestSuite) TestSingleAttemptPolicy() {
	policy := NewRetryPolicy(1, 100*time.Millisecond)
	r := NewRetrier(policy)

	s.Equal(done, r.NextBackOff())
}
