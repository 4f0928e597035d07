package backoff

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
)

var errUnavailable = errors.New("channelizer unavailable")

type RetryTestSuite struct {
	suite.Suite
}

func TestRetryTestSuite(t *testing.T) {
	suite.Run(t, new(RetryTestSuite))
}

func (s *RetryTestSuite) TestRetryUntilConnected() {
	attempts := 0
	connect := func() error {
		attempts++
		if attempts == 3 {
			return nil
		}
		return errUnavailable
	}

	err := Retry(connect, NewRetryPolicy(5, time.Millisecond))
	s.NoError(err)
	s.Equal(3, attempts)
}

func (s *RetryTestSuite) TestRetryExhausted() {
	attempts := 0
	connect := func() error {
		attempts++
		return errUnavailable
	}

	err := Retry(connect, NewRetryPolicy(3, time.Millisecond))
	s.Equal(errUnavailable, err)
	s.Equal(3, attempts)
}
