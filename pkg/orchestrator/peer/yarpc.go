package peer

import (
	"context"
	"time"

	"github.com/midcbf/orchestrator/pkg/common"
	"github.com/midcbf/orchestrator/pkg/common/backoff"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
	"go.uber.org/yarpc"
	"go.uber.org/yarpc/api/transport"
	"go.uber.org/yarpc/encoding/json"
	"go.uber.org/yarpc/transport/http"
	"go.uber.org/yarpc/yarpcerrors"
)

const (
	_defaultInvokeTimeout   = 10 * time.Second
	_defaultConnectAttempts = 3
	_defaultConnectBackoff  = 100 * time.Millisecond
)

// Config is the peer connection registry configuration.
type Config struct {
	// Addresses maps peer ids to their HTTP endpoint URLs.
	Addresses map[string]string `yaml:"addresses"`

	// InvokeTimeout bounds a single command invocation.
	InvokeTimeout time.Duration `yaml:"invoke_timeout"`

	// ConnectAttempts and ConnectBackoff bound the connect retry loop.
	ConnectAttempts int           `yaml:"connect_attempts"`
	ConnectBackoff  time.Duration `yaml:"connect_backoff"`
}

func (c *Config) normalize() {
	if c.InvokeTimeout == 0 {
		c.InvokeTimeout = _defaultInvokeTimeout
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = _defaultConnectAttempts
	}
	if c.ConnectBackoff == 0 {
		c.ConnectBackoff = _defaultConnectBackoff
	}
}

type yarpcConnector struct {
	config    Config
	transport *http.Transport
	metrics   *Metrics
}

// NewConnector creates a Connector dialing peers over yarpc HTTP outbounds
// with JSON encoded commands. Peer addresses come from the registry in the
// configuration.
func NewConnector(config Config, scope tally.Scope) Connector {
	config.normalize()
	return &yarpcConnector{
		config:    config,
		transport: http.NewTransport(),
		metrics:   NewMetrics(scope.SubScope("peer")),
	}
}

func (c *yarpcConnector) Connect(ctx context.Context, peerID string) (Peer, error) {
	address, ok := c.config.Addresses[peerID]
	if !ok {
		c.metrics.ConnectFail.Inc(1)
		return nil, errors.Errorf("no address registered for peer %s", peerID)
	}

	dispatcher := yarpc.NewDispatcher(yarpc.Config{
		Name: common.SubarrayOrchestrator,
		Outbounds: yarpc.Outbounds{
			peerID: transport.Outbounds{
				Unary: c.transport.NewSingleOutbound(address),
			},
		},
	})

	policy := backoff.NewRetryPolicy(c.config.ConnectAttempts, c.config.ConnectBackoff)
	if err := backoff.Retry(func() error {
		return dispatcher.Start()
	}, policy); err != nil {
		c.metrics.ConnectFail.Inc(1)
		return nil, errors.Wrapf(err, "failed to connect peer %s", peerID)
	}

	log.WithFields(log.Fields{
		"peer_id": peerID,
		"address": address,
	}).Info("Connected peer")
	c.metrics.Connect.Inc(1)

	return &yarpcPeer{
		id:         peerID,
		client:     json.New(dispatcher.ClientConfig(peerID)),
		dispatcher: dispatcher,
		timeout:    c.config.InvokeTimeout,
		metrics:    c.metrics,
	}, nil
}

type yarpcPeer struct {
	id         string
	client     json.Client
	dispatcher *yarpc.Dispatcher
	timeout    time.Duration
	metrics    *Metrics
}

func (p *yarpcPeer) ID() string {
	return p.id
}

func (p *yarpcPeer) Invoke(
	ctx context.Context,
	command Command,
	payload, result interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if result == nil {
		result = &struct{}{}
	}
	if err := p.client.Call(ctx, string(command), payload, result); err != nil {
		p.metrics.InvokeFail.Inc(1)
		return errors.Wrapf(err, "peer %s command %s failed", p.id, command)
	}
	p.metrics.Invoke.Inc(1)
	return nil
}

func (p *yarpcPeer) Disconnect() error {
	return p.dispatcher.Stop()
}

// Transient reports whether a peer failure is worth retrying, as opposed to
// a terminal rejection.
func Transient(err error) bool {
	cause := errors.Cause(err)
	return yarpcerrors.IsDeadlineExceeded(cause) ||
		yarpcerrors.IsUnavailable(cause)
}
