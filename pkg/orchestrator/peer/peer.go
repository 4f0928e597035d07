package peer

import (
	"context"
)

// Command is a control command delivered to a remote peer process.
type Command string

// Commands understood by channelizer units.
const (
	ConfigureBand    Command = "configure-band"
	ConfigureScan    Command = "configure-scan"
	Scan             Command = "scan"
	EndScan          Command = "end-scan"
	GoToIdle         Command = "go-to-idle"
	ObsReset         Command = "obs-reset"
	Abort            Command = "abort"
	UpdateDelayModel Command = "update-delay-model"
	UpdateJones      Command = "update-jones-matrix"
)

// Commands understood by processing elements and their sub-sessions.
const (
	SetFunctionMode   Command = "set-function-mode"
	AddMembership     Command = "add-subarray-membership"
	RemoveMembership  Command = "remove-subarray-membership"
	UpdateBeamWeights Command = "update-beam-weights"
)

// Commands understood by shared-model update sources.
const (
	GetDelayModel  Command = "get-delay-model"
	GetJonesMatrix Command = "get-jones-matrix"
	GetBeamWeights Command = "get-beam-weights"
)

// Peer is a non-owning handle to a remote controlled process (channelizer
// unit, processing element, or sub-session element). The orchestrator never
// manages transport or discovery itself.
type Peer interface {
	// ID returns the peer identifier the handle was connected with.
	ID() string

	// Invoke delivers a command with a payload and decodes the peer's
	// response into result. result may be nil when no response body is
	// expected. Blocks on network I/O, bounded by the connector's
	// configured timeout.
	Invoke(ctx context.Context, command Command, payload, result interface{}) error

	// Disconnect releases the handle.
	Disconnect() error
}

// Connector supplies peer handles from an external connection registry.
type Connector interface {
	// Connect establishes a handle for the peer, retrying transient
	// failures with bounded backoff.
	Connect(ctx context.Context, peerID string) (Peer, error)
}
