package common

const (
	// SubarrayOrchestrator is the name of the subarray orchestrator service.
	SubarrayOrchestrator = "subarray-orchestrator"

	// AppLogField is the log field key holding the application name.
	AppLogField = "app"

	// EndpointPath is the root path for HTTP endpoints.
	EndpointPath = "/subarray"

	// DefaultChannelizerCount is the number of channelizer units the
	// system is deployed with unless overridden in config.
	DefaultChannelizerCount = 197

	// DefaultProcessingElementCount is the number of processing elements
	// the system is deployed with unless overridden in config.
	DefaultProcessingElementCount = 27

	// DefaultSessionCount is the number of observing sessions served by
	// one orchestrator process.
	DefaultSessionCount = 16

	// MaxSessionsPerElement is the maximum number of sessions that may
	// share one processing element.
	MaxSessionsPerElement = 16
)
