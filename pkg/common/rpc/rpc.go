package rpc

import (
	"fmt"
	"net"
	nethttp "net/http"

	"github.com/midcbf/orchestrator/pkg/common"
	"go.uber.org/yarpc/api/transport"
	"go.uber.org/yarpc/transport/grpc"
	"go.uber.org/yarpc/transport/http"

	log "github.com/sirupsen/logrus"
)

const (
	// MaxRecvMsgSize is the largest acceptable RPC message size.
	MaxRecvMsgSize = 256 * 1024 * 1024 // 256MB
)

// NewTransport returns a new transport, using the default transport layer.
func NewTransport() *grpc.Transport {
	return grpc.NewTransport(
		grpc.ClientMaxRecvMsgSize(MaxRecvMsgSize),
		grpc.ServerMaxRecvMsgSize(MaxRecvMsgSize),
	)
}

// NewInbounds creates both HTTP and gRPC inbounds for the given ports
func NewInbounds(
	httpPort int,
	grpcPort int,
	mux *nethttp.ServeMux) []transport.Inbound {

	// Create both HTTP and gRPC transport
	ht := http.NewTransport()
	gt := NewTransport()

	gl, err := net.Listen("tcp", fmt.Sprintf(":%d", grpcPort))
	if err != nil {
		log.WithError(err).Fatal("failed to listen to gRPC port")
	}

	inbounds := []transport.Inbound{
		ht.NewInbound(
			fmt.Sprintf(":%d", httpPort),
			http.Mux(common.EndpointPath, mux),
		),
		gt.NewInbound(gl),
	}
	return inbounds
}
