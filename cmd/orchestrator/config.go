package main

import (
	"time"

	"github.com/midcbf/orchestrator/pkg/common"
	"github.com/midcbf/orchestrator/pkg/common/health"
	"github.com/midcbf/orchestrator/pkg/common/metrics"
	"github.com/midcbf/orchestrator/pkg/orchestrator/allocation"
	"github.com/midcbf/orchestrator/pkg/orchestrator/peer"
)

// Config holds the subarray orchestrator process configuration.
type Config struct {
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Metrics      metrics.Config     `yaml:"metrics"`
	Health       health.Config      `yaml:"health"`
	Allocation   allocation.Config  `yaml:"allocation"`
	Peers        peer.Config        `yaml:"peers"`
}

// OrchestratorConfig is the service-level part of the configuration.
type OrchestratorConfig struct {
	HTTPPort int `yaml:"http_port"`
	GRPCPort int `yaml:"grpc_port"`

	// SessionCount is the number of concurrently addressable subarrays.
	SessionCount int `yaml:"session_count"`

	// Workers sizes the shared pool running long-running commands.
	Workers int `yaml:"workers"`

	// UpdatePollInterval bounds the latency of shared-model updates pulled
	// from the configured sources.
	UpdatePollInterval time.Duration `yaml:"update_poll_interval"`

	// SystemParametersFile is the receptor to channelizer mapping document.
	SystemParametersFile string `yaml:"system_parameters_file"`
}

func (c *Config) normalize() {
	if c.Orchestrator.SessionCount <= 0 {
		c.Orchestrator.SessionCount = common.DefaultSessionCount
	}
	if c.Allocation.ChannelizerCount <= 0 {
		c.Allocation.ChannelizerCount = common.DefaultChannelizerCount
	}
	if c.Allocation.ElementCount <= 0 {
		c.Allocation.ElementCount = common.DefaultProcessingElementCount
	}
	if c.Allocation.MaxSessionsPerElement <= 0 {
		c.Allocation.MaxSessionsPerElement = common.MaxSessionsPerElement
	}
}
