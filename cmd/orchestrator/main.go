package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/yarpc"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/midcbf/orchestrator/pkg/common"
	"github.com/midcbf/orchestrator/pkg/common/async"
	"github.com/midcbf/orchestrator/pkg/common/buildversion"
	"github.com/midcbf/orchestrator/pkg/common/config"
	"github.com/midcbf/orchestrator/pkg/common/health"
	"github.com/midcbf/orchestrator/pkg/common/logging"
	"github.com/midcbf/orchestrator/pkg/common/metrics"
	"github.com/midcbf/orchestrator/pkg/common/rpc"
	"github.com/midcbf/orchestrator/pkg/orchestrator/allocation"
	"github.com/midcbf/orchestrator/pkg/orchestrator/handler"
	"github.com/midcbf/orchestrator/pkg/orchestrator/peer"
	"github.com/midcbf/orchestrator/pkg/orchestrator/receptor"
	"github.com/midcbf/orchestrator/pkg/orchestrator/scanconfig"
	"github.com/midcbf/orchestrator/pkg/orchestrator/session"
)

var (
	version string
	app     = kingpin.New(common.SubarrayOrchestrator, "Mid CBF subarray orchestrator")

	debug = app.Flag(
		"debug", "enable debug mode (print full json responses)").
		Short('d').
		Default("false").
		Envar("ENABLE_DEBUG_LOGGING").
		Bool()

	cfgFiles = app.Flag(
		"config",
		"yaml config files (can be provided multiple times to merge configs)").
		Short('c').
		Required().
		ExistingFiles()

	httpPort = app.Flag(
		"http-port", "Subarray orchestrator HTTP port (orchestrator.http_port override)").
		Envar("HTTP_PORT").
		Int()

	grpcPort = app.Flag(
		"grpc-port", "Subarray orchestrator gRPC port (orchestrator.grpc_port override)").
		Envar("GRPC_PORT").
		Int()

	systemParametersFile = app.Flag(
		"system-parameters",
		"receptor to channelizer mapping file (orchestrator.system_parameters_file override)").
		Envar("SYSTEM_PARAMETERS_FILE").
		String()
)

func main() {
	app.Version(version)
	app.HelpFlag.Short('h')
	kingpin.MustParse(app.Parse(os.Args[1:]))

	log.SetFormatter(
		&logging.LogFieldFormatter{
			Formatter: &log.JSONFormatter{},
			Fields: log.Fields{
				common.AppLogField: app.Name,
			},
		},
	)

	initialLevel := log.InfoLevel
	if *debug {
		initialLevel = log.DebugLevel
	}
	log.SetLevel(initialLevel)

	log.WithField("files", *cfgFiles).Info("Loading orchestrator config")
	var cfg Config
	if err := config.Parse(&cfg, *cfgFiles...); err != nil {
		log.WithField("error", err).Fatal("Cannot parse yaml config")
	}
	if *httpPort != 0 {
		cfg.Orchestrator.HTTPPort = *httpPort
	}
	if *grpcPort != 0 {
		cfg.Orchestrator.GRPCPort = *grpcPort
	}
	if *systemParametersFile != "" {
		cfg.Orchestrator.SystemParametersFile = *systemParametersFile
	}
	cfg.normalize()
	log.WithField("config", cfg).Info("Loaded orchestrator configuration")

	rootScope, scopeCloser, mux := metrics.InitMetricScope(
		&cfg.Metrics,
		common.SubarrayOrchestrator,
		metrics.TallyFlushInterval)
	defer scopeCloser.Close()

	mux.HandleFunc(logging.LevelOverwrite, logging.LevelOverwriteHandler(initialLevel))
	mux.HandleFunc(buildversion.Get, buildversion.Handler(version))

	mapper, err := receptor.Load(cfg.Orchestrator.SystemParametersFile)
	if err != nil {
		log.WithError(err).Fatal("Cannot load system parameters")
	}

	table := allocation.NewTable(cfg.Allocation, rootScope)
	connector := peer.NewConnector(cfg.Peers, rootScope)
	validator := scanconfig.NewValidator(
		mapper, table, connector, cfg.Allocation.ElementCount)
	pool := async.NewPool(async.PoolOptions{MaxWorkers: cfg.Orchestrator.Workers})

	sessions := make([]*session.Session, 0, cfg.Orchestrator.SessionCount)
	for id := 1; id <= cfg.Orchestrator.SessionCount; id++ {
		s := session.New(id, mapper, table, connector, validator, pool, rootScope)
		sessions = append(sessions, s)

		subscriber := session.NewSubscriber(
			s, connector, cfg.Orchestrator.UpdatePollInterval)
		subscriber.Start()
		defer subscriber.Stop()
	}

	dispatcher := yarpc.NewDispatcher(yarpc.Config{
		Name:     common.SubarrayOrchestrator,
		Inbounds: rpc.NewInbounds(cfg.Orchestrator.HTTPPort, cfg.Orchestrator.GRPCPort, mux),
	})

	server := handler.New(sessions, rootScope)
	server.Register(dispatcher)

	if err := dispatcher.Start(); err != nil {
		log.WithError(err).Fatal("Could not start rpc server")
	}
	defer dispatcher.Stop()

	health.InitHeartbeat(rootScope, cfg.Health)

	log.WithFields(log.Fields{
		"http_port": cfg.Orchestrator.HTTPPort,
		"grpc_port": cfg.Orchestrator.GRPCPort,
		"subarrays": cfg.Orchestrator.SessionCount,
	}).Info("Started subarray orchestrator")

	select {}
}
