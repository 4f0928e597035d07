package metrics

import (
	"fmt"
	"io"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/cactus/go-statsd-client/statsd"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
	tallyprom "github.com/uber-go/tally/prometheus"
	tallystatsd "github.com/uber-go/tally/statsd"
)

const (
	// TallyFlushInterval is the flush interval for the root scope.
	TallyFlushInterval = 1 * time.Second
)

// Config contains the metrics configuration
type Config struct {
	Prometheus *prometheusConfig `yaml:"prometheus"`
	Statsd     *statsdConfig     `yaml:"statsd"`
}

type prometheusConfig struct {
	Enable bool `yaml:"enable"`
}

type statsdConfig struct {
	Enable   bool   `yaml:"enable"`
	Endpoint string `yaml:"endpoint"`
}

// InitMetricScope initializes a root scope and its closer, with a http
// server mux for the metrics exposition and health endpoints.
func InitMetricScope(
	cfg *Config,
	rootMetricScope string,
	metricFlushInterval time.Duration) (tally.Scope, io.Closer, *nethttp.ServeMux) {
	mux := nethttp.NewServeMux()
	var reporter tally.StatsReporter
	var cachedReporter tally.CachedStatsReporter
	var promHandler nethttp.Handler
	metricSeparator := "."
	if cfg.Prometheus != nil && cfg.Prometheus.Enable {
		// tally panics if the scope name contains "-", force convert to "_"
		rootMetricScope = strings.Replace(rootMetricScope, "-", "_", -1)
		metricSeparator = "_"
		promReporter := tallyprom.NewReporter(tallyprom.Options{})
		cachedReporter = promReporter
		promHandler = promReporter.HTTPHandler()
	} else if cfg.Statsd != nil && cfg.Statsd.Enable {
		log.Infof("Metrics configured with statsd endpoint %s", cfg.Statsd.Endpoint)
		c, err := statsd.NewClient(cfg.Statsd.Endpoint, "")
		if err != nil {
			log.Fatalf("Unable to setup Statsd client: %v", err)
		}
		reporter = tallystatsd.NewReporter(c, tallystatsd.Options{})
	} else {
		log.Warn("No metrics backends configured, using the statsd.NoopClient")
		c, _ := statsd.NewNoopClient()
		reporter = tallystatsd.NewReporter(c, tallystatsd.Options{})
	}

	if promHandler != nil {
		// if prometheus support is enabled, handle /metrics to serve prom metrics
		log.Infof("Setting up prometheus metrics handler at /metrics")
		mux.Handle("/metrics", promHandler)
	}
	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		w.WriteHeader(nethttp.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	metricScope, scopeCloser := tally.NewRootScope(
		tally.ScopeOptions{
			Prefix:         rootMetricScope,
			Tags:           map[string]string{},
			Reporter:       reporter,
			CachedReporter: cachedReporter,
			Separator:      metricSeparator,
		},
		metricFlushInterval)
	return metricScope, scopeCloser, mux
}
