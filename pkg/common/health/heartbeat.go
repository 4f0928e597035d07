package health

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"

	"github.com/midcbf/orchestrator/pkg/common/lifecycle"
)

// Config is the heartbeat configuration
type Config struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// Heartbeat is the heartbeat interface
type Heartbeat interface {
	Start()
	Stop()
}

type heartbeat struct {
	metrics           *Metrics
	heartbeatInterval time.Duration
	life              lifecycle.LifeCycle
}

var hb *heartbeat
var onceInitHeartbeat sync.Once

// InitHeartbeat inits heartbeat
func InitHeartbeat(
	parent tally.Scope,
	config Config) {
	onceInitHeartbeat.Do(func() {
		hb = &heartbeat{
			metrics:           NewMetrics(parent.SubScope("health")),
			heartbeatInterval: config.HeartbeatInterval,
			life:              lifecycle.NewLifeCycle(),
		}
		hb.metrics.Init.Inc(1)
		hb.Start()
	})
}

func (h *heartbeat) Start() {
	if !h.life.Start() {
		log.Warn("Heartbeat is already running, no-op.")
		return
	}
	go h.run()
	log.Info("Heartbeat started")
}

func (h *heartbeat) run() {
	defer h.life.StopComplete()

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.life.StopCh():
			return
		case t := <-ticker.C:
			log.WithField("tick", t).
				Debug("Emitting heartbeat.")
			h.metrics.Heartbeat.Update(1)
		}
	}
}

func (h *heartbeat) Stop() {
	if !h.life.Stop() {
		log.Warn("Heartbeat is not running, no-op.")
		return
	}
	h.life.Wait()
	log.Info("Heartbeat stopped")
}
