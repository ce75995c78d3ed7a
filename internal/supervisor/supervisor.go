package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"

	appconfig "liqflow/config"
	"liqflow/internal/feed"
	"liqflow/logger"
)

// Factory builds a fresh connection for one attempt. The supervisor never
// reuses a connection object across attempts.
type Factory func() feed.Connection

// Unit is one supervised feed.
type Unit struct {
	Name string
	New  Factory
}

// Status is a point-in-time view of one unit, exposed to the dashboard.
type Status struct {
	State    string `json:"state"`
	Restarts int64  `json:"restarts"`
}

// Supervisor owns the restart policy for all feeds. Each unit runs in its
// own goroutine with its own backoff, so a flapping exchange never delays
// the healthy one.
type Supervisor struct {
	cfg   appconfig.SupervisorConfig
	units []Unit
	wg    sync.WaitGroup
	log   *logger.Log

	current  sync.Map // unit name -> feed.Connection
	restarts sync.Map // unit name -> *atomic.Int64
}

func New(cfg appconfig.SupervisorConfig, units []Unit) *Supervisor {
	return &Supervisor{
		cfg:   cfg,
		units: units,
		log:   logger.GetLogger(),
	}
}

// Start launches one supervision loop per unit and returns immediately.
func (s *Supervisor) Start(ctx context.Context) {
	for _, unit := range s.units {
		s.restarts.Store(unit.Name, &atomic.Int64{})
		s.wg.Add(1)
		go s.supervise(ctx, unit)
	}
}

func (s *Supervisor) supervise(ctx context.Context, unit Unit) {
	defer s.wg.Done()

	log := s.log.WithComponent("supervisor").WithField("feed", unit.Name)
	b := &backoff.Backoff{
		Min:    s.cfg.BackoffMin,
		Max:    s.cfg.BackoffMax,
		Factor: 2,
		Jitter: true,
	}

	for {
		if ctx.Err() != nil {
			return
		}

		conn := unit.New()
		s.current.Store(unit.Name, conn)

		started := time.Now()
		err := conn.Run(ctx)
		uptime := time.Since(started)

		if ctx.Err() != nil {
			log.WithField("uptime", uptime.String()).Info("feed stopped for shutdown")
			return
		}

		// A connection that stayed up long enough earns a fresh backoff;
		// short-lived attempts keep climbing toward the cap.
		if uptime >= s.cfg.HealthyAfter {
			b.Reset()
		}
		if counter, ok := s.restarts.Load(unit.Name); ok {
			counter.(*atomic.Int64).Add(1)
		}

		delay := b.Duration()
		log.WithError(err).WithFields(logger.Fields{
			"uptime": uptime.String(),
			"delay":  delay.String(),
		}).Warn("feed connection ended, restarting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// Wait blocks until every supervision loop has exited or the grace period
// runs out. It reports whether shutdown completed cleanly.
func (s *Supervisor) Wait(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}

// Snapshot returns the current state and restart count of every unit.
func (s *Supervisor) Snapshot() map[string]Status {
	out := make(map[string]Status, len(s.units))
	for _, unit := range s.units {
		st := Status{State: feed.StateDisconnected.String()}
		if v, ok := s.current.Load(unit.Name); ok {
			st.State = v.(feed.Connection).State().String()
		}
		if v, ok := s.restarts.Load(unit.Name); ok {
			st.Restarts = v.(*atomic.Int64).Load()
		}
		out[unit.Name] = st
	}
	return out
}
