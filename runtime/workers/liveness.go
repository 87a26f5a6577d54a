package workers

import (
	"context"
	"log/slog"
	"time"

	"office-messenger/contract"
)

const defaultSweepInterval = 20 * time.Second

// LivenessWorker sweeps the registry on a fixed interval. Each sweep
// terminates every connection whose alive flag was not refreshed by a probe
// acknowledgment since the previous sweep, then marks the survivors
// presumptively dead and probes them again. Connections start alive, so
// every socket is probed at least once; one that never registers an
// identity cannot refresh its flag and is dropped one probed cycle later.
type LivenessWorker struct {
	log      *slog.Logger
	registry contract.IRegistry
	interval time.Duration
}

func NewLivenessWorker(log *slog.Logger, registry contract.IRegistry, interval time.Duration) *LivenessWorker {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &LivenessWorker{log: log, registry: registry, interval: interval}
}

func (w *LivenessWorker) Run(ctx context.Context) error {
	w.log.Info("Starting liveness sweep", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep runs one probe pass over every live connection.
func (w *LivenessWorker) Sweep() {
	for _, s := range w.registry.All() {
		if !s.Alive() {
			if ident := s.Identity(); ident != nil {
				w.log.Info("Connection stopped answering probes, terminating",
					"dept", ident.Department, "user", ident.UserID)
			} else {
				w.log.Info("Connection without identity detected, terminating", "addr", s.RemoteAddr())
			}
			_ = s.Close()
			w.registry.Remove(s)
			continue
		}
		s.Expire()
		if err := s.Ping(); err != nil {
			w.log.Debug("Probe send failed", "addr", s.RemoteAddr(), "err", err)
		}
	}
}
