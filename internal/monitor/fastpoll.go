package monitor

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"codeberg.org/mutker/battguard/internal/errors"
	"codeberg.org/mutker/battguard/internal/logger"
	"codeberg.org/mutker/battguard/internal/power"
)

const (
	fastPollInterval = 100 * time.Millisecond

	// fastPollStaleAfter is how long without a tick before the worker is
	// considered dead.
	fastPollStaleAfter = 2 * time.Second

	// fullRefreshRate limits how often an AC flip triggers a full battery
	// read; in between the flip is reported with the cached percentage.
	fullRefreshRate = rate.Limit(0.5)
)

// FastPollSource watches the sysfs AC online flag at a tight interval. The
// flag is a single-byte file, so the loop costs almost nothing while still
// catching charger events within a tenth of a second.
type FastPollSource struct {
	errFactory errors.Factory
	reader     *power.StatusReader
}

func NewFastPollSource(reader *power.StatusReader) *FastPollSource {
	return &FastPollSource{
		errFactory: errors.New(),
		reader:     reader,
	}
}

func (s *FastPollSource) Kind() string {
	return "fastpoll"
}

func (s *FastPollSource) Start(ctx context.Context, sink chan<- power.Observation) (*Handle, error) {
	onlinePath, ok := s.reader.Sysfs().ACOnlinePath()
	if !ok {
		return nil, s.errFactory.WithMessage(errors.ErrBackendInit, "no AC online flag in sysfs")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	var heartbeat atomic.Int64
	heartbeat.Store(time.Now().UnixNano())

	go s.run(workerCtx, sink, onlinePath, &heartbeat)

	return &Handle{
		kind: s.Kind(),
		alive: func() bool {
			age := time.Since(time.Unix(0, heartbeat.Load()))

			return age < fastPollStaleAfter
		},
		stop: cancel,
	}, nil
}

func (s *FastPollSource) run(ctx context.Context, sink chan<- power.Observation, onlinePath string, heartbeat *atomic.Int64) {
	defer recoverWorker(s.Kind())

	ticker := time.NewTicker(fastPollInterval)
	defer ticker.Stop()

	limiter := rate.NewLimiter(fullRefreshRate, 1)
	last := readOnlineFlag(onlinePath)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			heartbeat.Store(time.Now().UnixNano())

			current := readOnlineFlag(onlinePath)
			if current == power.ACUnknown || current == last {
				last = current

				continue
			}

			logger.Debug().
				Str("ac_status", current.String()).
				Msg("AC flip detected by fast poll")

			// A partial observation with the cached percentage goes out
			// immediately; the full battery read follows in the
			// background, rate limited so flapping adapters cannot pile
			// up reads.
			deliver(sink, power.Observation{
				Percent:  s.reader.LastPercent(),
				ACStatus: current,
				At:       time.Now(),
			})

			if limiter.Allow() {
				go func() {
					defer recoverWorker(s.Kind())
					deliver(sink, s.reader.Read(ctx))
				}()
			}

			last = current
		}
	}
}

func readOnlineFlag(path string) power.ACStatus {
	data, err := os.ReadFile(path)
	if err != nil {
		return power.ACUnknown
	}

	switch strings.TrimSpace(string(data)) {
	case "1":
		return power.ACConnected
	case "0":
		return power.ACDisconnected
	default:
		return power.ACUnknown
	}
}

// deliver drops the observation when the sink is full. The next poll cycle
// reads fresh state anyway, so a stale queued observation has no value.
func deliver(sink chan<- power.Observation, obs power.Observation) {
	select {
	case sink <- obs:
	default:
		logger.Debug().Msg("Observation sink full; dropping event")
	}
}

func recoverWorker(kind string) {
	if r := recover(); r != nil {
		logger.Error().
			Str("backend", kind).
			Interface("panic", r).
			Msg("Event backend worker panicked")
	}
}
