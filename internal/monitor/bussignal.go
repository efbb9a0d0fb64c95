package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"

	"codeberg.org/mutker/battguard/internal/errors"
	"codeberg.org/mutker/battguard/internal/logger"
	"codeberg.org/mutker/battguard/internal/power"
)

const (
	propsInterface   = "org.freedesktop.DBus.Properties"
	propsChangedName = "PropertiesChanged"

	signalBuffer = 16
)

// BusSignalSource subscribes to PropertiesChanged signals on the UPower
// battery and adapter objects, so state changes arrive pushed instead of
// polled.
type BusSignalSource struct {
	errFactory errors.Factory
	reader     *power.StatusReader
}

func NewBusSignalSource(reader *power.StatusReader) *BusSignalSource {
	return &BusSignalSource{
		errFactory: errors.New(),
		reader:     reader,
	}
}

func (s *BusSignalSource) Kind() string {
	return "bussignal"
}

func (s *BusSignalSource) Start(ctx context.Context, sink chan<- power.Observation) (*Handle, error) {
	up := s.reader.UPower()
	if up == nil {
		return nil, s.errFactory.WithMessage(errors.ErrBackendInit, "UPower is not available")
	}

	conn := up.Conn()
	paths := []dbus.ObjectPath{up.BatteryPath()}
	if adapter := up.AdapterPath(); adapter != "" {
		paths = append(paths, adapter)
	}

	for _, path := range paths {
		err := conn.AddMatchSignal(
			dbus.WithMatchObjectPath(path),
			dbus.WithMatchInterface(propsInterface),
			dbus.WithMatchMember(propsChangedName),
		)
		if err != nil {
			return nil, s.errFactory.Wrap(errors.ErrBackendInit, err)
		}
	}

	signals := make(chan *dbus.Signal, signalBuffer)
	conn.Signal(signals)

	workerCtx, cancel := context.WithCancel(ctx)
	var running atomic.Bool
	running.Store(true)

	go s.run(workerCtx, sink, conn, signals, &running)

	return &Handle{
		kind:  s.Kind(),
		alive: running.Load,
		stop:  cancel,
	}, nil
}

func (s *BusSignalSource) run(ctx context.Context, sink chan<- power.Observation, conn *dbus.Conn, signals chan *dbus.Signal, running *atomic.Bool) {
	defer recoverWorker(s.Kind())
	defer running.Store(false)
	defer conn.RemoveSignal(signals)

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				logger.Warn().Msg("System bus signal stream closed")

				return
			}
			if sig.Name != propsInterface+"."+propsChangedName {
				continue
			}

			deliver(sink, s.observe(ctx, sig))
		}
	}
}

// observe turns a PropertiesChanged signal into an observation. When the
// signal carries the adapter Online flag the AC state is taken straight from
// it; the battery percentage then comes from the cache, saving a bus round
// trip on the latency-sensitive charger path.
func (s *BusSignalSource) observe(ctx context.Context, sig *dbus.Signal) power.Observation {
	if ac, ok := onlineFromSignal(sig); ok {
		return power.Observation{
			Percent:  s.reader.LastPercent(),
			ACStatus: ac,
			At:       time.Now(),
		}
	}

	return s.reader.Read(ctx)
}

func onlineFromSignal(sig *dbus.Signal) (power.ACStatus, bool) {
	if len(sig.Body) < 2 {
		return power.ACUnknown, false
	}

	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return power.ACUnknown, false
	}

	variant, ok := changed["Online"]
	if !ok {
		return power.ACUnknown, false
	}

	online, ok := variant.Value().(bool)
	if !ok {
		return power.ACUnknown, false
	}

	if online {
		return power.ACConnected, true
	}

	return power.ACDisconnected, true
}
