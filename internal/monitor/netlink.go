package monitor

import (
	"context"
	"sync/atomic"
	"syscall"

	"github.com/pilebones/go-udev/netlink"

	"codeberg.org/mutker/battguard/internal/errors"
	"codeberg.org/mutker/battguard/internal/logger"
	"codeberg.org/mutker/battguard/internal/power"
)

// netlinkBufferSize keeps kernel uevent bursts from overflowing the socket
// while the worker is busy reading battery state.
const netlinkBufferSize = 1024 * 1024

// NetlinkSource subscribes to kernel uevents for the power_supply subsystem.
// Last resort backend: it needs no daemon or helper binary, only the netlink
// socket.
type NetlinkSource struct {
	errFactory errors.Factory
	reader     *power.StatusReader
}

func NewNetlinkSource(reader *power.StatusReader) *NetlinkSource {
	return &NetlinkSource{
		errFactory: errors.New(),
		reader:     reader,
	}
}

func (s *NetlinkSource) Kind() string {
	return "netlink"
}

func (s *NetlinkSource) Start(ctx context.Context, sink chan<- power.Observation) (*Handle, error) {
	conn := &netlink.UEventConn{}
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return nil, s.errFactory.Wrap(errors.ErrBackendInit, err)
	}

	if err := setSocketBufferSize(conn.Fd, netlinkBufferSize); err != nil {
		logger.Debug().AnErr("error", err).Msg("Failed to grow netlink receive buffer")
	}

	queue := make(chan netlink.UEvent, signalBuffer)
	errs := make(chan error, 1)
	quit := conn.Monitor(queue, errs, powerSupplyMatcher())

	workerCtx, cancel := context.WithCancel(ctx)
	var running atomic.Bool
	running.Store(true)

	go func() {
		defer recoverWorker(s.Kind())
		defer running.Store(false)

		defer func() {
			select {
			case quit <- struct{}{}:
			default:
			}
			conn.Close()
		}()

		for {
			select {
			case <-workerCtx.Done():
				return
			case uevent, ok := <-queue:
				if !ok {
					return
				}

				logger.Debug().
					Str("action", string(uevent.Action)).
					Str("devpath", uevent.KObj).
					Msg("power_supply uevent")
				deliver(sink, s.reader.Read(workerCtx))
			case err, ok := <-errs:
				if !ok {
					return
				}
				logger.Warn().AnErr("error", err).Msg("Netlink monitor error")
			}
		}
	}()

	return &Handle{
		kind:  s.Kind(),
		alive: running.Load,
		stop:  cancel,
	}, nil
}

func powerSupplyMatcher() *netlink.RuleDefinitions {
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Env: map[string]string{
			"SUBSYSTEM": "^power_supply$",
		},
	})

	return rules
}

func setSocketBufferSize(fd, size int) error {
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUFFORCE, size); err == nil {
		return nil
	}

	return syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUF, size)
}
