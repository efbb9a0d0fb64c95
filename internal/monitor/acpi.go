package monitor

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync/atomic"

	"codeberg.org/mutker/battguard/internal/errors"
	"codeberg.org/mutker/battguard/internal/logger"
	"codeberg.org/mutker/battguard/internal/power"
)

const acpiListenBinary = "acpi_listen"

// AcpiSource reads ACPI events from an acpi_listen subprocess. It covers
// hosts where neither the sysfs online flag nor UPower is usable but acpid
// still runs.
type AcpiSource struct {
	errFactory errors.Factory
	reader     *power.StatusReader
}

func NewAcpiSource(reader *power.StatusReader) *AcpiSource {
	return &AcpiSource{
		errFactory: errors.New(),
		reader:     reader,
	}
}

func (s *AcpiSource) Kind() string {
	return "acpi"
}

func (s *AcpiSource) Start(ctx context.Context, sink chan<- power.Observation) (*Handle, error) {
	if _, err := exec.LookPath(acpiListenBinary); err != nil {
		return nil, s.errFactory.WithMessage(errors.ErrBackendInit, "acpi_listen not found")
	}

	workerCtx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(workerCtx, acpiListenBinary)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()

		return nil, s.errFactory.Wrap(errors.ErrBackendInit, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()

		return nil, s.errFactory.Wrap(errors.ErrBackendInit, err)
	}

	var running atomic.Bool
	running.Store(true)

	go s.run(workerCtx, sink, cmd, stdout, &running)

	return &Handle{
		kind:  s.Kind(),
		alive: running.Load,
		stop:  cancel,
	}, nil
}

func (s *AcpiSource) run(ctx context.Context, sink chan<- power.Observation, cmd *exec.Cmd, stdout io.Reader, running *atomic.Bool) {
	defer recoverWorker(s.Kind())
	defer running.Store(false)

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if !isPowerEvent(line) {
			continue
		}

		logger.Debug().Str("event", line).Msg("ACPI power event")
		deliver(sink, s.reader.Read(ctx))
	}

	err := cmd.Wait()
	if ctx.Err() == nil {
		logger.Warn().AnErr("error", err).Msg("acpi_listen exited unexpectedly")
	}
}

func isPowerEvent(line string) bool {
	lower := strings.ToLower(line)

	return strings.Contains(lower, "battery") ||
		strings.Contains(lower, "ac_adapter") ||
		strings.Contains(lower, "power")
}
