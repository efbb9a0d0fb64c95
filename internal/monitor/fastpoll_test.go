package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/battguard/internal/power"
)

func fakePowerSupply(t *testing.T) (string, string) {
	t.Helper()

	root := t.TempDir()
	batDir := filepath.Join(root, "BAT0")
	acDir := filepath.Join(root, "AC0")
	require.NoError(t, os.MkdirAll(batDir, 0o755))
	require.NoError(t, os.MkdirAll(acDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(batDir, "capacity"), []byte("42\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(batDir, "status"), []byte("Discharging\n"), 0o644))

	onlinePath := filepath.Join(acDir, "online")
	require.NoError(t, os.WriteFile(onlinePath, []byte("0\n"), 0o644))

	return root, onlinePath
}

func TestFastPollRequiresOnlineFlag(t *testing.T) {
	root := t.TempDir()
	reader := power.NewStatusReaderWith(nil, power.NewSysfsReaderAt(root))
	src := NewFastPollSource(reader)

	_, err := src.Start(context.Background(), make(chan power.Observation, 1))
	assert.Error(t, err)
}

func TestFastPollPartialThenFullOnFlip(t *testing.T) {
	root, onlinePath := fakePowerSupply(t)
	reader := power.NewStatusReaderWith(nil, power.NewSysfsReaderAt(root))

	// Prime the percentage cache so the partial observation carries it.
	reader.Read(context.Background())

	sink := make(chan power.Observation, sinkBuffer)
	src := NewFastPollSource(reader)

	handle, err := src.Start(context.Background(), sink)
	require.NoError(t, err)
	defer handle.Stop()

	require.True(t, handle.Alive())

	require.NoError(t, os.WriteFile(onlinePath, []byte("1\n"), 0o644))

	var partial power.Observation
	select {
	case partial = <-sink:
	case <-time.After(time.Second):
		t.Fatal("no observation after AC flip")
	}
	assert.Equal(t, power.ACConnected, partial.ACStatus)
	assert.Equal(t, 42, partial.Percent)

	// The background full refresh follows.
	select {
	case full := <-sink:
		assert.Equal(t, 42, full.Percent)
	case <-time.After(time.Second):
		t.Fatal("no full refresh after AC flip")
	}

	// A stable flag produces no further observations.
	select {
	case obs := <-sink:
		t.Fatalf("unexpected observation: %+v", obs)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestFastPollStopsOnCancel(t *testing.T) {
	root, _ := fakePowerSupply(t)
	reader := power.NewStatusReaderWith(nil, power.NewSysfsReaderAt(root))
	src := NewFastPollSource(reader)

	ctx, cancel := context.WithCancel(context.Background())
	handle, err := src.Start(ctx, make(chan power.Observation, 1))
	require.NoError(t, err)

	cancel()

	assert.Eventually(t, func() bool {
		return !handle.Alive()
	}, 5*time.Second, 100*time.Millisecond)
}
