package brightness

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"codeberg.org/mutker/battguard/internal/errors"
	"codeberg.org/mutker/battguard/internal/logger"
)

type method int

const (
	methodNone method = iota
	methodBrightnessctl
	methodLight
	methodXbacklight
	methodSysfs
)

func (m method) String() string {
	switch m {
	case methodBrightnessctl:
		return "brightnessctl"
	case methodLight:
		return "light"
	case methodXbacklight:
		return "xbacklight"
	case methodSysfs:
		return "sysfs"
	default:
		return "none"
	}
}

const backlightRoot = "/sys/class/backlight"

// Controller applies brightness levels through the first available backend,
// probed once at construction: brightnessctl, light, xbacklight, then raw
// sysfs writes.
type Controller struct {
	errFactory errors.Factory
	method     method
	sysfsDir   string
	run        func(ctx context.Context, name string, args ...string) (string, error)
	lastLevel  int
}

// NewController probes the host for a usable backlight backend. A controller
// is always returned; when no backend exists Set becomes a no-op that
// reports ErrBrightnessFailed.
func NewController() *Controller {
	c := &Controller{
		errFactory: errors.New(),
		run:        runCommand,
		lastLevel:  -1,
	}
	c.method, c.sysfsDir = detect(backlightRoot)

	logger.Debug().Str("method", c.method.String()).Msg("Brightness backend selected")

	return c
}

func newControllerWith(m method, sysfsDir string, run func(context.Context, string, ...string) (string, error)) *Controller {
	return &Controller{
		errFactory: errors.New(),
		method:     m,
		sysfsDir:   sysfsDir,
		run:        run,
		lastLevel:  -1,
	}
}

func detect(sysfsRoot string) (method, string) {
	for _, tool := range []struct {
		name string
		m    method
	}{
		{"brightnessctl", methodBrightnessctl},
		{"light", methodLight},
		{"xbacklight", methodXbacklight},
	} {
		if _, err := exec.LookPath(tool.name); err == nil {
			return tool.m, ""
		}
	}

	if dir := findBacklightDir(sysfsRoot); dir != "" {
		return methodSysfs, dir
	}

	return methodNone, ""
}

// findBacklightDir prefers the native GPU backlight interfaces over the
// generic ACPI one when a machine exposes both.
func findBacklightDir(root string) string {
	entries, err := os.ReadDir(root)
	if err != nil || len(entries) == 0 {
		return ""
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, prefix := range []string{"intel_backlight", "amdgpu_bl", "acpi_video"} {
		for _, name := range names {
			if strings.HasPrefix(name, prefix) {
				return filepath.Join(root, name)
			}
		}
	}

	return filepath.Join(root, names[0])
}

// Available reports whether any backend was found.
func (c *Controller) Available() bool {
	return c.method != methodNone
}

// Set applies the given brightness percentage. Repeated calls with the same
// level are skipped.
func (c *Controller) Set(ctx context.Context, level int) error {
	if level < 0 {
		level = 0
	} else if level > 100 {
		level = 100
	}

	if level == c.lastLevel {
		return nil
	}

	var err error
	switch c.method {
	case methodBrightnessctl:
		_, err = c.run(ctx, "brightnessctl", "set", fmt.Sprintf("%d%%", level))
	case methodLight:
		_, err = c.run(ctx, "light", "-S", strconv.Itoa(level))
	case methodXbacklight:
		_, err = c.run(ctx, "xbacklight", "-set", strconv.Itoa(level))
	case methodSysfs:
		err = c.writeSysfs(level)
	default:
		return c.errFactory.New(errors.ErrBrightnessFailed)
	}
	if err != nil {
		return c.errFactory.Wrap(errors.ErrBrightnessFailed, err)
	}

	c.lastLevel = level

	return nil
}

// Current reads back the brightness as a percentage.
func (c *Controller) Current(ctx context.Context) (int, error) {
	switch c.method {
	case methodBrightnessctl:
		cur, err := c.runInt(ctx, "brightnessctl", "get")
		if err != nil {
			return 0, err
		}
		max, err := c.runInt(ctx, "brightnessctl", "max")
		if err != nil {
			return 0, err
		}
		if max <= 0 {
			return 0, c.errFactory.New(errors.ErrBrightnessFailed)
		}

		return cur * 100 / max, nil
	case methodLight:
		out, err := c.run(ctx, "light", "-G")
		if err != nil {
			return 0, c.errFactory.Wrap(errors.ErrBrightnessFailed, err)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
		if err != nil {
			return 0, c.errFactory.Wrap(errors.ErrBrightnessFailed, err)
		}

		return int(f + 0.5), nil
	case methodXbacklight:
		out, err := c.run(ctx, "xbacklight", "-get")
		if err != nil {
			return 0, c.errFactory.Wrap(errors.ErrBrightnessFailed, err)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
		if err != nil {
			return 0, c.errFactory.Wrap(errors.ErrBrightnessFailed, err)
		}

		return int(f + 0.5), nil
	case methodSysfs:
		return c.readSysfs()
	default:
		return 0, c.errFactory.New(errors.ErrBrightnessFailed)
	}
}

func (c *Controller) runInt(ctx context.Context, name string, args ...string) (int, error) {
	out, err := c.run(ctx, name, args...)
	if err != nil {
		return 0, c.errFactory.Wrap(errors.ErrBrightnessFailed, err)
	}

	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, c.errFactory.Wrap(errors.ErrBrightnessFailed, err)
	}

	return n, nil
}

func (c *Controller) writeSysfs(level int) error {
	max, err := readIntFile(filepath.Join(c.sysfsDir, "max_brightness"))
	if err != nil {
		return err
	}

	raw := (level*max + 50) / 100

	return os.WriteFile(filepath.Join(c.sysfsDir, "brightness"), []byte(strconv.Itoa(raw)), 0o644)
}

func (c *Controller) readSysfs() (int, error) {
	max, err := readIntFile(filepath.Join(c.sysfsDir, "max_brightness"))
	if err != nil {
		return 0, c.errFactory.Wrap(errors.ErrBrightnessFailed, err)
	}
	if max <= 0 {
		return 0, c.errFactory.New(errors.ErrBrightnessFailed)
	}

	cur, err := readIntFile(filepath.Join(c.sysfsDir, "brightness"))
	if err != nil {
		return 0, c.errFactory.Wrap(errors.ErrBrightnessFailed, err)
	}

	return cur * 100 / max, nil
}

func readIntFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()

	return string(out), err
}
