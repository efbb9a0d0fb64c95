package power

import (
	"context"

	"codeberg.org/mutker/battguard/internal/errors"
	"codeberg.org/mutker/battguard/internal/logger"
	"github.com/godbus/dbus/v5"
)

const (
	upowerService   = "org.freedesktop.UPower"
	upowerPath      = dbus.ObjectPath("/org/freedesktop/UPower")
	deviceInterface = "org.freedesktop.UPower.Device"
	propsGetMethod  = "org.freedesktop.DBus.Properties.Get"
)

// UPower device types
const (
	deviceTypeACAdapter uint32 = 1
	deviceTypeBattery   uint32 = 2
)

// UPower device states
const (
	deviceStateCharging         uint32 = 1
	deviceStateDischarging      uint32 = 2
	deviceStateEmpty            uint32 = 3
	deviceStateFullyCharged     uint32 = 4
	deviceStatePendingCharge    uint32 = 5
	deviceStatePendingDischarge uint32 = 6
)

// UPowerReader queries battery and adapter state from the UPower service
// over the system bus. Construction fails when the bus or the service is
// unreachable; callers then rely on the sysfs path instead.
type UPowerReader struct {
	conn        *dbus.Conn
	batteryPath dbus.ObjectPath
	adapterPath dbus.ObjectPath
}

// NewUPowerReader connects to the system bus and locates the first battery
// and AC-adapter devices. The context bounds every bus operation so a hung
// or absent service cannot stall startup.
func NewUPowerReader(ctx context.Context) (*UPowerReader, error) {
	errFactory := errors.New()

	conn, err := connectSystemBus(ctx)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrUnavailable, err)
	}

	reader := &UPowerReader{conn: conn}
	if err := reader.findDevices(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	if reader.batteryPath == "" {
		conn.Close()
		return nil, errFactory.New(errors.ErrNoBattery)
	}

	logger.Debug().
		Str("battery", string(reader.batteryPath)).
		Str("adapter", string(reader.adapterPath)).
		Msg("UPower devices located")

	return reader, nil
}

// Conn exposes the underlying bus connection for signal subscribers.
func (u *UPowerReader) Conn() *dbus.Conn {
	return u.conn
}

// BatteryPath returns the D-Bus object path of the monitored battery.
func (u *UPowerReader) BatteryPath() dbus.ObjectPath {
	return u.batteryPath
}

// AdapterPath returns the adapter object path, empty when none was found.
func (u *UPowerReader) AdapterPath() dbus.ObjectPath {
	return u.adapterPath
}

// Read returns the current battery percentage and AC status. When no
// adapter device exists, AC state is inferred from the battery state.
func (u *UPowerReader) Read(ctx context.Context) (int, ACStatus, error) {
	errFactory := errors.New()

	var percentVariant dbus.Variant
	battery := u.conn.Object(upowerService, u.batteryPath)
	err := battery.CallWithContext(ctx, propsGetMethod, 0, deviceInterface, "Percentage").
		Store(&percentVariant)
	if err != nil {
		return 0, ACUnknown, errFactory.Wrap(errors.ErrReadStatus, err)
	}
	percentage, ok := percentVariant.Value().(float64)
	if !ok {
		return 0, ACUnknown, errFactory.WithMessage(errors.ErrReadStatus,
			"unexpected Percentage property type")
	}

	ac := ACUnknown
	if u.adapterPath != "" {
		if online, err := u.AdapterOnline(ctx); err == nil {
			ac = online
		}
	}
	if ac == ACUnknown {
		var stateVariant dbus.Variant
		err := battery.CallWithContext(ctx, propsGetMethod, 0, deviceInterface, "State").
			Store(&stateVariant)
		if err == nil {
			if state, ok := stateVariant.Value().(uint32); ok {
				ac = acFromBatteryState(state)
			}
		}
	}

	return int(percentage + 0.5), ac, nil
}

// AdapterOnline reads only the adapter's Online flag. This is the fast
// path used on adapter signals, where the battery percentage may stay
// cached.
func (u *UPowerReader) AdapterOnline(ctx context.Context) (ACStatus, error) {
	errFactory := errors.New()
	if u.adapterPath == "" {
		return ACUnknown, errFactory.New(errors.ErrNoPowerSupply)
	}

	var onlineVariant dbus.Variant
	adapter := u.conn.Object(upowerService, u.adapterPath)
	err := adapter.CallWithContext(ctx, propsGetMethod, 0, deviceInterface, "Online").
		Store(&onlineVariant)
	if err != nil {
		return ACUnknown, errFactory.Wrap(errors.ErrReadStatus, err)
	}

	online, ok := onlineVariant.Value().(bool)
	if !ok {
		return ACUnknown, errFactory.WithMessage(errors.ErrReadStatus,
			"unexpected Online property type")
	}
	if online {
		return ACConnected, nil
	}

	return ACDisconnected, nil
}

// Close releases the bus connection.
func (u *UPowerReader) Close() error {
	return u.conn.Close()
}

func (u *UPowerReader) findDevices(ctx context.Context) error {
	errFactory := errors.New()

	var paths []dbus.ObjectPath
	upower := u.conn.Object(upowerService, upowerPath)
	err := upower.CallWithContext(ctx, upowerService+".EnumerateDevices", 0).Store(&paths)
	if err != nil {
		return errFactory.Wrap(errors.ErrUnavailable, err)
	}

	for _, path := range paths {
		var typeVariant dbus.Variant
		device := u.conn.Object(upowerService, path)
		err := device.CallWithContext(ctx, propsGetMethod, 0, deviceInterface, "Type").
			Store(&typeVariant)
		if err != nil {
			continue
		}
		deviceType, ok := typeVariant.Value().(uint32)
		if !ok {
			continue
		}

		switch deviceType {
		case deviceTypeBattery:
			if u.batteryPath == "" {
				u.batteryPath = path
			}
		case deviceTypeACAdapter:
			if u.adapterPath == "" {
				u.adapterPath = path
			}
		}

		if u.batteryPath != "" && u.adapterPath != "" {
			break
		}
	}

	return nil
}

func acFromBatteryState(state uint32) ACStatus {
	switch state {
	case deviceStateCharging, deviceStateFullyCharged, deviceStatePendingCharge:
		return ACConnected
	case deviceStateDischarging, deviceStateEmpty, deviceStatePendingDischarge:
		return ACDisconnected
	default:
		return ACUnknown
	}
}

// connectSystemBus dials the system bus without letting a hung daemon
// block startup past the context deadline.
func connectSystemBus(ctx context.Context) (*dbus.Conn, error) {
	type result struct {
		conn *dbus.Conn
		err  error
	}

	ch := make(chan result, 1)
	go func() {
		conn, err := dbus.ConnectSystemBus()
		ch <- result{conn, err}
	}()

	select {
	case res := <-ch:
		return res.conn, res.err
	case <-ctx.Done():
		go func() {
			// Close the late connection if the dial eventually succeeds.
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()

		return nil, ctx.Err()
	}
}
