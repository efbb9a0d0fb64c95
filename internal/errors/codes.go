package errors

// Common error codes
const (
	// System errors
	ErrInternal       ErrorCode = "internal_error"
	ErrUnavailable    ErrorCode = "service_unavailable"
	ErrAlreadyRunning ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"
	ErrInvalidInterval ErrorCode = "invalid_interval"

	// Initialization errors
	ErrLockFailed ErrorCode = "lock_file_failed"
	ErrNoBattery  ErrorCode = "no_battery_found"

	// Power status errors
	ErrReadStatus    ErrorCode = "read_power_status_failed"
	ErrNoPowerSupply ErrorCode = "no_power_supply_device"

	// Event backend errors
	ErrBackendInit ErrorCode = "backend_init_failed"
	ErrBackendDied ErrorCode = "backend_died"

	// Side-effect errors
	ErrNotifyFailed     ErrorCode = "send_notification_failed"
	ErrBrightnessFailed ErrorCode = "set_brightness_failed"
	ErrMainLoop         ErrorCode = "main_loop_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:         "Internal error occurred",
	ErrUnavailable:      "Service unavailable",
	ErrAlreadyRunning:   "Another instance is already running",
	ErrInvalidConfig:    "Invalid configuration",
	ErrBindFlags:        "Failed to bind flags",
	ErrReadConfig:       "Failed to read config file",
	ErrInvalidLogLevel:  "Invalid log level",
	ErrInvalidInterval:  "Invalid interval value",
	ErrLockFailed:       "Failed to create lock file",
	ErrNoBattery:        "No battery detected on this system",
	ErrReadStatus:       "Failed to read power status",
	ErrNoPowerSupply:    "No power supply device found",
	ErrBackendInit:      "Failed to initialize event backend",
	ErrBackendDied:      "Event backend stopped delivering",
	ErrNotifyFailed:     "Failed to send notification",
	ErrBrightnessFailed: "Failed to set brightness",
	ErrMainLoop:         "Error in main loop",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
