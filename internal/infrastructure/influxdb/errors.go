package influxdb

import "errors"

// Sentinel errors for InfluxDB operations.
var (
	// ErrNotConnected indicates the client is closed or was never connected.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed wraps batch errors reported by the server.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrDisabled indicates the integration is disabled in configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
