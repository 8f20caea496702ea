// Package telemetry wires OpenTelemetry tracing and metrics for the tasking store.
//
// Init returns a Provider whose Tracer and Meter are handed to the stores.
// When telemetry is disabled the provider is backed by no-op implementations,
// so instrumented code never needs to check whether it is enabled.
//
// Usage:
//
//	provider, err := telemetry.Init(ctx, cfg.Telemetry, version)
//	if err != nil {
//	    return err
//	}
//	defer provider.Shutdown(ctx)
//
//	metrics, err := telemetry.NewMetrics(provider.Meter)
package telemetry
