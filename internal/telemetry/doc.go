// Package telemetry builds the OpenTelemetry tracer and meter providers for
// refacta and exports them over OTLP (grpc or http/protobuf).
//
// Providers are installed globally, so the engine and router spans
// ("engine.execute", "engine.specialist", "router.route") and the engine's
// run instruments reach the collector without further wiring:
//
//	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// Telemetry failures do not fail the command. A provider that cannot be built
// leaves the instance degraded and the global no-op providers in place.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
