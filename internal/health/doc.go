// Package health provides composable readiness probes for the preview server.
//
// [CheckFunc] adapts a plain function into a [Probe] and [All] combines
// probes. [ShutdownGate] fails readiness once shutdown has begun so a load
// balancer or orchestrator stops routing before the listener closes.
package health
