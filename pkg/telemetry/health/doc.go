// Package health serves liveness and readiness probes for the warden
// process.
//
// Liveness answers 200 while the process runs. Readiness runs every
// registered component check concurrently, each bounded by the configured
// check timeout, and answers 503 when any of them fails:
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCheck("storage", store.Ping)
//	checker.RegisterCheck("scheduler", health.Flag("scheduler", sched.IsRunning))
//	checker.Register(mux, &cfg.Telemetry.Health, health.VersionInfo{Version: version})
//
// Readiness body:
//
//	{
//	    "status": "degraded",
//	    "checks": {
//	        "storage": {"status": "ok", "duration_ms": 2},
//	        "scheduler": {"status": "unhealthy", "message": "scheduler not running"}
//	    },
//	    "timestamp": "2026-03-02T10:30:00Z"
//	}
package health
