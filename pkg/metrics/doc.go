/*
Package metrics exposes Lanlink's Prometheus metrics and component health.

All collectors are registered on the default registry at init and served by
Handler at /metrics:

	lanlink_workers_running{worker}                       gauge, 1 while a worker runs
	lanlink_worker_starts_total{worker,result}            start attempts, result ok|error
	lanlink_worker_exits_total{worker}                    exits nobody asked for
	lanlink_control_requests_total{command,result}        management port requests
	lanlink_control_request_duration_seconds{command}     management port latency
	lanlink_control_stale_datagrams_total                 replies with a foreign tag
	lanlink_nat_detections_total{result}                  NAT classifications by type
	lanlink_nat_detection_duration_seconds                full classification time
	lanlink_api_requests_total{route,status}              local API requests
	lanlink_api_request_duration_seconds{route}           local API latency

The worker gauge is set when workers start and exit; Collector also polls
the registry so it stays correct for workers that never started.

# Health

Components report their state with RegisterComponent and UpdateComponent.
The supervisor, store and api components are critical: /ready waits for all
three, and an unhealthy one makes /health answer 503. Workers are tracked as
components too, but a crashed worker only degrades /health.

	metrics.RegisterComponent("store", true, dataDir)
	metrics.UpdateComponent("edge", false, "exit status 1")

	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/livez", metrics.LivenessHandler())

# Timing

	timer := metrics.NewTimer()
	rows, err := call()
	timer.ObserveDurationVec(metrics.ControlRequestDuration, "info")
*/
package metrics
