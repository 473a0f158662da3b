/*
Package api serves the Lanlink control surface over local HTTP.

The UI layer and the lanlink CLI drive the supervisor through this API. Every
/v1 route replies with a JSON envelope holding either a result or an error
string:

	{"result": true}
	{"error": "supervisor: worker is not running: edge"}

# Routes

	POST /v1/workers/{name}/start    start a worker (params from JSON body or query)
	POST /v1/workers/{name}/stop     stop a worker
	GET  /v1/workers/{name}          running flag and PID
	GET  /v1/workers/{name}/health   worker health check result
	GET  /v1/edge/status             edge process and management port liveness
	GET  /v1/edge/address            overlay address of the edge
	GET  /v1/edge/members            other members of the configured group
	GET  /v1/edge/group              community the edge has joined
	POST /v1/nat/detect              classify the host NAT
	GET  /v1/history/runs            worker run history (?worker=&limit=)
	GET  /v1/history/nat             NAT classification history (?limit=)

The unversioned /health, /ready, /livez and /metrics endpoints come from the
metrics package.

# Status codes

Domain errors map onto HTTP codes:

	404  unknown worker
	400  missing parameter or malformed request
	409  worker not running
	503  unresponsive edge, no member server or no edge server
	504  management port or request timeout
	500  anything else

# Usage

	srv := api.NewServer(sup)
	go func() {
		if err := srv.Start(cfg.API.Addr); err != nil {
			log.Logger.Error().Err(err).Msg("API server failed")
		}
	}()
	defer srv.Shutdown(context.Background())

The listener is meant for localhost only; there is no authentication.
*/
package api
