package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/cuemby/lanlink/pkg/supervisor"
)

var errBadRequest = errors.New("api: bad request")

// maxBodyBytes bounds start request bodies
const maxBodyBytes = 64 << 10

// startParams merges a JSON object body with query parameters. Query
// values win.
func startParams(r *http.Request) (supervisor.Params, error) {
	params := supervisor.Params{}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			return nil, fmt.Errorf("%w: body must be a JSON object of strings: %v", errBadRequest, err)
		}
		if params == nil {
			params = supervisor.Params{}
		}
	}

	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[len(values)-1]
		}
	}
	return params, nil
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("%w: invalid limit %q", errBadRequest, raw)
	}
	return limit, nil
}

func (s *Server) startWorker(r *http.Request) (any, error) {
	params, err := startParams(r)
	if err != nil {
		return nil, err
	}
	return s.ctrl.Start(r.PathValue("name"), params)
}

func (s *Server) stopWorker(r *http.Request) (any, error) {
	return s.ctrl.Stop(r.PathValue("name"))
}

func (s *Server) workerStatus(r *http.Request) (any, error) {
	return s.ctrl.WorkerStatus(r.PathValue("name"))
}

func (s *Server) workerHealth(r *http.Request) (any, error) {
	return s.ctrl.Health(r.Context(), r.PathValue("name"))
}

func (s *Server) edgeStatus(r *http.Request) (any, error) {
	return s.ctrl.EdgeStatus(r.Context())
}

func (s *Server) edgeAddress(r *http.Request) (any, error) {
	return s.ctrl.VirtualAddress(r.Context())
}

func (s *Server) edgeMembers(r *http.Request) (any, error) {
	return s.ctrl.Members(r.Context())
}

func (s *Server) edgeGroup(r *http.Request) (any, error) {
	return s.ctrl.CurrentGroup(r.Context())
}

func (s *Server) detectNAT(r *http.Request) (any, error) {
	result, err := s.ctrl.DetectNAT(r.Context())
	if err != nil {
		return nil, err
	}
	return newNATResult(result), nil
}

func (s *Server) runHistory(r *http.Request) (any, error) {
	limit, err := limitParam(r)
	if err != nil {
		return nil, err
	}
	return s.ctrl.Runs(r.URL.Query().Get("worker"), limit)
}

func (s *Server) natHistory(r *http.Request) (any, error) {
	limit, err := limitParam(r)
	if err != nil {
		return nil, err
	}
	return s.ctrl.NATHistory(limit)
}
