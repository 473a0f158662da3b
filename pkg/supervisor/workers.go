package supervisor

import (
	"fmt"
	"strconv"

	"github.com/cuemby/lanlink/pkg/config"
	"github.com/cuemby/lanlink/pkg/types"
)

// Params carries per-start arguments from the caller
type Params map[string]string

// ParamPath is the directory served by the file server
const ParamPath = "path"

// launchSpec is the executable and argument list for one worker start
type launchSpec struct {
	path string
	args []string
}

func buildLaunchSpec(cfg *config.Config, name types.WorkerName, params Params) (*launchSpec, error) {
	path, err := cfg.BinaryPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, name)
	}

	switch name {
	case types.WorkerEdge:
		return &launchSpec{path: path, args: edgeArgs(cfg.Edge)}, nil

	case types.WorkerBroadcast:
		return &launchSpec{path: path, args: []string{"run"}}, nil

	case types.WorkerFileServer:
		dir := params[ParamPath]
		if dir == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingParam, ParamPath)
		}
		return &launchSpec{
			path: path,
			args: []string{dir, "-p", strconv.Itoa(cfg.FileServer.Port), "-H", "-r", "-D", "-F"},
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, name)
	}
}

func edgeArgs(edge config.EdgeConfig) []string {
	port := strconv.Itoa(edge.Port)
	args := []string{
		"-c", edge.Group,
		"-l", edge.Server + ":" + port,
		"-I", edge.Identification,
		"-E",
		"-p", port,
		"-t", strconv.Itoa(edge.ControlPort),
	}
	if edge.AuthKey != "" {
		args = append(args, "--management-password", edge.AuthKey)
	}
	return args
}
