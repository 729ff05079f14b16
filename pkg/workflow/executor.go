package workflow

import (
	"fmt"

	"github.com/isceproc/isceproc/pkg/config"
	"github.com/isceproc/isceproc/pkg/isce"
	"github.com/isceproc/isceproc/pkg/runner"
)

// NewExecutor returns the run-file executor called kind. The local runner
// serves the native and runpy executors; remote is required for ssh.
func NewExecutor(kind string, local runner.Runner, remote *runner.Remote, env *isce.Environment, processor, shell string) (runner.RunFileExecutor, error) {
	switch kind {
	case config.ExecutorNative, "":
		return &runner.Native{Runner: local, Shell: shell, Env: env.ChildEnv(processor)}, nil
	case config.ExecutorRunPy:
		if err := env.RequireStack(); err != nil {
			return nil, err
		}
		return &runner.RunPy{Runner: local, Script: env.RunPy(), Env: env.ChildEnv(processor)}, nil
	case config.ExecutorSSH:
		if remote == nil {
			return nil, fmt.Errorf("executor %q requires an ssh section in the config", kind)
		}
		return &runner.SSH{Remote: remote, Script: isce.RemoteRunPy(), Env: isce.RemoteChildEnv(processor)}, nil
	}
	return nil, fmt.Errorf("unknown executor %q, valid executors: native, runpy, ssh", kind)
}
