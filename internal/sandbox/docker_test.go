package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/models"
	dockerrun "github.com/noah-isme/gema-grader/pkg/docker"
)

type stubRunner struct {
	outcome dockerrun.Outcome
	err     error
	spec    dockerrun.Spec
	source  string
}

func (s *stubRunner) Run(ctx context.Context, spec dockerrun.Spec) (dockerrun.Outcome, error) {
	s.spec = spec
	if data, err := os.ReadFile(filepath.Join(spec.Workspace, "main.py")); err == nil {
		s.source = string(data)
	}
	return s.outcome, s.err
}

func TestDockerExecutorRunsSourceWithStdin(t *testing.T) {
	runner := &stubRunner{outcome: dockerrun.Outcome{Stdout: "42\n", Duration: 15 * time.Millisecond}}
	executor := NewDockerExecutor(runner, DockerConfig{WorkspaceRoot: t.TempDir(), Logger: zerolog.Nop()})

	result := executor.Execute(context.Background(), Request{
		Code:        "print(input())",
		Language:    models.LanguagePython,
		Input:       "42",
		TimeLimitMs: 1000,
	})

	require.True(t, result.Success)
	require.Equal(t, "42\n", result.Stdout)
	require.Equal(t, "print(input())", runner.source)
	require.Equal(t, "42", runner.spec.Stdin)
	require.Equal(t, "python:3.11-alpine", runner.spec.Image)
	require.Equal(t, []string{"sh", "-c", "python main.py"}, runner.spec.Cmd)
	require.Equal(t, time.Second+DefaultTimeoutBuffer, runner.spec.Timeout)
	require.Equal(t, int64(256*1024*1024), runner.spec.MemoryLimitBytes)

	_, err := os.Stat(runner.spec.Workspace)
	require.True(t, os.IsNotExist(err))
}

func TestDockerExecutorNormalisesRunnerErrors(t *testing.T) {
	cases := map[string]struct {
		err    error
		stderr string
	}{
		"timeout": {err: dockerrun.ErrTimedOut, stderr: "code execution timed out"},
		"engine":  {err: errors.New("container create: no such image"), stderr: "container create: no such image"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			executor := NewDockerExecutor(&stubRunner{err: tc.err}, DockerConfig{WorkspaceRoot: t.TempDir(), Logger: zerolog.Nop()})

			result := executor.Execute(context.Background(), Request{Code: "print(1)", Language: models.LanguagePython})

			require.False(t, result.Success)
			require.Equal(t, tc.stderr, result.Stderr)
			require.Equal(t, -1, result.ExitCode)
			require.Zero(t, result.ExecutionTimeMs)
		})
	}
}
