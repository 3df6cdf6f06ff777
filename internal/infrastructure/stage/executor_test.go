package stage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/entity"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/port"
)

func TestRun_CapturesStdoutAndStderr(t *testing.T) {
	e := NewExecutor(zerolog.Nop())
	inv, err := e.Run(context.Background(), port.StageSpec{
		Name:    "echo",
		Command: "/bin/sh",
		Args:    []string{"-c", "echo out; echo err >&2"},
		WorkDir: t.TempDir(),
	})
	require.NoError(t, err)
	require.Equal(t, entity.StageOK, inv.Status)
	require.Equal(t, 0, inv.ExitCode)
	require.Equal(t, "out", inv.Stdout)
	require.Equal(t, "err", inv.Stderr)
}

func TestRun_NonZeroExitReturnsExecutionError(t *testing.T) {
	e := NewExecutor(zerolog.Nop())
	_, err := e.Run(context.Background(), port.StageSpec{
		Name:    "boom",
		Command: "/bin/sh",
		Args:    []string{"-c", "echo partial; echo broken >&2; exit 3"},
		WorkDir: t.TempDir(),
	})
	require.Error(t, err)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	require.Equal(t, "boom", execErr.Invocation.Stage)
	require.Equal(t, 3, execErr.Invocation.ExitCode)
	require.Equal(t, entity.StageFailed, execErr.Invocation.Status)
	require.Equal(t, "partial", execErr.Invocation.Stdout)
	require.Equal(t, "broken", execErr.Invocation.Stderr)
}

func TestRun_MissingBinaryReportsMinusOne(t *testing.T) {
	e := NewExecutor(zerolog.Nop())
	_, err := e.Run(context.Background(), port.StageSpec{
		Name:    "ghost",
		Command: "/nonexistent/definitely-not-a-binary",
		WorkDir: t.TempDir(),
	})
	require.Error(t, err)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	require.Equal(t, -1, execErr.Invocation.ExitCode)
	require.NotEmpty(t, execErr.Invocation.Stderr)
}

func TestRun_TimeoutKillsProcess(t *testing.T) {
	e := NewExecutor(zerolog.Nop())
	start := time.Now()
	_, err := e.Run(context.Background(), port.StageSpec{
		Name:    "sleeper",
		Command: "/bin/sh",
		Args:    []string{"-c", "sleep 10"},
		WorkDir: t.TempDir(),
		Timeout: 200 * time.Millisecond,
	})
	require.Error(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
}
