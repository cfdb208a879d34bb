package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecRunner_CapturesStreamsAndExitCode(t *testing.T) {
	runner := NewRunner()

	res, err := runner.Run(context.Background(), "sh",
		[]string{"-c", "printf out; printf err >&2; exit 3"}, "")
	require.NoError(t, err)
	require.Equal(t, 3, res.ExitCode)
	require.Equal(t, "out", res.Stdout)
	require.Equal(t, "err", res.Stderr)
}

func TestExecRunner_StdinWrittenAndClosed(t *testing.T) {
	runner := NewRunner()

	res, err := runner.Run(context.Background(), "sh", []string{"-c", "cat"}, `{"prompt":"red"}`)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, `{"prompt":"red"}`, res.Stdout)
}

func TestExecRunner_LaunchFailureIsDistinct(t *testing.T) {
	runner := NewRunner()

	_, err := runner.Run(context.Background(), "/definitely/not/a/real/binary", nil, "")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrLaunch)
}
