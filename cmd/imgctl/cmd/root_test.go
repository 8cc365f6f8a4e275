package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandsAgainstRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("STORE_DRIVER", "redis")
	t.Setenv("REDIS_URL", "redis://"+mr.Addr()+"/0")
	t.Setenv("KEY_PREFIX", "uploads")

	blob := `{"id":"a1","filename":"cat.png","mimeType":"image/png","date":"2026-01-02T03:04:05.000Z","data":"AQID"}`
	require.NoError(t, mr.Set("uploads:images:a1", blob))
	_, err := mr.Push("uploads:list", `{"id":"a1","filename":"cat.png"}`, `{"id":"gone","filename":"old.png"}`)
	require.NoError(t, err)

	out, err := runCommand(t, "reconcile")
	require.NoError(t, err)
	assert.Equal(t, "removed 1 stale entries\n", out)

	out, err = runCommand(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "a1")
	assert.Contains(t, out, "cat.png")
	assert.NotContains(t, out, "old.png")

	out, err = runCommand(t, "delete", "a1")
	require.NoError(t, err)
	assert.Equal(t, "deleted a1\n", out)
	assert.False(t, mr.Exists("uploads:images:a1"))

	_, err = runCommand(t, "delete", "a1")
	assert.Error(t, err)
}

func TestUnknownDriver(t *testing.T) {
	_, err := runCommand(t, "reconcile", "--driver", "floppy")
	assert.ErrorContains(t, err, "unknown store driver")
	require.NoError(t, rootCmd.PersistentFlags().Set("driver", ""))
}
