package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandListsSubcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"migrate", "seed", "promote", "demote", "ban", "unban", "grant-coins", "expire-queue", "ws-probe"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestMigrateDownRejectsBadVersion(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"migrate", "down", "abc"})
	root.SetOut(&bytes.Buffer{})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid version")
}

func TestGrantCoinsRejectsBadAmount(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"grant-coins", "alice", "lots"})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "invalid amount"))
}

func TestWSProbeRequiresCredentials(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"ws-probe", "--duration", "1s"})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--token or --login")
}
