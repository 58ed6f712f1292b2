package main

import (
	"testing"

	"defectvision/internal/config"

	"github.com/stretchr/testify/require"
)

func TestResolveBatchDir(t *testing.T) {
	cfg := config.NewDefaultConfig()

	require.Equal(t, config.DefaultBatchDir, resolveBatchDir("", cfg))
	require.Equal(t, "scans", resolveBatchDir("scans", cfg))

	cfg.BatchDir = "data/incoming"
	require.Equal(t, "data/incoming", resolveBatchDir("", cfg))
}
