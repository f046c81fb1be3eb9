package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sendcode_nexus/internal/remote/remotetest"
	"sendcode_nexus/internal/shared/types"
	"sendcode_nexus/proxypool"
	"sendcode_nexus/proxypool/model"
)

func testConfig(t *testing.T, mode, proxies string) *types.Config {
	t.Helper()
	dir := t.TempDir()
	proxiesPath := filepath.Join(dir, "proxies.txt")
	require.NoError(t, os.WriteFile(proxiesPath, []byte(proxies), 0644))

	cfg := types.DefaultConfig()
	cfg.CommonConf.Mode = mode
	cfg.FilesConf.ProxiesFile = proxiesPath
	cfg.FilesConf.OkProxiesFile = filepath.Join(dir, "ok_proxies.txt")
	cfg.TrialConf.StaggerDelay = 0
	cfg.TrialConf.ConnectTimeout = 100 * time.Millisecond
	cfg.TrialConf.AuthCheckTimeout = 50 * time.Millisecond
	cfg.TrialConf.SendTimeout = 100 * time.Millisecond
	cfg.LocalConf.WebPort = 0
	return cfg
}

func TestRunOnce_BatchModeSkipsAuthorizedSessions(t *testing.T) {
	cfg := testConfig(t, types.ModeBatch, "10.0.0.1:1080\n10.0.0.2:1080\n")
	conn := remotetest.NewConnector(remotetest.Behavior{})
	conn.Set(model.Endpoint{Host: "10.0.0.2", Port: 1080}, remotetest.Behavior{Authorized: true})

	s := NewWithConnector(cfg, conn, nil)
	result, err := s.RunOnce(context.Background(), "+79990001122")
	require.NoError(t, err)
	require.Equal(t, 2, result.Attempted)
	require.Equal(t, []model.Endpoint{{Host: "10.0.0.1", Port: 1080}}, result.Succeeded)
	require.Equal(t, 1, result.Tally[model.OutcomeAlreadyAuthorized])

	data, err := os.ReadFile(cfg.FilesConf.OkProxiesFile)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1:1080", strings.TrimSpace(string(data)))
}

func TestRunOnce_SingleModeSendsWithoutAuthCheck(t *testing.T) {
	cfg := testConfig(t, types.ModeSingle, "10.0.0.1:1080\n10.0.0.2:1080\n")
	conn := remotetest.NewConnector(remotetest.Behavior{Authorized: true})

	s := NewWithConnector(cfg, conn, nil)
	result, err := s.RunOnce(context.Background(), "+79990001122")
	require.NoError(t, err)
	require.Equal(t, 1, result.Attempted)
	require.Len(t, result.Succeeded, 1)
	require.Equal(t, []string{"+79990001122"}, conn.Sent(model.Endpoint{Host: "10.0.0.1", Port: 1080}))
	require.Zero(t, conn.Connects(model.Endpoint{Host: "10.0.0.2", Port: 1080}))
}

func TestRunOnce_InvalidPhone(t *testing.T) {
	cfg := testConfig(t, types.ModeBatch, "10.0.0.1:1080\n")
	s := NewWithConnector(cfg, remotetest.NewConnector(remotetest.Behavior{}), nil)

	_, err := s.RunOnce(context.Background(), "12345")
	require.True(t, errors.Is(err, manager.ErrInvalidTarget))
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	cfg := testConfig(t, types.ModeBatch, "")
	s := NewWithConnector(cfg, remotetest.NewConnector(remotetest.Behavior{}), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
