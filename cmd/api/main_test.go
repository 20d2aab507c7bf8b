package main

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"slotbook/internal/api"
	"slotbook/internal/config"
	"slotbook/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartServersHTTPBindFailureStopsWorkers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zerolog.Nop()

	taken, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer taken.Close()
	port := taken.Addr().(*net.TCPAddr).Port

	cfg := &config.Config{API: config.APIConfig{
		HTTP: config.APIHTTPConfig{Port: port, ShutdownTimeout: time.Second},
		GRPC: config.APIGRPCConfig{Port: 0},
	}}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	sweeper := worker.NewSweeper(&logger, worker.Job{
		Name:     "noop",
		Interval: time.Hour,
		Run:      func(context.Context) (int, error) { return 0, nil },
	})
	sweeper.Start(ctx)

	grpcServer, err := api.NewGRPCServer(cfg.API.GRPC, &logger)
	require.NoError(t, err)
	httpServer := api.NewHTTPServer(cfg.API.HTTP, gin.New(), &logger)

	err = startServers(ctx, grpcServer, httpServer, cfg, &logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf(":%d", port))
	assert.NoError(t, ctx.Err(), "servers returned before any shutdown signal")

	done := make(chan struct{})
	go func() {
		drain(stop, sweeper.Wait)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers still running after drain")
	}
}

func TestDrainRunsEveryWait(t *testing.T) {
	cancelled := false
	var order []string
	drain(func() { cancelled = true },
		func() { order = append(order, "sweeper") },
		func() { order = append(order, "dispatcher") },
	)
	assert.True(t, cancelled)
	assert.Equal(t, []string{"sweeper", "dispatcher"}, order)
}
