package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagement-tracker/internal/config"
	"github.com/ignite/engagement-tracker/internal/repository/memory"
	svc "github.com/ignite/engagement-tracker/internal/service/tracking"
)

func newTestAPIServer() *Server {
	service := svc.NewService(memory.NewTrackingStore(), "http://t.example.com/track")
	return NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0, ReadTimeoutSeconds: 5, WriteTimeoutSeconds: 5}, Deps{Service: service})
}

func TestServer_ShutdownBeforeServe(t *testing.T) {
	s := newTestAPIServer()

	require.NoError(t, s.Shutdown(context.Background()))
	assert.ErrorIs(t, s.ListenAndServe(), http.ErrServerClosed)
}

func TestServer_ShutdownWhileServing(t *testing.T) {
	s := newTestAPIServer()

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, http.ErrServerClosed), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
