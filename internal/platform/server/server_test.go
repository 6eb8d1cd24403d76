package server_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-vitals-service/internal/platform/server"
)

func TestBaseServer_Lifecycle(t *testing.T) {
	s := server.NewBaseServer(zerolog.Nop(), "127.0.0.1:0")
	s.Mux().HandleFunc("GET /hello", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	ready := make(chan struct{})
	s.SetReadyChannel(ready)

	errChan := make(chan error, 1)
	go func() { errChan <- s.Start() }()

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start listening")
	}
	base := fmt.Sprintf("http://%s", s.Addr())

	get := func(path string) int {
		resp, err := http.Get(base + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, get("/healthz"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz"))
	s.SetReady(true)
	assert.Equal(t, http.StatusOK, get("/readyz"))
	assert.Equal(t, http.StatusTeapot, get("/hello"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.True(t, errors.Is(<-errChan, http.ErrServerClosed))
}

func TestBaseServer_ListenFailure(t *testing.T) {
	s := server.NewBaseServer(zerolog.Nop(), "not-an-address")
	assert.Error(t, s.Start())
}
