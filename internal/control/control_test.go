package control

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialRoundTripsARequestAndResponse(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "ctl.sock")

	var got Request
	srv, err := Listen(sock, func(req Request) Response {
		got = req
		return Response{OK: true, Result: "reloaded " + req.Module}
	})
	require.NoError(t, err)
	defer srv.Close()

	go srv.Serve()

	resp, err := Dial(sock, Request{Op: "reload", Instance: "net1", Module: "dance"})
	require.NoError(t, err)

	assert.True(t, resp.OK)
	assert.Equal(t, "reloaded dance", resp.Result)
	assert.Equal(t, "reload", got.Op)
	assert.Equal(t, "net1", got.Instance)
}

func TestDialSurfacesHandlerErrors(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "ctl.sock")

	srv, err := Listen(sock, func(req Request) Response {
		return Response{OK: false, Error: "unknown instance"}
	})
	require.NoError(t, err)
	defer srv.Close()

	go srv.Serve()

	resp, err := Dial(sock, Request{Op: "reload", Instance: "missing"})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Equal(t, "unknown instance", resp.Error)
}

func TestListenRejectsAnEmptyPath(t *testing.T) {
	_, err := Listen("", func(req Request) Response { return Response{} })
	assert.Error(t, err)
}
