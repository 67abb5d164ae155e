package rtsp

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := NewServer(ServerConfig{
		Address:      "127.0.0.1",
		Path:         "mjpeg/1",
		ReapInterval: 50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- server.Serve(ctx, listener)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-served:
		case <-time.After(time.Second):
			t.Error("server did not stop")
		}
	})
	return server, listener.Addr().String()
}

func dialClient(t *testing.T, addr string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	client, err := DialClient(ctx, addr, "mjpeg/1")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestServerEndToEnd(t *testing.T) {
	server, addr := startServer(t)
	client := dialClient(t, addr)

	res, err := client.Options()
	require.NoError(t, err)
	assert.Equal(t, 200, res.Code)
	assert.Contains(t, res.Header.Get("Public"), "SETUP")

	res, err = client.Describe()
	require.NoError(t, err)
	require.Equal(t, 200, res.Code)
	assert.Contains(t, string(res.Body), "m=video 0 RTP/AVP 26")

	res, err = client.Setup()
	require.NoError(t, err)
	require.Equal(t, 200, res.Code)
	require.NotEmpty(t, client.Session())

	res, err = client.Play()
	require.NoError(t, err)
	require.Equal(t, 200, res.Code)

	frame := testFrame(t)
	require.NoError(t, server.SendFrame(frame))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	packet, err := client.ReadPacket()
	require.NoError(t, err)

	sessionID, err := strconv.ParseUint(client.Session(), 10, 32)
	require.NoError(t, err)
	assert.Equal(t, uint32(sessionID), packet.Header.SSRC,
		"SSRC carries the session id")
	assert.Equal(t, uint8(26), packet.Header.PayloadType)

	res, err = client.Teardown()
	require.NoError(t, err)
	assert.Equal(t, 200, res.Code)
	assert.Equal(t, client.Session(), res.Header.Get("Session"))

	// the reaper drops the closed session
	require.Eventually(t, func() bool {
		return server.SessionCount() == 0
	}, time.Second, 20*time.Millisecond)
}

func TestServerPauseStopsDelivery(t *testing.T) {
	server, addr := startServer(t)
	client := dialClient(t, addr)

	_, err := client.Setup()
	require.NoError(t, err)
	_, err = client.Play()
	require.NoError(t, err)

	frame := testFrame(t)
	require.NoError(t, server.SendFrame(frame))
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = client.ReadPacket()
	require.NoError(t, err)

	_, err = client.Pause()
	require.NoError(t, err)

	// drain anything already in flight, then expect silence
	require.NoError(t, client.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	for {
		if _, err := client.ReadPacket(); err != nil {
			break
		}
	}
	require.NoError(t, server.SendFrame(frame))
	require.NoError(t, client.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, err = client.ReadPacket()
	assert.Error(t, err, "no packets while paused")
}

func TestServerSessionIDsDistinct(t *testing.T) {
	_, addr := startServer(t)

	seen := make(map[string]bool)
	for i := 0; i < 8; i++ {
		client := dialClient(t, addr)
		res, err := client.Setup()
		require.NoError(t, err)
		require.Equal(t, 200, res.Code)

		id := client.Session()
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "session id %s reused", id)
		seen[id] = true
	}
}

func TestServerRemovesSessionOnDisconnect(t *testing.T) {
	server, addr := startServer(t)
	client := dialClient(t, addr)

	_, err := client.Options()
	require.NoError(t, err)
	require.Equal(t, 1, server.SessionCount())

	client.Close()
	require.Eventually(t, func() bool {
		return server.SessionCount() == 0
	}, time.Second, 20*time.Millisecond)
}
