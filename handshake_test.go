//go:build linux || darwin
// +build linux darwin

package sfifo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type authResult struct {
	ch  *Channel
	err error
}

func runServer(cfg *Sfifo, token string) <-chan authResult {
	out := make(chan authResult, 1)
	go func() {
		ch, err := cfg.OpenAsServer(context.Background(), token)
		out <- authResult{ch: ch, err: err}
	}()
	return out
}

func TestHandshakeMutualAuth(t *testing.T) {
	base := filepath.Join(t.TempDir(), "auth")
	token := "integration_test_token"

	serverDone := runServer(New(base).SetRead(true).SetCreate(true), token)

	client, err := New(base).SetWrite(true).OpenAsClient(context.Background(), token)
	require.NoError(t, err)
	defer client.Close()

	res := <-serverDone
	require.NoError(t, res.err)
	server := res.ch
	defer server.Close()

	assert.True(t, server.IsServer())
	assert.False(t, client.IsServer())

	wantPid := uint32(os.Getpid())
	wantName := processName()
	assert.Equal(t, wantPid, server.PeerInfo().Pid)
	assert.Equal(t, wantName, server.PeerInfo().Name)
	assert.Equal(t, wantPid, client.PeerInfo().Pid)
	assert.Equal(t, wantName, client.PeerInfo().Name)
	assert.False(t, server.PeerInfo().AuthenticatedAt.IsZero())
}

func TestHandshakeTokenMismatch(t *testing.T) {
	base := filepath.Join(t.TempDir(), "mismatch")

	serverCfg := New(base).SetRead(true).SetCreate(true).SetHandshakeTimeout(time.Second)
	clientCfg := New(base).SetWrite(true).SetHandshakeTimeout(time.Second)

	serverDone := runServer(serverCfg, "abc")

	client, err := clientCfg.OpenAsClient(context.Background(), "xyz")
	require.Error(t, err)
	require.Nil(t, client)
	assert.True(t, IsKind(err, KindAuthRejected), "client got %v", err)

	res := <-serverDone
	require.Error(t, res.err)
	require.Nil(t, res.ch)
	assert.True(t, IsKind(res.err, KindAuthRejected), "server got %v", res.err)
}

func TestHandshakeStaleTimestamp(t *testing.T) {
	base := filepath.Join(t.TempDir(), "stale")
	token := "stale_token"

	// Pre-create both FIFOs so the forged writer cannot race the server.
	require.NoError(t, CreateFifo(base+c2sSuffix))
	require.NoError(t, CreateFifo(base+s2cSuffix))

	serverDone := runServer(New(base).SetRead(true).SetHandshakeTimeout(2*time.Second), token)

	wr, err := New(base+c2sSuffix).SetWrite(true).Open(context.Background())
	require.NoError(t, err)
	defer wr.Close()
	rd, err := New(base+s2cSuffix).SetRead(true).SetTimeout(300*time.Millisecond).Open(context.Background())
	require.NoError(t, err)
	defer rd.Close()

	// A correctly keyed request whose timestamp fell out of the freshness
	// window: the digest alone must not be enough.
	key, err := deriveAuthKey(token)
	require.NoError(t, err)
	msg := newMessage(kindRequest)
	msg.Timestamp = time.Now().Add(-61 * time.Second).Unix()
	msg.Proof = computeProof(key, labelClient, msg.Timestamp)
	rec, err := msg.encode()
	require.NoError(t, err)
	_, err = wr.WriteFull(rec)
	require.NoError(t, err)

	res := <-serverDone
	require.Error(t, res.err)
	assert.True(t, IsKind(res.err, KindAuthRejected), "server got %v", res.err)

	// The server must stay silent on rejection: no response record appears.
	buf := make([]byte, recordSize)
	_, err = rd.Read(buf)
	require.Error(t, err)
	assert.False(t, IsKind(err, KindIoFailure), "got %v", err)
}

func TestHandshakeServerTimeout(t *testing.T) {
	base := filepath.Join(t.TempDir(), "lonely")

	_, err := New(base).
		SetRead(true).
		SetCreate(true).
		SetHandshakeTimeout(500 * time.Millisecond).
		OpenAsServer(context.Background(), "nobody-comes")

	require.Error(t, err)
	assert.True(t, IsKind(err, KindTimeout), "got %v", err)
}

func TestEndToEndPingThenDelete(t *testing.T) {
	base := filepath.Join(t.TempDir(), "p")
	token := "abc"

	serverDone := runServer(New(base).SetCreate(true).SetNotify(true), token)

	client, err := New(base).OpenAuthenticatedSender(context.Background(), token)
	require.NoError(t, err)
	defer client.Close()

	res := <-serverDone
	require.NoError(t, res.err)
	server := res.ch
	defer server.Close()

	require.NoError(t, client.WriteString("ping"))

	buf := make([]byte, 64)
	n, err := server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "ping", string(buf[:n]))

	// External deletion of the server's inbound FIFO must surface as a
	// notification instead of a read hanging forever.
	require.NoError(t, DeleteFifo(base+c2sSuffix))

	select {
	case ev := <-server.Notify():
		assert.Equal(t, EventDeleted, ev.Kind)
	case <-time.After(3 * time.Second):
		t.Fatal("deletion notification never fired")
	}

	require.NoError(t, server.Close())
	require.NoError(t, server.Close())
}

func TestChannelCloseReleasesEndpoints(t *testing.T) {
	base := filepath.Join(t.TempDir(), "close")
	token := "close_token"

	serverDone := runServer(New(base).SetRead(true).SetCreate(true), token)

	client, err := New(base).SetWrite(true).OpenAsClient(context.Background(), token)
	require.NoError(t, err)

	res := <-serverDone
	require.NoError(t, res.err)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	require.NoError(t, res.ch.Close())
	require.NoError(t, res.ch.Close())
}
