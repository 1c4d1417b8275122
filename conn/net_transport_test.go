package conn

import (
	"net"
	"testing"
	"time"

	"github.com/gitzhang10/dagbft/types"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTransport(t *testing.T, maxPool, capacity int) *NetworkTransport {
	trans, err := NewTCPTransport("127.0.0.1:0", 2*time.Second, hclog.NewNullLogger(), maxPool, capacity)
	require.NoError(t, err)
	t.Cleanup(func() { trans.Close() })
	return trans
}

func certificate(author string, round types.Round) *types.Certificate {
	return &types.Certificate{
		Header:    types.Header{Author: author, Round: round, Epoch: 1, CreatedAt: int64(round)},
		Signature: []byte("sig"),
	}
}

func receive(t *testing.T, trans *NetworkTransport) *types.Certificate {
	t.Helper()
	select {
	case c := <-trans.Certificates():
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no certificate received")
		return nil
	}
}

// TestSendCertificate tests if a sender can connect to a listening transport
// and deliver certificates in order.
func TestSendCertificate(t *testing.T) {
	server := newTransport(t, 1, 1)
	client := newTransport(t, 1, 1)

	sent := []*types.Certificate{certificate("node0", 1), certificate("node1", 1), certificate("node0", 2)}
	done := make(chan error, 1)
	go func() {
		for _, c := range sent {
			if err := client.Send(server.LocalAddr(), c); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for _, c := range sent {
		got := receive(t, server)
		assert.Equal(t, c.Digest(), got.Digest())
		assert.Equal(t, c.Signature, got.Signature)
	}
	require.NoError(t, <-done)

	// the connection went back to the pool
	client.connPoolLock.Lock()
	assert.Len(t, client.connPool[server.LocalAddr()], 1)
	client.connPoolLock.Unlock()
}

func TestReturnConnRespectsMaxPool(t *testing.T) {
	server := newTransport(t, 1, 1)
	client := newTransport(t, 1, 1)

	c1, err := client.GetConn(server.LocalAddr())
	require.NoError(t, err)
	c2, err := client.GetConn(server.LocalAddr())
	require.NoError(t, err)

	require.NoError(t, client.ReturnConn(c1))
	require.NoError(t, client.ReturnConn(c2))
	assert.Len(t, client.connPool[server.LocalAddr()], 1)

	reused, err := client.GetConn(server.LocalAddr())
	require.NoError(t, err)
	assert.Same(t, c1, reused)
	reused.Release()
}

func TestUnknownTagClosesConnection(t *testing.T) {
	server := newTransport(t, 1, 1)

	raw, err := net.Dial("tcp", server.LocalAddr())
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Write([]byte{42, 0, 0})
	require.NoError(t, err)

	require.NoError(t, raw.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = raw.Read(make([]byte, 1))
	assert.Error(t, err)
	assert.Empty(t, server.Certificates())
}

func TestCloseUnblocksFullChannel(t *testing.T) {
	server, err := NewTCPTransport("127.0.0.1:0", 2*time.Second, hclog.NewNullLogger(), 1, 1)
	require.NoError(t, err)
	client := newTransport(t, 1, 1)

	for round := types.Round(1); round <= 3; round++ {
		require.NoError(t, client.Send(server.LocalAddr(), certificate("node0", round)))
	}
	assert.Equal(t, uint64(1), receive(t, server).Round())

	require.NoError(t, server.Close())
	assert.True(t, server.IsShutdown())
	_, err = server.GetConn(client.LocalAddr())
	assert.ErrorIs(t, err, ErrTransportShutdown)
}
