package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samp-server-go/raknet/protocol"
	"github.com/samp-server-go/raknet/reliability"
)

func TestBindAndHandshakeAndSend(t *testing.T) {
	serverReceived := make(chan []byte, 4)
	serverConnected := make(chan string, 4)

	server, err := Bind("127.0.0.1:0", Options{
		Role: reliability.RoleServer,
		Handlers: Handlers{
			OnConnected: func(addr string) { serverConnected <- addr },
			OnUserPacket: func(addr string, payload []byte) {
				serverReceived <- payload
			},
		},
	})
	require.NoError(t, err)
	defer server.Close("")

	clientConnected := make(chan struct{}, 1)
	client, err := Bind("127.0.0.1:0", Options{
		Role: reliability.RoleClient,
		Handlers: Handlers{
			OnConnected: func(addr string) {
				select {
				case clientConnected <- struct{}{}:
				default:
				}
			},
		},
	})
	require.NoError(t, err)
	defer client.Close("")

	require.NoError(t, client.Dial(server.LocalAddr().String()))

	select {
	case <-clientConnected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never reached CONNECTED")
	}

	var serverAddr string
	select {
	case serverAddr = <-serverConnected:
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed a connected peer")
	}
	assert.NotEmpty(t, serverAddr)

	// Leading with an opcode at or above protocol.IDUserPacketEnum keeps the
	// payload clear of the transport's own handshake/keepalive/disconnect
	// opcodes, which the receiving peer intercepts.
	msg := append([]byte{byte(protocol.IDUserPacketEnum)}, []byte("hello")...)
	require.NoError(t, client.Send(server.LocalAddr().String(), msg, protocol.ReliableOrdered, 0))

	select {
	case payload := <-serverReceived:
		assert.Equal(t, msg, payload)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the client's payload")
	}
}

func TestSendToUnknownPeerErrors(t *testing.T) {
	server, err := Bind("127.0.0.1:0", Options{Role: reliability.RoleServer})
	require.NoError(t, err)
	defer server.Close("")

	err = server.Send("10.0.0.1:1234", []byte("x"), protocol.Reliable, 0)
	assert.Error(t, err)
}
