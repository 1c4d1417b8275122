package conn

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gitzhang10/dagbft/types"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-msgpack/codec"
)

const (
	// CertificateTag marks a frame carrying one certificate.
	CertificateTag uint8 = iota
)

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")
)

/*
NetworkTransport accepts certificates from the local primary and hands them
to consensus. It requires an underlying stream layer to provide a stream
abstraction, which can be simple TCP, TLS, etc.

Each frame is a byte that indicates the message type followed by the msgpack
encoded certificate. Inbound connections are read one frame at a time and a
full certificate channel stops reading, so backpressure reaches the sender.
*/
type NetworkTransport struct {
	connPool     map[string][]*NetConn
	connPoolLock sync.Mutex
	maxPool      int

	certCh chan *types.Certificate

	logger hclog.Logger

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	stream StreamLayer

	// streamCtx is used to cancel existing connection handlers.
	streamCtx    context.Context
	streamCancel context.CancelFunc

	inbound     map[net.Conn]struct{}
	inboundLock sync.Mutex
	handlers    sync.WaitGroup

	timeout time.Duration
}

// Certificates returns the channel the decoded certificates are delivered on.
func (n *NetworkTransport) Certificates() <-chan *types.Certificate {
	return n.certCh
}

// listen is used to handling incoming connections.
func (n *NetworkTransport) listen() {
	defer n.handlers.Done()
	const baseDelay = 5 * time.Millisecond
	const maxDelay = 1 * time.Second

	var loopDelay time.Duration
	for {
		// Accept incoming connections
		conn, err := n.stream.Accept()
		if err != nil {
			if n.IsShutdown() {
				return
			}
			if loopDelay == 0 {
				loopDelay = baseDelay
			} else {
				loopDelay *= 2
			}
			if loopDelay > maxDelay {
				loopDelay = maxDelay
			}
			n.logger.Error("failed to accept connection", "error", err)

			select {
			case <-n.shutdownCh:
				return
			case <-time.After(loopDelay):
				continue
			}
		}
		// No error, reset loop delay
		loopDelay = 0

		n.logger.Debug("accepted connection", "local-address", n.LocalAddr(), "remote-address", conn.RemoteAddr().String())

		if !n.trackConn(conn) {
			conn.Close()
			return
		}
		n.handlers.Add(1)
		go n.handleConn(n.streamCtx, conn)
	}
}

func (n *NetworkTransport) trackConn(conn net.Conn) bool {
	n.inboundLock.Lock()
	defer n.inboundLock.Unlock()
	if n.IsShutdown() {
		return false
	}
	n.inbound[conn] = struct{}{}
	return true
}

func (n *NetworkTransport) untrackConn(conn net.Conn) {
	n.inboundLock.Lock()
	defer n.inboundLock.Unlock()
	delete(n.inbound, conn)
}

// handleConn is used to handle an inbound connection for its lifespan. The
// handler will exit when the passed context is cancelled or the connection is
// closed.
func (n *NetworkTransport) handleConn(connCtx context.Context, conn net.Conn) {
	defer n.handlers.Done()
	defer n.untrackConn(conn)
	defer conn.Close()
	r := bufio.NewReader(conn)
	dec := codec.NewDecoder(r, &codec.MsgpackHandle{})

	for {
		select {
		case <-connCtx.Done():
			n.logger.Debug("stream layer is closed")
			return
		default:
		}

		if err := n.handleMsg(r, dec); err != nil {
			if err != io.EOF && err != ErrTransportShutdown && !n.IsShutdown() {
				n.logger.Error("failed to decode incoming certificate", "error", err)
			}
			return
		}
	}
}

// handleMsg is used to decode and deliver a single frame.
func (n *NetworkTransport) handleMsg(r *bufio.Reader, dec *codec.Decoder) error {
	// Get the msg type
	msgType, err := r.ReadByte()
	if err != nil {
		return err
	}
	if msgType != CertificateTag {
		return fmt.Errorf("type of the msg (%d) is unknown", msgType)
	}

	cert := new(types.Certificate)
	if err := dec.Decode(cert); err != nil {
		return err
	}

	select {
	case n.certCh <- cert:
	case <-n.shutdownCh:
		return ErrTransportShutdown
	}
	return nil
}

// LocalAddr returns the address the transport listens on.
func (n *NetworkTransport) LocalAddr() string {
	return n.stream.Addr().String()
}

// IsShutdown is used to check if the transport is shutdown.
func (n *NetworkTransport) IsShutdown() bool {
	select {
	case <-n.shutdownCh:
		return true
	default:
		return false
	}
}

// Close stops the listener, drops every inbound connection and pooled
// outbound connection, and waits for the handlers to exit.
func (n *NetworkTransport) Close() error {
	n.shutdownLock.Lock()
	if n.shutdown {
		n.shutdownLock.Unlock()
		return nil
	}
	n.shutdown = true
	n.inboundLock.Lock()
	close(n.shutdownCh)
	for conn := range n.inbound {
		conn.Close()
	}
	n.inboundLock.Unlock()
	n.streamCancel()
	err := n.stream.Close()
	n.shutdownLock.Unlock()

	n.connPoolLock.Lock()
	for target, conns := range n.connPool {
		for _, c := range conns {
			c.Release()
		}
		delete(n.connPool, target)
	}
	n.connPoolLock.Unlock()

	n.handlers.Wait()
	return err
}

func (n *NetworkTransport) dialConn(target string) (*NetConn, error) {
	// Dial a new connection
	conn, err := n.stream.Dial(target, n.timeout)
	if err != nil {
		return nil, err
	}

	// Wrap the conn
	netC := &NetConn{
		target: target,
		conn:   conn,
		w:      bufio.NewWriter(conn),
	}
	netC.enc = codec.NewEncoder(netC.w, &codec.MsgpackHandle{})
	return netC, nil
}

// GetConn returns an idle connection. If there is no one, dial a new connection.
func (n *NetworkTransport) GetConn(target string) (*NetConn, error) {
	if n.IsShutdown() {
		return nil, ErrTransportShutdown
	}
	n.connPoolLock.Lock()
	defer n.connPoolLock.Unlock()
	// Check for an exiting conn
	netConns, ok := n.connPool[target]
	if ok && len(netConns) > 0 {
		var netC *NetConn
		num := len(netConns)
		netC, netConns[num-1] = netConns[num-1], nil
		n.connPool[target] = netConns[:num-1]
		return netC, nil
	}

	return n.dialConn(target)
}

// ReturnConn returns the connection back to the pool.
// To avoid establishing connections repeatedly, try to maintain the net connection for later reusage.
func (n *NetworkTransport) ReturnConn(netC *NetConn) error {
	n.connPoolLock.Lock()
	defer n.connPoolLock.Unlock()

	key := netC.target
	netConns := n.connPool[key]

	if !n.IsShutdown() && len(netConns) < n.maxPool {
		n.connPool[key] = append(netConns, netC)
		return nil
	}
	return netC.Release()
}

// Send delivers a certificate to the transport listening at target over a pooled connection.
func (n *NetworkTransport) Send(target string, cert *types.Certificate) error {
	netC, err := n.GetConn(target)
	if err != nil {
		return err
	}
	if err := SendCertificate(netC, cert); err != nil {
		return err
	}
	return n.ReturnConn(netC)
}

// NetworkTransportConfig encapsulates configuration for the network transport layer.
type NetworkTransportConfig struct {
	MaxPool int

	// ChannelCapacity bounds the number of decoded certificates waiting for consensus.
	ChannelCapacity int

	Logger hclog.Logger

	// Dialer
	Stream StreamLayer

	// Timeout is used to apply dial deadlines.
	Timeout time.Duration
}

// NewNetworkTransportWithConfig creates a new network transport with the given config struct.
func NewNetworkTransportWithConfig(
	config *NetworkTransportConfig,
) *NetworkTransport {
	if config.Logger == nil {
		config.Logger = hclog.New(&hclog.LoggerOptions{
			Name:   "consensus-net",
			Output: hclog.DefaultOutput,
			Level:  hclog.DefaultLevel,
		})
	}
	ctx, cancel := context.WithCancel(context.Background())
	trans := &NetworkTransport{
		connPool:     make(map[string][]*NetConn),
		maxPool:      config.MaxPool,
		certCh:       make(chan *types.Certificate, config.ChannelCapacity),
		logger:       config.Logger,
		shutdownCh:   make(chan struct{}),
		stream:       config.Stream,
		streamCtx:    ctx,
		streamCancel: cancel,
		inbound:      make(map[net.Conn]struct{}),
		timeout:      config.Timeout,
	}

	trans.handlers.Add(1)
	go trans.listen()

	return trans
}

// SendCertificate is used to encode and send the certificate.
func SendCertificate(conn *NetConn, cert *types.Certificate) error {
	// Write the msg type
	if err := conn.w.WriteByte(CertificateTag); err != nil {
		conn.Release()
		return err
	}

	// Send the certificate
	if err := conn.enc.Encode(cert); err != nil {
		conn.Release()
		return err
	}

	// Flush
	if err := conn.w.Flush(); err != nil {
		conn.Release()
		return err
	}
	return nil
}
