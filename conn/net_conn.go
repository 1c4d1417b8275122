/*
Package conn carries certificates from a primary to its consensus core.
A connection is only used in an unidirectional manner: the dialing side
writes certificates and the listening side decodes them.
The connection is encapsulated with the writer and encoder so it can be
pooled and reused.
*/
package conn

import (
	"bufio"
	"net"

	"github.com/hashicorp/go-msgpack/codec"
)

// NetConn represents an outbound connection to a transport.
type NetConn struct {
	target string
	conn   net.Conn
	w      *bufio.Writer
	enc    *codec.Encoder
}

// Release closes the connection in a NetConn variable.
func (n *NetConn) Release() error {
	return n.conn.Close()
}
