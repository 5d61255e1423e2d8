package transport

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nodequorum/controld/pkg/ctlerr"
	"github.com/nodequorum/controld/pkg/log"
)

// maxFrameSize bounds a single frame to guard against a corrupt or
// malicious length prefix causing an unbounded allocation.
const maxFrameSize = 16 << 20

// TCPTransport is a length-prefixed framing transport over net.Conn: each
// frame is a 4-byte big-endian length followed by that many payload
// bytes. It maintains one outbound connection per known peer address and
// accepts inbound connections on a listener.
type TCPTransport struct {
	selfUname string
	listener  net.Listener
	logger    zerolog.Logger

	mu    sync.Mutex
	peers map[string]string // uname -> addr
	conns map[string]net.Conn

	recvCh chan Message
	closed chan struct{}
}

// NewTCPTransport starts listening on bindAddr for inbound frames.
func NewTCPTransport(selfUname, bindAddr string) (*TCPTransport, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, ctlerr.New(ctlerr.Io, "transport.NewTCPTransport", "listen "+bindAddr, err)
	}

	t := &TCPTransport{
		selfUname: selfUname,
		listener:  ln,
		logger:    log.WithComponent("transport"),
		peers:     make(map[string]string),
		conns:     make(map[string]net.Conn),
		recvCh:    make(chan Message, 256),
		closed:    make(chan struct{}),
	}

	go t.acceptLoop()
	return t, nil
}

// SetPeerAddr records (or updates) the dial address for a peer by uname.
func (t *TCPTransport) SetPeerAddr(uname, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[uname] = addr
}

func (t *TCPTransport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
				t.logger.Warn().Err(err).Msg("accept failed")
				continue
			}
		}
		go t.readLoop(conn)
	}
}

func (t *TCPTransport) readLoop(conn net.Conn) {
	defer conn.Close()
	for {
		payload, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				t.logger.Debug().Err(err).Msg("connection read failed")
			}
			return
		}
		select {
		case t.recvCh <- Message{From: conn.RemoteAddr().String(), Payload: payload}:
		case <-t.closed:
			return
		}
	}
}

func (t *TCPTransport) dial(target string) (net.Conn, error) {
	t.mu.Lock()
	if conn, ok := t.conns[target]; ok {
		t.mu.Unlock()
		return conn, nil
	}
	addr, ok := t.peers[target]
	t.mu.Unlock()

	if !ok {
		return nil, ctlerr.New(ctlerr.PeerUnreachable, "transport.dial", "no known address for "+target, nil)
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, ctlerr.New(ctlerr.PeerUnreachable, "transport.dial", "dialing "+target, err)
	}

	t.mu.Lock()
	t.conns[target] = conn
	t.mu.Unlock()

	return conn, nil
}

func (t *TCPTransport) Send(_ context.Context, target string, payload []byte) error {
	conn, err := t.dial(target)
	if err != nil {
		return err
	}
	if err := writeFrame(conn, payload); err != nil {
		t.mu.Lock()
		delete(t.conns, target)
		t.mu.Unlock()
		return ctlerr.New(ctlerr.Io, "transport.Send", "writing to "+target, err)
	}
	return nil
}

func (t *TCPTransport) Broadcast(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	targets := make([]string, 0, len(t.peers))
	for uname := range t.peers {
		targets = append(targets, uname)
	}
	t.mu.Unlock()

	var firstErr error
	for _, target := range targets {
		if err := t.Send(ctx, target, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *TCPTransport) Receive() <-chan Message {
	return t.recvCh
}

func (t *TCPTransport) Close() error {
	close(t.closed)
	t.mu.Lock()
	for _, conn := range t.conns {
		_ = conn.Close()
	}
	t.mu.Unlock()
	return t.listener.Close()
}

func writeFrame(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameSize {
		return nil, ctlerr.New(ctlerr.Protocol, "transport.readFrame", "frame exceeds maximum size", nil)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
