// Package ipc implements spec.md §4.E: the file/socket descriptor
// abstraction rule actions write(), socket(), server_socket() and
// close() drive, plus the per-socket reader thread that polls for
// inbound frames and synthesises `receive` selector events.
package ipc

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glasslayer/vkhook/internal/rules/eval"
)

// Framing is one of the three write-side/read-side framings §4.E
// describes.
type Framing int

const (
	FramingRaw Framing = iota
	FramingLengthPrefixed
	FramingLines
)

// Transport is the two socket kinds server_socket()/socket() can open.
type Transport int

const (
	TransportTCP Transport = iota
	TransportUDP
)

// pollInterval is the 100ms tick spec.md §4.E/§5 names for the reader
// thread.
const pollInterval = 100 * time.Millisecond

// Descriptor is one open file or socket sink/source.
type Descriptor struct {
	id          string // uuid, correlates log lines across a descriptor's lifetime
	mu          sync.Mutex
	writer      writeCloser
	framing     Framing
	cancel      chan struct{}
	closeOnce   sync.Once
}

type writeCloser interface {
	Write(b []byte) (int, error)
	Close() error
}

// Table is the per-instance map of live descriptors keyed by the
// integer fd a rule program refers to, implementing eval.IPCActions so
// internal/rules/eval can drive it directly from write()/socket()/
// server_socket()/close() actions without importing this package back.
type Table struct {
	mu          sync.Mutex
	descriptors map[int64]*Descriptor
	onReceive   func(fd int64, connID string, data []byte)
	logger      eval.Logger
}

// NewTable returns an empty descriptor table. onReceive is invoked from
// the reader goroutine of every socket opened through this table,
// whatever framing it uses, with the descriptor's uuid so the caller can
// correlate a `receive` event back to the socket that produced it
// (spec.md §4.E/§4.D); callers wire it to execute_rules for a `receive`
// selector.
func NewTable(onReceive func(fd int64, connID string, data []byte), logger eval.Logger) *Table {
	return &Table{
		descriptors: make(map[int64]*Descriptor),
		onReceive:   onReceive,
		logger:      logger,
	}
}

// OpenLocalFile registers fd as an append-only byte sink at path,
// matching the `LocalFile(path)` variant.
func (t *Table) OpenLocalFile(fd int64, path string) error {
	f, err := openAppend(path)
	if err != nil {
		return fmt.Errorf("ipc: open %q: %w", path, err)
	}
	d := &Descriptor{id: uuid.NewString(), writer: f, framing: FramingRaw, cancel: make(chan struct{})}
	t.mu.Lock()
	t.descriptors[fd] = d
	t.mu.Unlock()
	if t.logger != nil {
		t.logger.Log(fmt.Sprintf("ipc: fd %d connection %s opened file %q", fd, d.id, path))
	}
	return nil
}

// Write implements eval.IPCActions.
func (t *Table) Write(fd int64, data []byte) error {
	d, ok := t.lookup(fd)
	if !ok {
		return fmt.Errorf("ipc: no descriptor for fd %d", fd)
	}
	return d.write(data)
}

// Socket implements eval.IPCActions: socket(fd, transport, host, port,
// framing) dials transport://host:port as a client connection.
func (t *Table) Socket(fd int64, args []eval.Value) error {
	return t.dial(fd, args, false)
}

// ServerSocket implements eval.IPCActions: server_socket(fd, transport,
// port, framing) listens and accepts exactly one connection before
// starting the reader thread.
func (t *Table) ServerSocket(fd int64, args []eval.Value) error {
	return t.dial(fd, args, true)
}

func (t *Table) dial(fd int64, args []eval.Value, server bool) error {
	transport, host, port, framing, err := parseSocketArgs(args, server)
	if err != nil {
		return err
	}
	network := "tcp"
	if transport == TransportUDP {
		network = "udp"
	}

	var conn net.Conn
	if server {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen(network, addr)
		if err != nil {
			return fmt.Errorf("ipc: listen %s: %w", addr, err)
		}
		conn, err = ln.Accept()
		ln.Close()
		if err != nil {
			return fmt.Errorf("ipc: accept on %s: %w", addr, err)
		}
	} else {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		conn, err = net.Dial(network, addr)
		if err != nil {
			return fmt.Errorf("ipc: dial %s: %w", addr, err)
		}
	}

	d := &Descriptor{id: uuid.NewString(), writer: conn, framing: framing, cancel: make(chan struct{})}
	t.mu.Lock()
	t.descriptors[fd] = d
	t.mu.Unlock()
	if t.logger != nil {
		t.logger.Log(fmt.Sprintf("ipc: fd %d connection %s opened %s", fd, d.id, conn.RemoteAddr()))
	}

	go t.readLoop(fd, conn, d)
	return nil
}

func parseSocketArgs(args []eval.Value, server bool) (Transport, string, int, Framing, error) {
	// socket(fd, transport, host, port, framing); server_socket skips host.
	want := 4
	if server {
		want = 3
	}
	if len(args) != want {
		return 0, "", 0, 0, fmt.Errorf("ipc: socket() expects %d arguments, got %d", want, len(args))
	}
	i := 0
	transport, err := parseTransport(args[i].AsString())
	if err != nil {
		return 0, "", 0, 0, err
	}
	i++
	host := ""
	if !server {
		host = args[i].AsString()
		i++
	}
	port := int(args[i].Number)
	i++
	framing, err := parseFraming(args[i].AsString())
	if err != nil {
		return 0, "", 0, 0, err
	}
	return transport, host, port, framing, nil
}

func parseTransport(s string) (Transport, error) {
	switch s {
	case "TCP":
		return TransportTCP, nil
	case "UDP":
		return TransportUDP, nil
	default:
		return 0, fmt.Errorf("ipc: unknown transport %q", s)
	}
}

func parseFraming(s string) (Framing, error) {
	switch s {
	case "Raw":
		return FramingRaw, nil
	case "LengthPrefixed":
		return FramingLengthPrefixed, nil
	case "Lines":
		return FramingLines, nil
	default:
		return 0, fmt.Errorf("ipc: unknown framing %q", s)
	}
}

// Close implements eval.IPCActions: closes the descriptor and signals
// its reader goroutine (if any) to exit.
func (t *Table) Close(fd int64) error {
	t.mu.Lock()
	d, ok := t.descriptors[fd]
	delete(t.descriptors, fd)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("ipc: no descriptor for fd %d", fd)
	}
	if t.logger != nil {
		t.logger.Log(fmt.Sprintf("ipc: fd %d connection %s closed", fd, d.id))
	}
	return d.close()
}

func (t *Table) lookup(fd int64) (*Descriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.descriptors[fd]
	return d, ok
}

func (d *Descriptor) write(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	framed, err := frameWrite(d.framing, data)
	if err != nil {
		return err
	}
	_, err = d.writer.Write(framed)
	return err
}

func (d *Descriptor) close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.cancel)
		err = d.writer.Close()
	})
	return err
}

// frameWrite applies the write-side framing contract of spec.md §4.E.
// LengthPrefixed is fixed to little-endian 64-bit length, per this
// module's Open Question decision (see DESIGN.md): the spec's
// host-endian `size_t` has no single meaning across a Go binary that
// may run on either endianness, and little-endian matches every other
// wire-format choice made elsewhere in this layer.
func frameWrite(f Framing, data []byte) ([]byte, error) {
	switch f {
	case FramingRaw:
		return data, nil
	case FramingLengthPrefixed:
		header := make([]byte, 8)
		binary.LittleEndian.PutUint64(header, uint64(len(data)))
		return append(header, data...), nil
	case FramingLines:
		return append(append([]byte{}, data...), '\n'), nil
	default:
		return nil, fmt.Errorf("ipc: unknown framing %d", f)
	}
}

// readLoop polls conn every pollInterval for a complete frame (mirroring
// the write-side framing) and invokes onReceive for each one, until
// cancel fires.
func (t *Table) readLoop(fd int64, conn net.Conn, d *Descriptor) {
	reader := newFrameReader(conn, d.framing)
	for {
		select {
		case <-d.cancel:
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(pollInterval))
		frame, err := reader.next()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return
		}
		if t.logger != nil {
			t.logger.Log(fmt.Sprintf("ipc: fd %d connection %s received %d bytes", fd, d.id, len(frame)))
		}
		if t.onReceive != nil {
			t.onReceive(fd, d.id, frame)
		}
	}
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	te, ok := err.(timeout)
	return ok && te.Timeout()
}
