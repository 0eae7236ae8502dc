package rcon

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// readChunkSize is the socket read size used while assembling a response.
const readChunkSize = 4096

// Assembler turns arbitrarily chunked socket reads into exactly one packet.
// It is single-shot: once a packet is complete every further byte is ignored.
type Assembler struct {
	buf      []byte
	total    int // declared size + 4, zero until the size field is read
	done     bool
	packet   Packet
	overflow int
}

// NewAssembler creates an empty assembler for one outstanding request.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Feed appends a chunk. It reports the packet and true once complete.
func (a *Assembler) Feed(chunk []byte) (Packet, bool, error) {
	if a.done {
		a.overflow += len(chunk)
		return a.packet, true, nil
	}

	a.buf = append(a.buf, chunk...)

	if a.total == 0 && len(a.buf) >= 4 {
		declared := int32(binary.LittleEndian.Uint32(a.buf[0:4]))
		if declared < sizeOverhead || declared > MaxPacketSize {
			return Packet{}, false, &ParseError{Reason: fmt.Sprintf("invalid declared size %d", declared)}
		}
		a.total = int(declared) + 4
	}

	if a.total == 0 || len(a.buf) < a.total {
		return Packet{}, false, nil
	}

	pkt, err := Decode(a.buf, a.total)
	if err != nil {
		return Packet{}, false, err
	}

	a.overflow = len(a.buf) - a.total
	a.buf = nil
	a.done = true
	a.packet = pkt
	return pkt, true, nil
}

// Discarded returns how many bytes arrived after the packet completed.
func (a *Assembler) Discarded() int {
	return a.overflow
}

// readResponse reads from conn until one packet is assembled or the deadline
// passes. The read deadline is always cleared before returning so the next
// request on a reused socket starts clean.
func readResponse(conn net.Conn, timeout time.Duration) (Packet, int, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Packet{}, 0, &ConnectionError{Addr: remoteAddr(conn), Err: err}
	}
	defer conn.SetReadDeadline(time.Time{})

	asm := NewAssembler()
	chunk := make([]byte, readChunkSize)

	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			pkt, done, ferr := asm.Feed(chunk[:n])
			if ferr != nil {
				return Packet{}, 0, ferr
			}
			if done {
				return pkt, asm.Discarded(), nil
			}
		}
		if err != nil {
			if isTimeout(err) {
				return Packet{}, 0, &TimeoutError{Phase: PhaseResponse, After: timeout}
			}
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return Packet{}, 0, &ConnectionError{Addr: remoteAddr(conn), Err: err}
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
