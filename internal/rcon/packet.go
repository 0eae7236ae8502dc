// Package rcon implements the remote-console protocol client used to
// administer a running game server: packet framing, the authentication
// handshake, response reassembly and a serialized command executor.
//
// All integers on the wire are little-endian int32. A packet is
//
//	[size:4][id:4][type:4][body...][0x00][0x00]
//
// where size counts every byte after the size field.
package rcon

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PacketType is the type tag carried in every packet.
type PacketType int32

// Packet types. AUTH_RESPONSE and EXEC_COMMAND share the value 2; which one
// is meant depends on the direction of travel.
const (
	TypeResponseValue PacketType = 0
	TypeExecCommand   PacketType = 2
	TypeAuthResponse  PacketType = 2
	TypeAuth          PacketType = 3
)

const (
	// HeaderSize is size + id + type.
	HeaderSize = 12
	// TrailerSize is the two NUL terminators after the body.
	TrailerSize = 2
	// MinPacketSize is the smallest complete packet (empty body).
	MinPacketSize = HeaderSize + TrailerSize
	// sizeOverhead is what the size field counts beyond the body: id, type, terminators.
	sizeOverhead = 10
	// MaxPacketSize bounds the declared size accepted from a peer.
	MaxPacketSize = 16 << 20
)

// AuthFailedID is the id a server echoes when authentication is rejected.
const AuthFailedID int32 = -1

// Packet is one framed protocol unit.
type Packet struct {
	ID   int32
	Type PacketType
	Body string
}

// Encode produces the wire form of a packet. The body is written as-is;
// no length cap is enforced here.
func Encode(id int32, typ PacketType, body string) []byte {
	b := newPacketBuilder(len(body) + MinPacketSize)
	b.WriteInt32(int32(len(body) + sizeOverhead))
	b.WriteInt32(id)
	b.WriteInt32(int32(typ))
	b.WriteString(body)
	b.PutByte(0)
	b.PutByte(0)
	return b.Build()
}

// Decode parses a complete packet whose total length (size field included)
// is expectedTotalSize. The trailing terminators are dropped, not checked.
func Decode(buf []byte, expectedTotalSize int) (Packet, error) {
	if len(buf) < HeaderSize {
		return Packet{}, &ParseError{Reason: fmt.Sprintf("need at least %d header bytes, have %d", HeaderSize, len(buf))}
	}
	if expectedTotalSize < MinPacketSize {
		return Packet{}, &ParseError{Reason: fmt.Sprintf("packet length %d below minimum %d", expectedTotalSize, MinPacketSize)}
	}
	if expectedTotalSize > len(buf) {
		return Packet{}, &ParseError{Reason: fmt.Sprintf("packet length %d exceeds available %d bytes", expectedTotalSize, len(buf))}
	}

	declared := int(int32(binary.LittleEndian.Uint32(buf[0:4])))
	if declared+4 != expectedTotalSize {
		return Packet{}, &ParseError{Reason: fmt.Sprintf("declared size %d inconsistent with packet length %d", declared, expectedTotalSize)}
	}

	return Packet{
		ID:   int32(binary.LittleEndian.Uint32(buf[4:8])),
		Type: PacketType(int32(binary.LittleEndian.Uint32(buf[8:12]))),
		Body: string(buf[HeaderSize : expectedTotalSize-TrailerSize]),
	}, nil
}

// ReadPacket reads one packet from a blocking reader.
func ReadPacket(r io.Reader) (Packet, error) {
	var size int32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return Packet{}, fmt.Errorf("failed to read packet size: %w", err)
	}
	if size < sizeOverhead || size > MaxPacketSize {
		return Packet{}, &ParseError{Reason: fmt.Sprintf("invalid declared size %d", size)}
	}

	buf := make([]byte, 4+int(size))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(size))
	if _, err := io.ReadFull(r, buf[4:]); err != nil {
		return Packet{}, fmt.Errorf("failed to read packet payload (%d bytes): %w", size, err)
	}

	return Decode(buf, len(buf))
}

// WritePacket writes one encoded packet.
func WritePacket(w io.Writer, p Packet) error {
	if _, err := w.Write(Encode(p.ID, p.Type, p.Body)); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	return nil
}
