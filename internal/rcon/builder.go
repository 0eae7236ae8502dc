package rcon

import (
	"bytes"
	"encoding/binary"
)

// packetBuilder accumulates little-endian fields into a packet buffer.
type packetBuilder struct {
	buf bytes.Buffer
}

func newPacketBuilder(capacity int) *packetBuilder {
	b := &packetBuilder{}
	b.buf.Grow(capacity)
	return b
}

// WriteInt32 writes an int32 in little-endian order.
func (b *packetBuilder) WriteInt32(v int32) *packetBuilder {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	b.buf.Write(tmp[:])
	return b
}

// WriteString writes raw string bytes with no prefix or terminator.
func (b *packetBuilder) WriteString(s string) *packetBuilder {
	b.buf.WriteString(s)
	return b
}

// PutByte writes a single byte.
func (b *packetBuilder) PutByte(v byte) *packetBuilder {
	b.buf.WriteByte(v)
	return b
}

// Build returns the constructed packet bytes.
func (b *packetBuilder) Build() []byte {
	return b.buf.Bytes()
}
