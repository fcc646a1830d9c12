// Package stream provides byte-buffer helpers for reading and writing
// wire-format message fields in network byte order.
package stream

import (
	"bytes"
	"encoding/binary"
)

// ReadBytes reads n bytes from the byte buffer and returns it
func ReadBytes(n int, buf *bytes.Buffer) []byte {
	bs := make([]byte, n)
	for i := range bs {
		bs[i], _ = buf.ReadByte()
	}
	return bs
}

// ReadByte reads a single byte off the given byte buffer and returns it
func ReadByte(buf *bytes.Buffer) byte {
	return ReadBytes(1, buf)[0]
}

// ReadUint16 reads 2 bytes off the buffer and returns it as a uint16
func ReadUint16(buf *bytes.Buffer) uint16 {
	return binary.BigEndian.Uint16(ReadBytes(2, buf))
}

// ReadUint32 reads 4 bytes off the buffer and returns it as a uint32
func ReadUint32(buf *bytes.Buffer) uint32 {
	return binary.BigEndian.Uint32(ReadBytes(4, buf))
}

// WriteByte writes a single byte onto the buffer
func WriteByte(v byte, buf *bytes.Buffer) {
	buf.WriteByte(v)
}

// WriteUint16 writes a uint16 onto the buffer in network order
func WriteUint16(v uint16, buf *bytes.Buffer) {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	buf.Write(b)
}

// WriteUint32 writes a uint32 onto the buffer in network order
func WriteUint32(v uint32, buf *bytes.Buffer) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	buf.Write(b)
}
