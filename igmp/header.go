// Package igmp implements the shared IGMP/DVMRP message family and the
// host-membership query engine. One 8-byte header overlays three semantic
// protocols: IGMP query, IGMP report, and DVMRP control (which rides in
// the subtype byte).
package igmp

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/sciyoshi/gini/inet"
	"github.com/sciyoshi/gini/stream"
)

// Version is the only IGMP version spoken here.
const Version = 1

// Message types carried in the low nibble of the first byte.
const (
	TypeQuery  = 1
	TypeReport = 2
	TypeDVMRP  = 3
)

// HeaderLen is the wire size of the message.
const HeaderLen = 8

// Header is the on-wire IGMP/DVMRP message:
//
//	 0                   1                   2                   3
//	+-------+-------+---------------+-------------------------------+
//	| ver:4 | typ:4 |  subtype:8    |         checksum:16           |
//	+-------+-------+---------------+-------------------------------+
//	|                       group_address:32                        |
//	+---------------------------------------------------------------+
//
// The subtype byte is unused for plain IGMP messages and carries the
// DVMRP sub-kind when the type is TypeDVMRP.
type Header struct {
	Version  uint8
	Type     uint8
	Subtype  uint8
	Checksum uint16
	Group    inet.Addr // host order
}

// Marshal serializes the header with a freshly computed checksum.
func (h Header) Marshal() []byte {
	buf := new(bytes.Buffer)
	stream.WriteByte(h.Version<<4|h.Type&0x0F, buf)
	stream.WriteByte(h.Subtype, buf)
	stream.WriteUint16(0, buf)
	stream.WriteUint32(uint32(h.Group), buf)
	b := buf.Bytes()
	binary.BigEndian.PutUint16(b[2:4], inet.Checksum(b))
	return b
}

// Parse reads a header from the start of b. It does not verify the
// checksum; receivers do that over the raw bytes first.
func Parse(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("igmp: short message (%d bytes)", len(b))
	}
	buf := bytes.NewBuffer(b[:HeaderLen])
	first := stream.ReadByte(buf)
	return Header{
		Version:  first >> 4,
		Type:     first & 0x0F,
		Subtype:  stream.ReadByte(buf),
		Checksum: stream.ReadUint16(buf),
		Group:    inet.Addr(stream.ReadUint32(buf)),
	}, nil
}

// Valid reports whether the raw message checksums to zero.
func Valid(b []byte) bool {
	return len(b) >= HeaderLen && inet.Checksum(b[:HeaderLen]) == 0
}
