package protocol

import (
	"bytes"
	"maps"
)

// TypeField is the record key carrying the packet kind.
const TypeField = "type"

// Packet is a typed, immutable envelope. Fields always include TypeField
// once the packet has been through Encode or Decode.
type Packet struct {
	kind   string
	fields map[string]any
}

// NewPacket copies fields into a packet of the given kind.
func NewPacket(kind string, fields map[string]any) Packet {
	cp := make(map[string]any, len(fields)+1)
	maps.Copy(cp, fields)
	return Packet{kind: kind, fields: cp}
}

func (p Packet) Kind() string {
	return p.kind
}

// Field returns the raw value stored under name.
func (p Packet) Field(name string) (any, bool) {
	v, ok := p.fields[name]
	return v, ok
}

// String returns the field as a string, or "" when absent or not a string.
func (p Packet) String(name string) string {
	v, _ := p.fields[name].(string)
	return v
}

// Fields returns a copy of the packet fields.
func (p Packet) Fields() map[string]any {
	return maps.Clone(p.fields)
}

func (p Packet) IsZero() bool {
	return p.kind == ""
}

// Encoded is a verified record that has not been framed yet. Only a Codec
// builds one; the zero value carries nothing and is refused by senders.
// Broadcasts encode once and hand the same Encoded to every recipient.
type Encoded struct {
	kind   string
	record []byte
}

func (e Encoded) Kind() string {
	return e.kind
}

// Record returns a copy of the encoded JSON record.
func (e Encoded) Record() []byte {
	return bytes.Clone(e.record)
}

// Len is the record size in bytes, before framing.
func (e Encoded) Len() int {
	return len(e.record)
}

func (e Encoded) IsZero() bool {
	return e.kind == "" || len(e.record) == 0
}
