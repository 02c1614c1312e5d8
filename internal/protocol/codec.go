package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/relaychat/internal/protocol/schema"
)

var (
	ErrEmptyRecord        = errors.New("protocol: empty record")
	ErrUnsupportedPayload = errors.New("protocol: unsupported payload")
	ErrUnverifiedRecord   = errors.New("protocol: record was not produced by a codec")
)

// KindSpec describes one registrable packet kind.
type KindSpec struct {
	Description string
	Fields      []string
	Verify      schema.Verifier
}

// KindInfo is the public listing shape of a registered kind.
type KindInfo struct {
	Name        string
	Description string
	Fields      []string
}

// Codec holds the kinds table and turns packets into records and back.
// Safe for concurrent use.
type Codec struct {
	mu    sync.RWMutex
	kinds map[string]KindSpec
}

// NewCodec returns a codec with the built-in kinds registered.
func NewCodec() *Codec {
	c := NewEmptyCodec()
	registerBuiltins(c)
	return c
}

// NewEmptyCodec returns a codec with no kinds.
func NewEmptyCodec() *Codec {
	return &Codec{kinds: make(map[string]KindSpec)}
}

// Register adds a kind. Kind names are unique.
func (c *Codec) Register(kind string, spec KindSpec) error {
	if strings.TrimSpace(kind) == "" || kind != strings.TrimSpace(kind) {
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if spec.Verify == nil {
		return fmt.Errorf("%w: kind=%s", ErrNilVerifier, kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.kinds[kind]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, kind)
	}
	spec.Fields = append([]string(nil), spec.Fields...)
	c.kinds[kind] = spec
	return nil
}

func (c *Codec) lookup(kind string) (KindSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	spec, ok := c.kinds[kind]
	return spec, ok
}

// Kinds lists registered kinds sorted by name.
func (c *Codec) Kinds() []KindInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]KindInfo, 0, len(c.kinds))
	for name, spec := range c.kinds {
		out = append(out, KindInfo{
			Name:        name,
			Description: spec.Description,
			Fields:      append([]string(nil), spec.Fields...),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Encode stamps fields with the kind, verifies them and returns the JSON record.
// The caller frames the result. Nothing is produced when verification fails.
func (c *Codec) Encode(kind string, fields map[string]any) ([]byte, error) {
	spec, ok := c.lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	stamped := make(map[string]any, len(fields)+1)
	maps.Copy(stamped, fields)
	stamped[TypeField] = kind
	if err := verify(spec, kind, stamped); err != nil {
		return nil, err
	}
	record, err := json.Marshal(stamped)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode kind=%s: %w", kind, err)
	}
	return record, nil
}

// EncodePacket encodes p under its own kind.
func (c *Codec) EncodePacket(p Packet) ([]byte, error) {
	return c.Encode(p.Kind(), p.fields)
}

// Decode parses an untrusted record. It never panics; every failure is a *DecodeError.
func (c *Codec) Decode(record []byte) (p Packet, err error) {
	defer func() {
		if r := recover(); r != nil {
			p = Packet{}
			err = &DecodeError{Err: fmt.Errorf("verifier panic: %v", r)}
		}
	}()
	if len(record) == 0 {
		return Packet{}, &DecodeError{Err: ErrEmptyRecord}
	}
	var fields map[string]any
	if err := json.Unmarshal(record, &fields); err != nil {
		return Packet{}, &DecodeError{Err: err}
	}
	if fields == nil {
		return Packet{}, &DecodeError{Err: ErrMissingType}
	}
	kind, ok := fields[TypeField].(string)
	if !ok || kind == "" {
		return Packet{}, &DecodeError{Err: ErrMissingType}
	}
	spec, ok := c.lookup(kind)
	if !ok {
		return Packet{}, &DecodeError{Kind: kind, Err: ErrUnknownKind}
	}
	if err := verify(spec, kind, fields); err != nil {
		return Packet{}, &DecodeError{Kind: kind, Err: err}
	}
	return Packet{kind: kind, fields: fields}, nil
}

// Pack turns any supported payload into a verified Encoded record:
// Packet, Encoded (as built by a codec), a map[string]any record (kind from "type", Message by
// default), a string (Message content) or an already-encoded []byte record.
func (c *Codec) Pack(payload any) (Encoded, error) {
	switch v := payload.(type) {
	case Encoded:
		if v.IsZero() {
			return Encoded{}, ErrUnverifiedRecord
		}
		return v, nil
	case Packet:
		record, err := c.EncodePacket(v)
		if err != nil {
			return Encoded{}, err
		}
		return Encoded{kind: v.Kind(), record: record}, nil
	case map[string]any:
		kind := KindMessage
		if t, ok := v[TypeField].(string); ok && t != "" {
			kind = t
		}
		record, err := c.Encode(kind, v)
		if err != nil {
			return Encoded{}, err
		}
		return Encoded{kind: kind, record: record}, nil
	case string:
		return c.Pack(NewMessage(v))
	case []byte:
		p, err := c.Decode(v)
		if err != nil {
			return Encoded{}, err
		}
		record := make([]byte, len(v))
		copy(record, v)
		return Encoded{kind: p.Kind(), record: record}, nil
	default:
		return Encoded{}, fmt.Errorf("%w: %T", ErrUnsupportedPayload, payload)
	}
}

func verify(spec KindSpec, kind string, fields map[string]any) error {
	err := spec.Verify(kind, fields)
	if err == nil {
		return nil
	}
	var verr *schema.VerificationError
	if errors.As(err, &verr) {
		return err
	}
	return &schema.VerificationError{Kind: kind, Reason: err.Error()}
}
