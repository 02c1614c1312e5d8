package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// PrefixLen is the size of the big-endian length prefix ahead of every record.
const PrefixLen = 4

var (
	ErrShortPrefix   = errors.New("frame: short length prefix")
	ErrFrameTooLarge = errors.New("frame: frame too large")
	ErrEmptyFrame    = errors.New("frame: empty frame")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxFrameBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes: 64 * 1024,
	}
}

// WithDefaults fills zero-valued limits.
func (l Limits) WithDefaults() Limits {
	if l.MaxFrameBytes == 0 {
		l.MaxFrameBytes = DefaultLimits().MaxFrameBytes
	}
	return l
}

// TooLargeError reports the declared size of a rejected frame.
type TooLargeError struct {
	Size  uint64
	Limit uint32
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("frame: frame too large: size=%d limit=%d", e.Size, e.Limit)
}

func (e *TooLargeError) Is(target error) bool {
	return target == ErrFrameTooLarge
}

// Encode prefixes record with its length.
func Encode(record []byte, limits Limits) ([]byte, error) {
	limits = limits.WithDefaults()
	if uint64(len(record)) > uint64(limits.MaxFrameBytes) {
		return nil, &TooLargeError{Size: uint64(len(record)), Limit: limits.MaxFrameBytes}
	}
	buf := make([]byte, PrefixLen+len(record))
	binary.BigEndian.PutUint32(buf[:PrefixLen], uint32(len(record)))
	copy(buf[PrefixLen:], record)
	return buf, nil
}

func WriteFrame(w io.Writer, record []byte, limits Limits) error {
	buf, err := Encode(record, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads exactly one length-prefixed record from r.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	limits = limits.WithDefaults()
	var prefix [PrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortPrefix
		}
		return nil, err
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > limits.MaxFrameBytes {
		return nil, &TooLargeError{Size: uint64(size), Limit: limits.MaxFrameBytes}
	}
	record := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, record); err != nil {
			return nil, err
		}
	}
	return record, nil
}
