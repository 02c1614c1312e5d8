package frame

import "encoding/binary"

// Accumulator reassembles length-prefixed records from arbitrary transport chunks.
// It is not safe for concurrent use; each connection owns one.
type Accumulator struct {
	limits Limits
	buf    []byte
}

func NewAccumulator(limits Limits) *Accumulator {
	return &Accumulator{limits: limits.WithDefaults()}
}

// Feed appends chunk and returns every record completed by it, in order.
// A declared size above the limit returns the records completed before it
// together with a *TooLargeError; the accumulator should be discarded after that.
func (a *Accumulator) Feed(chunk []byte) ([][]byte, error) {
	a.buf = append(a.buf, chunk...)
	var out [][]byte
	for len(a.buf) >= PrefixLen {
		size := binary.BigEndian.Uint32(a.buf[:PrefixLen])
		if size > a.limits.MaxFrameBytes {
			a.buf = nil
			return out, &TooLargeError{Size: uint64(size), Limit: a.limits.MaxFrameBytes}
		}
		end := PrefixLen + int(size)
		if len(a.buf) < end {
			break
		}
		record := make([]byte, size)
		copy(record, a.buf[PrefixLen:end])
		out = append(out, record)
		a.buf = a.buf[end:]
	}
	if len(a.buf) == 0 {
		a.buf = nil
	}
	return out, nil
}

// Buffered reports how many bytes are waiting for the rest of their frame.
func (a *Accumulator) Buffered() int {
	return len(a.buf)
}
