package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/relaychat/internal/testutil/testlog"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	record := []byte(`{"content":"hi","type":"Message"}`)
	var buf bytes.Buffer
	if err := WriteFrame(&buf, record, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if buf.Len() != PrefixLen+len(record) {
		t.Fatalf("unexpected wire size=%d", buf.Len())
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(out, record) {
		t.Fatalf("record mismatch: got=%q", out)
	}
}

func TestReadFrameShortPrefixIsDeterministic(t *testing.T) {
	testlog.Start(t)
	_, err := ReadFrame(bytes.NewReader([]byte{0, 1}), DefaultLimits())
	if !errors.Is(err, ErrShortPrefix) {
		t.Fatalf("expected ErrShortPrefix, got %v", err)
	}
}

func TestReadFrameRejectsOversize(t *testing.T) {
	testlog.Start(t)
	_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 9}), Limits{MaxFrameBytes: 8})
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	var tooLarge *TooLargeError
	if !errors.As(err, &tooLarge) || tooLarge.Size != 9 || tooLarge.Limit != 8 {
		t.Fatalf("unexpected error detail: %#v", err)
	}
}

func TestEncodeRejectsOversize(t *testing.T) {
	testlog.Start(t)
	if _, err := Encode(make([]byte, 9), Limits{MaxFrameBytes: 8}); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestAccumulatorSplitAndMergedChunks(t *testing.T) {
	testlog.Start(t)
	a, _ := Encode([]byte("alpha"), DefaultLimits())
	b, _ := Encode([]byte("bravo"), DefaultLimits())
	c, _ := Encode([]byte("charlie"), DefaultLimits())
	stream := append(append(append([]byte{}, a...), b...), c...)

	// Byte-at-a-time delivery.
	acc := NewAccumulator(DefaultLimits())
	var got []string
	for i := range stream {
		records, err := acc.Feed(stream[i : i+1])
		if err != nil {
			t.Fatalf("feed byte %d: %v", i, err)
		}
		for _, r := range records {
			got = append(got, string(r))
		}
	}
	if len(got) != 3 || got[0] != "alpha" || got[1] != "bravo" || got[2] != "charlie" {
		t.Fatalf("byte-wise records=%v", got)
	}
	if acc.Buffered() != 0 {
		t.Fatalf("expected empty buffer, got %d", acc.Buffered())
	}

	// Everything in one read.
	acc = NewAccumulator(DefaultLimits())
	records, err := acc.Feed(stream)
	if err != nil {
		t.Fatalf("feed all: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("merged records=%d", len(records))
	}

	// A partial trailing frame stays buffered.
	acc = NewAccumulator(DefaultLimits())
	records, err = acc.Feed(stream[:len(a)+3])
	if err != nil {
		t.Fatalf("feed partial: %v", err)
	}
	if len(records) != 1 || acc.Buffered() != 3 {
		t.Fatalf("partial records=%d buffered=%d", len(records), acc.Buffered())
	}
}

func TestAccumulatorZeroLengthFrame(t *testing.T) {
	testlog.Start(t)
	acc := NewAccumulator(DefaultLimits())
	records, err := acc.Feed([]byte{0, 0, 0, 0})
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(records) != 1 || len(records[0]) != 0 {
		t.Fatalf("expected one empty record, got %v", records)
	}
}

func TestAccumulatorOversizeKeepsEarlierRecords(t *testing.T) {
	testlog.Start(t)
	ok, _ := Encode([]byte("ok"), DefaultLimits())
	stream := append(ok, 0, 0, 1, 0)
	acc := NewAccumulator(Limits{MaxFrameBytes: 16})
	records, err := acc.Feed(stream)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if len(records) != 1 || string(records[0]) != "ok" {
		t.Fatalf("expected earlier record to survive, got %v", records)
	}
}
