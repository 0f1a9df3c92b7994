package rayarc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"testing/iotest"
)

func TestXORReaderMatchesXORBytes(t *testing.T) {
	t.Parallel()

	data := randomPayload(60, 1031)
	keys := [][]byte{{0x5A}, {1, 2, 3, 4}, {0, 0, 0, 0}, nil}

	for _, key := range keys {
		want := append([]byte(nil), data...)
		xorBytes(want, key)

		// one-byte reads keep the key position across calls
		got, err := io.ReadAll(newXORReader(iotest.OneByteReader(bytes.NewReader(data)), key))
		if err != nil {
			t.Fatalf("key %v: ReadAll: %v", key, err)
		}

		if !bytes.Equal(got, want) {
			t.Fatalf("key %v: stream and slice XOR differ", key)
		}

		xorBytes(got, key)
		if !bytes.Equal(got, data) {
			t.Fatalf("key %v: XOR is not an involution", key)
		}
	}
}

func TestAdditiveSum(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{0xFF}, 3)
	if got := additiveSum(data, checksum8); got != 0xFD {
		t.Fatalf("8-bit sum=0x%X, want 0xFD", got)
	}
	if got := additiveSum(data, checksum32); got != 0x2FD {
		t.Fatalf("32-bit sum=0x%X, want 0x2FD", got)
	}
	if got := additiveSum(nil, checksum32); got != 0 {
		t.Fatalf("empty sum=0x%X, want 0", got)
	}
}

func TestChecksumReader(t *testing.T) {
	t.Parallel()

	data := []byte("checksummed")
	want := additiveSum(data, checksum8)

	got, err := io.ReadAll(newChecksumReader(bytes.NewReader(data), "ok", want, checksum8))
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("valid stream: data=%q err=%v", got, err)
	}

	_, err = io.ReadAll(newChecksumReader(bytes.NewReader(data), "bad", want+1, checksum8))
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestSizeCheckReader(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		data    string
		want    int64
		wantErr bool
	}{
		{name: "exact", data: "abcd", want: 4},
		{name: "short", data: "ab", want: 4, wantErr: true},
		{name: "long", data: "abcdef", want: 4, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := &sizeCheckReader{r: bytes.NewReader([]byte(tc.data)), name: tc.name, want: tc.want}
			_, err := io.ReadAll(r)
			if tc.wantErr != errors.Is(err, ErrDecode) {
				t.Fatalf("err=%v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestTableReader(t *testing.T) {
	t.Parallel()

	raw := []byte{0x01}
	raw = binary.LittleEndian.AppendUint32(raw, 0xFFFFFFFF)
	raw = binary.LittleEndian.AppendUint32(raw, 3)
	raw = append(raw, "abc"...)

	r := &tableReader{r: bytes.NewReader(raw), order: binary.LittleEndian, limit: int64(len(raw)), format: "test"}
	if got := r.u8(); got != 1 {
		t.Fatalf("u8=%d", got)
	}
	if got := r.i32(); got != -1 {
		t.Fatalf("i32=%d", got)
	}
	if got := string(r.lenBytes()); got != "abc" {
		t.Fatalf("lenBytes=%q", got)
	}
	if r.err != nil || r.pos != int64(len(raw)) {
		t.Fatalf("err=%v pos=%d", r.err, r.pos)
	}

	_ = r.u32()
	if !errors.Is(r.err, ErrInvalidArchive) {
		t.Fatalf("expected ErrInvalidArchive past end, got %v", r.err)
	}

	long := binary.LittleEndian.AppendUint32(nil, 1000)
	r = &tableReader{r: bytes.NewReader(long), order: binary.LittleEndian, limit: int64(len(long)), format: "test"}
	if got := r.lenBytes(); got != nil || !errors.Is(r.err, ErrInvalidArchive) {
		t.Fatalf("oversized string: got %q err=%v", got, r.err)
	}
}
