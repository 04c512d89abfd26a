package types

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/holiman/uint256"
)

// The envelope and every contract message use the SCALE binary layout:
// fixed-width integers are little endian, byte vectors and strings carry a
// compact length prefix and booleans are a single 0x00/0x01 byte.

var (
	// ErrShortInput is returned when the reader runs out of bytes.
	ErrShortInput = errors.New("scale: unexpected end of input")
	// ErrTrailingBytes is returned when a decoder leaves unread bytes.
	ErrTrailingBytes = errors.New("scale: trailing bytes")
	// ErrInvalidBool marks a boolean byte other than 0x00 or 0x01.
	ErrInvalidBool = errors.New("scale: invalid bool")
	// ErrU128Overflow marks values that do not fit in 128 bits.
	ErrU128Overflow = errors.New("scale: value exceeds 128 bits")
	// ErrCompactOverflow marks compact integers wider than 64 bits.
	ErrCompactOverflow = errors.New("scale: compact integer exceeds 64 bits")
)

// ScaleWriter accumulates a SCALE encoding.
type ScaleWriter struct {
	buf []byte
}

// NewScaleWriter returns a writer with capacity preallocated.
func NewScaleWriter(capacity int) *ScaleWriter {
	return &ScaleWriter{buf: make([]byte, 0, capacity)}
}

// Bytes returns the accumulated encoding.
func (w *ScaleWriter) Bytes() []byte {
	return w.buf
}

// WriteFixed appends raw bytes without a length prefix.
func (w *ScaleWriter) WriteFixed(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *ScaleWriter) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

func (w *ScaleWriter) WriteU32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *ScaleWriter) WriteU64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// WriteU128 appends v as 16 little endian bytes. A nil value encodes as zero.
func (w *ScaleWriter) WriteU128(v *uint256.Int) error {
	if v == nil {
		w.buf = append(w.buf, make([]byte, 16)...)
		return nil
	}
	if v[2] != 0 || v[3] != 0 {
		return ErrU128Overflow
	}
	w.WriteU64(v[0])
	w.WriteU64(v[1])
	return nil
}

// WriteCompact appends v using the SCALE compact integer format.
func (w *ScaleWriter) WriteCompact(v uint64) {
	switch {
	case v < 1<<6:
		w.buf = append(w.buf, byte(v<<2))
	case v < 1<<14:
		w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(v<<2)|0b01)
	case v < 1<<30:
		w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v<<2)|0b10)
	default:
		n := 4
		for n < 8 && v>>(8*uint(n)) != 0 {
			n++
		}
		w.buf = append(w.buf, byte((n-4)<<2)|0b11)
		for i := 0; i < n; i++ {
			w.buf = append(w.buf, byte(v>>(8*uint(i))))
		}
	}
}

// WriteBytes appends a compact length prefix followed by b.
func (w *ScaleWriter) WriteBytes(b []byte) {
	w.WriteCompact(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *ScaleWriter) WriteString(s string) {
	w.WriteBytes([]byte(s))
}

// ScaleReader consumes a SCALE encoding.
type ScaleReader struct {
	buf []byte
	off int
}

func NewScaleReader(b []byte) *ScaleReader {
	return &ScaleReader{buf: b}
}

// Remaining reports how many bytes are still unread.
func (r *ScaleReader) Remaining() int {
	return len(r.buf) - r.off
}

// Done returns ErrTrailingBytes when unread bytes remain.
func (r *ScaleReader) Done() error {
	if r.Remaining() != 0 {
		return fmt.Errorf("%w: %d", ErrTrailingBytes, r.Remaining())
	}
	return nil
}

// ReadFixed returns a copy of the next n bytes.
func (r *ScaleReader) ReadFixed(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, ErrShortInput
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+n])
	r.off += n
	return out, nil
}

func (r *ScaleReader) ReadBool() (bool, error) {
	b, err := r.ReadFixed(1)
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: 0x%02x", ErrInvalidBool, b[0])
	}
}

func (r *ScaleReader) ReadU32() (uint32, error) {
	b, err := r.ReadFixed(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *ScaleReader) ReadU64() (uint64, error) {
	b, err := r.ReadFixed(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *ScaleReader) ReadU128() (*uint256.Int, error) {
	lo, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	hi, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	v := new(uint256.Int)
	v[0], v[1] = lo, hi
	return v, nil
}

func (r *ScaleReader) ReadCompact() (uint64, error) {
	first, err := r.ReadFixed(1)
	if err != nil {
		return 0, err
	}
	switch first[0] & 0b11 {
	case 0b00:
		return uint64(first[0] >> 2), nil
	case 0b01:
		next, err := r.ReadFixed(1)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16([]byte{first[0], next[0]}) >> 2), nil
	case 0b10:
		rest, err := r.ReadFixed(3)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(append(first, rest...)) >> 2), nil
	default:
		n := int(first[0]>>2) + 4
		if n > 8 {
			return 0, ErrCompactOverflow
		}
		raw, err := r.ReadFixed(n)
		if err != nil {
			return 0, err
		}
		var v uint64
		for i := n - 1; i >= 0; i-- {
			v = v<<8 | uint64(raw[i])
		}
		return v, nil
	}
}

// ReadBytes reads a compact length prefix and the bytes that follow.
func (r *ScaleReader) ReadBytes() ([]byte, error) {
	n, err := r.ReadCompact()
	if err != nil {
		return nil, err
	}
	if n > math.MaxInt32 || int(n) > r.Remaining() {
		return nil, ErrShortInput
	}
	return r.ReadFixed(int(n))
}

func (r *ScaleReader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
