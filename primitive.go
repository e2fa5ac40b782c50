package bmff

import (
	"encoding/binary"

	"github.com/go-bmff/isobox/mp4err"
)

var be = binary.BigEndian

const uint32Max = 1<<32 - 1

// mp4EpochToUnixSeconds is the number of seconds from the MP4 epoch
// (1904-01-01 UTC) to the Unix epoch (1970-01-01 UTC).
const mp4EpochToUnixSeconds = 2082844800

// UnixToMP4Time converts a Unix timestamp (seconds) to an MP4 timestamp
// (seconds since 1904-01-01 UTC).
func UnixToMP4Time(unixSeconds int64) uint64 {
	return uint64(unixSeconds + mp4EpochToUnixSeconds)
}

// MP4TimeToUnix converts an MP4 timestamp to a Unix timestamp (seconds).
func MP4TimeToUnix(mp4Seconds uint64) int64 {
	return int64(mp4Seconds) - mp4EpochToUnixSeconds
}

// byteReader is a bounds-checked cursor over a box's payload. Every box
// decode function receives one scoped to exactly its payload so that
// the "unconsumed bytes" invariant (ISO/IEC 14496-12 box framing) can be
// checked once all fields have been read.
type byteReader struct {
	b   []byte
	pos int
}

func newByteReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) remaining() int { return len(r.b) - r.pos }

func (r *byteReader) done() bool { return r.pos >= len(r.b) }

func (r *byteReader) need(n int) error {
	if n < 0 || r.remaining() < n {
		return mp4err.New(mp4err.InvalidData, "need %d bytes, have %d", n, r.remaining())
	}
	return nil
}

func (r *byteReader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *byteReader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := be.Uint16(r.b[r.pos:])
	r.pos += 2
	return v, nil
}

// u24 reads a 3-byte big-endian unsigned integer.
func (r *byteReader) u24() (uint32, error) {
	if err := r.need(3); err != nil {
		return 0, err
	}
	v := uint32(r.b[r.pos])<<16 | uint32(r.b[r.pos+1])<<8 | uint32(r.b[r.pos+2])
	r.pos += 3
	return v, nil
}

func (r *byteReader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := be.Uint32(r.b[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *byteReader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := be.Uint64(r.b[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *byteReader) i16() (int16, error) { v, err := r.u16(); return int16(v), err }
func (r *byteReader) i32() (int32, error) { v, err := r.u32(); return int32(v), err }
func (r *byteReader) i64() (int64, error) { v, err := r.u64(); return int64(v), err }

func (r *byteReader) skip(n int) error {
	if err := r.need(n); err != nil {
		return err
	}
	r.pos += n
	return nil
}

// bytes returns the next n bytes as a sub-slice of the underlying buffer
// (not a copy) and advances the cursor.
func (r *byteReader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.b[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

// rest returns and consumes all remaining bytes.
func (r *byteReader) rest() []byte {
	v := r.b[r.pos:]
	r.pos = len(r.b)
	return v
}

// fourCC reads a 4-byte box type.
func (r *byteReader) fourCC() (BoxType, error) {
	b, err := r.bytes(4)
	if err != nil {
		return BoxType{}, err
	}
	var t BoxType
	copy(t[:], b)
	return t, nil
}

// cstring reads a UTF-8 string terminated by a single 0x00 byte. An
// interior 0x00 byte before the terminator is not possible by
// construction: the scan stops at the first zero found.
func (r *byteReader) cstring() (string, error) {
	start := r.pos
	for r.pos < len(r.b) {
		if r.b[r.pos] == 0 {
			s := string(r.b[start:r.pos])
			r.pos++
			return s, nil
		}
		r.pos++
	}
	return "", mp4err.New(mp4err.InvalidData, "unterminated string")
}

// byteWriter is an append-only box payload builder with backpatched
// size fields for nested boxes (startBox/endBox).
type byteWriter struct {
	buf   []byte
	stack []int
}

func (w *byteWriter) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *byteWriter) u16(v uint16) { w.buf = be.AppendUint16(w.buf, v) }
func (w *byteWriter) u24(v uint32) {
	w.buf = append(w.buf, byte(v>>16), byte(v>>8), byte(v))
}
func (w *byteWriter) u32(v uint32) { w.buf = be.AppendUint32(w.buf, v) }
func (w *byteWriter) u64(v uint64) { w.buf = be.AppendUint64(w.buf, v) }
func (w *byteWriter) i16(v int16)  { w.u16(uint16(v)) }
func (w *byteWriter) i32(v int32)  { w.u32(uint32(v)) }
func (w *byteWriter) i64(v int64)  { w.u64(uint64(v)) }

func (w *byteWriter) zeros(n int) {
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0)
	}
}

func (w *byteWriter) rawBytes(p []byte) { w.buf = append(w.buf, p...) }

// fixedString writes a fixed-length, null-padded string field.
func (w *byteWriter) fixedString(s string, length int) {
	n := min(len(s), length)
	w.rawBytes([]byte(s[:n]))
	w.zeros(length - n)
}

// cstring writes a null-terminated UTF-8 string. The caller must ensure
// s has no interior NUL byte; the box catalog rejects such strings on
// construction before this is ever called.
func (w *byteWriter) cstring(s string) {
	w.rawBytes([]byte(s))
	w.u8(0)
}

// startBox reserves space for a 32-bit size placeholder plus a FourCC
// and records the offset for endBox to backpatch.
func (w *byteWriter) startBox(t BoxType) {
	w.stack = append(w.stack, len(w.buf))
	w.u32(0)
	w.rawBytes(t[:])
}

func (w *byteWriter) startFullBox(t BoxType, version uint8, flags uint32) {
	w.startBox(t)
	w.u32(uint32(version)<<24 | flags&0x00ffffff)
}

func (w *byteWriter) endBox() {
	n := len(w.stack)
	start := w.stack[n-1]
	w.stack = w.stack[:n-1]
	be.PutUint32(w.buf[start:], uint32(len(w.buf)-start))
}
