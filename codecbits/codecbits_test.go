package codecbits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	b, err := Pack(
		Field{Value: 10, Width: 4},
		Field{Value: 1, Width: 3},
		Field{Value: 1, Width: 1},
	)
	require.NoError(t, err)
	assert.Equal(t, byte(10<<4|1<<1|1), b)

	fields, err := Unpack(b, 4, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 1, 1}, fields)
}

func TestPackRejectsOverWideValue(t *testing.T) {
	_, err := Pack(Field{Value: 16, Width: 4}, Field{Value: 0, Width: 4})
	require.Error(t, err)
}

func TestPackRequiresFullByte(t *testing.T) {
	_, err := Pack(Field{Value: 1, Width: 4})
	require.Error(t, err)
}

func TestReaderSequentialBits(t *testing.T) {
	r := NewReader([]byte{0b1010_1100, 0xff})
	v, err := r.Bits(4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b1010), v)

	bit, err := r.Bit()
	require.NoError(t, err)
	assert.True(t, bit)

	v, err = r.Bits(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b100), v)
}

func TestReaderExpectReservedBits(t *testing.T) {
	r := NewReader([]byte{0xfc})
	require.NoError(t, r.ExpectReservedBits(6, 0x3f))

	r = NewReader([]byte{0x00})
	err := r.ExpectReservedBits(6, 0x3f)
	require.Error(t, err)
}

func TestWriterRoundTrip(t *testing.T) {
	w := NewWriter()
	require.NoError(t, w.Bits(0x3f, 6))
	require.NoError(t, w.Bits(2, 2))
	require.NoError(t, w.ReservedBits(3, 0x7))
	require.NoError(t, w.Bit(true))
	require.NoError(t, w.Bits(9, 4))
	out, err := w.Bytes()
	require.NoError(t, err)
	require.Len(t, out, 2)

	r := NewReader(out)
	v, err := r.Bits(6)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x3f), v)
	v, err = r.Bits(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
	require.NoError(t, r.ExpectReservedBits(3, 0x7))
	bit, err := r.Bit()
	require.NoError(t, err)
	assert.True(t, bit)
	v, err = r.Bits(4)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), v)
}

func TestWriterRejectsOverWideValue(t *testing.T) {
	w := NewWriter()
	require.Error(t, w.Bits(4, 2))
}
