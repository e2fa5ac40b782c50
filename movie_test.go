package bmff

import (
	"testing"

	"github.com/go-bmff/isobox/mp4err"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, box *Box) *Box {
	t.Helper()
	buf, err := Encode(box)
	require.NoError(t, err)
	dec, n, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	out, err := Encode(dec)
	require.NoError(t, err)
	require.Equal(t, buf, out, "re-encoding is not byte-identical")
	return dec
}

func TestFtypRoundTrip(t *testing.T) {
	box := &Box{Type: TypeFtyp, Ftyp: &Ftyp{
		MajorBrand:       BoxType{'i', 's', 'o', 'm'},
		MinorVersion:     0x200,
		CompatibleBrands: []BoxType{{'i', 's', 'o', 'm'}, {'a', 'v', 'c', '1'}},
	}}
	dec := roundTrip(t, box)
	assert.Equal(t, box.Ftyp, dec.Ftyp)
}

func TestFtypRaggedBrands(t *testing.T) {
	buf := make([]byte, 18)
	be.PutUint32(buf, 18)
	copy(buf[4:8], "ftyp")
	copy(buf[8:12], "isom")
	_, _, err := Decode(buf)
	require.Error(t, err)
	assert.True(t, mp4err.Is(err, mp4err.InvalidData))
}

func TestMvhdVersionSelection(t *testing.T) {
	v0 := &Box{Type: TypeMvhd, Mvhd: &Mvhd{Timescale: 1000, Duration: 5000, Rate: 0x10000, Volume: 0x100, NextTrackID: 2}}
	buf, err := Encode(v0)
	require.NoError(t, err)
	assert.Equal(t, byte(0), buf[8], "32-bit fields must use version 0")
	dec := roundTrip(t, v0)
	assert.Equal(t, v0.Mvhd, dec.Mvhd)

	v1 := &Box{Type: TypeMvhd, Mvhd: &Mvhd{Timescale: 1000, Duration: uint64(1) << 40, Rate: 0x10000, Volume: 0x100, NextTrackID: 2}}
	buf, err = Encode(v1)
	require.NoError(t, err)
	assert.Equal(t, byte(1), buf[8], "64-bit duration must force version 1")
	dec = roundTrip(t, v1)
	assert.Equal(t, v1.Mvhd, dec.Mvhd)
}

func TestTkhdFlagsAndGeometry(t *testing.T) {
	box := &Box{Type: TypeTkhd, Tkhd: &Tkhd{
		TrackID: 3, Duration: 99, Layer: -1, Volume: 0x100,
		Width: 1920 << 16, Height: 1080 << 16,
		Enabled: true, InMovie: true, InPreview: true,
	}}
	dec := roundTrip(t, box)
	assert.Equal(t, box.Tkhd, dec.Tkhd)
}

func TestMdhdLanguagePacking(t *testing.T) {
	box := &Box{Type: TypeMdhd, Mdhd: &Mdhd{Timescale: 48000, Duration: 960, Language: "und"}}
	buf, err := Encode(box)
	require.NoError(t, err)
	// und = (0x15<<10)|(0x0e<<5)|0x04
	packed := be.Uint16(buf[len(buf)-4 : len(buf)-2])
	assert.Equal(t, uint16(0x55c4), packed)
	dec := roundTrip(t, box)
	assert.Equal(t, "und", dec.Mdhd.Language)
}

func TestMdhdLanguagePadBit(t *testing.T) {
	box := &Box{Type: TypeMdhd, Mdhd: &Mdhd{Timescale: 1, Language: "eng"}}
	buf, err := Encode(box)
	require.NoError(t, err)
	buf[len(buf)-4] |= 0x80 // set the pad bit
	_, _, err = Decode(buf)
	require.Error(t, err)
	assert.True(t, mp4err.Is(err, mp4err.InvalidData))
}

func TestMdhdVersion1(t *testing.T) {
	box := &Box{Type: TypeMdhd, Mdhd: &Mdhd{Timescale: 90000, Duration: uint64(1) << 35, Language: "jpn"}}
	dec := roundTrip(t, box)
	assert.Equal(t, box.Mdhd, dec.Mdhd)
}

func TestHdlrRoundTrip(t *testing.T) {
	box := &Box{Type: TypeHdlr, Hdlr: &Hdlr{HandlerType: BoxType{'s', 'o', 'u', 'n'}, Name: "SoundHandler"}}
	dec := roundTrip(t, box)
	assert.Equal(t, box.Hdlr, dec.Hdlr)
}

func TestHdlrInteriorNulRejected(t *testing.T) {
	box := &Box{Type: TypeHdlr, Hdlr: &Hdlr{HandlerType: BoxType{'v', 'i', 'd', 'e'}, Name: "bad\x00name"}}
	_, err := Encode(box)
	require.Error(t, err)
	assert.True(t, mp4err.Is(err, mp4err.InvalidInput))
}

func TestVmhdSmhdRoundTrip(t *testing.T) {
	vmhd := roundTrip(t, &Box{Type: TypeVmhd, Vmhd: &Vmhd{GraphicsMode: 0, OpColor: [3]uint16{1, 2, 3}}})
	assert.Equal(t, [3]uint16{1, 2, 3}, vmhd.Vmhd.OpColor)
	smhd := roundTrip(t, &Box{Type: TypeSmhd, Smhd: &Smhd{Balance: -0x100}})
	assert.Equal(t, int16(-0x100), smhd.Smhd.Balance)
}

func TestElstBothVersions(t *testing.T) {
	v0 := &Box{Type: TypeElst, Elst: &Elst{Entries: []ElstEntry{
		{SegmentDuration: 100, MediaTime: -1, MediaRateInteger: 1},
		{SegmentDuration: 200, MediaTime: 50, MediaRateInteger: 1},
	}}}
	buf, err := Encode(v0)
	require.NoError(t, err)
	assert.Equal(t, byte(0), buf[8])
	dec := roundTrip(t, v0)
	assert.Equal(t, v0.Elst, dec.Elst)

	v1 := &Box{Type: TypeElst, Elst: &Elst{Entries: []ElstEntry{
		{SegmentDuration: uint64(1) << 40, MediaTime: 0, MediaRateInteger: 1},
	}}}
	buf, err = Encode(v1)
	require.NoError(t, err)
	assert.Equal(t, byte(1), buf[8])
	dec = roundTrip(t, v1)
	assert.Equal(t, v1.Elst, dec.Elst)
}

func TestUrlLocationRoundTrip(t *testing.T) {
	box := &Box{Type: TypeUrl, Url: &DataEntryURL{Location: "http://example.com/a.mp4"}}
	dec := roundTrip(t, box)
	assert.Equal(t, box.Url, dec.Url)
}
