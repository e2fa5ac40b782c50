package bmff

import (
	"strings"

	"github.com/go-bmff/isobox/mp4err"
)

// Ftyp is the file type box: a major brand, a minor version, and a list
// of compatible brands. styp (segment type) shares this same payload
// shape and decoder/encoder.
type Ftyp struct {
	MajorBrand       BoxType
	MinorVersion     uint32
	CompatibleBrands []BoxType
}

func decodeFtyp(box *Box, r *byteReader) error {
	major, err := r.fourCC()
	if err != nil {
		return err
	}
	minor, err := r.u32()
	if err != nil {
		return err
	}
	if r.remaining()%4 != 0 {
		return mp4err.New(mp4err.InvalidData, "ftyp compatible brands not a multiple of 4 bytes")
	}
	var brands []BoxType
	for !r.done() {
		b, err := r.fourCC()
		if err != nil {
			return err
		}
		brands = append(brands, b)
	}
	box.Ftyp = &Ftyp{MajorBrand: major, MinorVersion: minor, CompatibleBrands: brands}
	return nil
}

func encodeFtyp(box *Box, w *byteWriter) error {
	f := box.Ftyp
	w.rawBytes(f.MajorBrand[:])
	w.u32(f.MinorVersion)
	for _, b := range f.CompatibleBrands {
		w.rawBytes(b[:])
	}
	return nil
}

func init() {
	register(TypeFtyp, decodeFtyp, encodeFtyp)
	register(TypeStyp, decodeFtyp, encodeFtyp)
}

// Mvhd is the movie header box. Times are in the MP4 epoch (seconds
// since 1904-01-01 UTC, see UnixToMP4Time/MP4TimeToUnix).
type Mvhd struct {
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64 // all-ones on the wire means unknown: 0xffffffff from version 0, 0xffffffffffffffff from version 1
	Rate             int32  // 16.16 fixed point, typically 0x00010000
	Volume           int16  // 8.8 fixed point, typically 0x0100
	Matrix           [9]int32
	NextTrackID      uint32
}

const mvhdUnknownDuration = uint64(uint32Max)

func decodeMvhd(box *Box, r *byteReader) error {
	m := &Mvhd{}
	var err error
	if box.Version == 1 {
		if m.CreationTime, err = r.u64(); err != nil {
			return err
		}
		if m.ModificationTime, err = r.u64(); err != nil {
			return err
		}
		if m.Timescale, err = r.u32(); err != nil {
			return err
		}
		if m.Duration, err = r.u64(); err != nil {
			return err
		}
	} else {
		ct, err := r.u32()
		if err != nil {
			return err
		}
		mt, err := r.u32()
		if err != nil {
			return err
		}
		if m.Timescale, err = r.u32(); err != nil {
			return err
		}
		dur, err := r.u32()
		if err != nil {
			return err
		}
		m.CreationTime, m.ModificationTime, m.Duration = uint64(ct), uint64(mt), uint64(dur)
	}
	if m.Rate, err = r.i32(); err != nil {
		return err
	}
	if m.Volume, err = r.i16(); err != nil {
		return err
	}
	if err := r.skip(2); err != nil { // reserved
		return err
	}
	if err := r.skip(8); err != nil { // reserved[2]
		return err
	}
	for i := range m.Matrix {
		if m.Matrix[i], err = r.i32(); err != nil {
			return err
		}
	}
	if err := r.skip(24); err != nil { // pre_defined[6]
		return err
	}
	if m.NextTrackID, err = r.u32(); err != nil {
		return err
	}
	box.Mvhd = m
	return nil
}

func encodeMvhd(box *Box, w *byteWriter) error {
	m := box.Mvhd
	version := uint8(0)
	if m.CreationTime > uint32Max || m.ModificationTime > uint32Max || m.Duration > uint32Max {
		version = 1
	}
	writeFullBoxHeader(w, version, 0)
	if version == 1 {
		w.u64(m.CreationTime)
		w.u64(m.ModificationTime)
		w.u32(m.Timescale)
		w.u64(m.Duration)
	} else {
		w.u32(uint32(m.CreationTime))
		w.u32(uint32(m.ModificationTime))
		w.u32(m.Timescale)
		w.u32(uint32(m.Duration))
	}
	w.i32(m.Rate)
	w.i16(m.Volume)
	w.zeros(2)
	w.zeros(8)
	for _, v := range m.Matrix {
		w.i32(v)
	}
	w.zeros(24)
	w.u32(m.NextTrackID)
	return nil
}

func init() { register(TypeMvhd, decodeMvhd, encodeMvhd) }

// Tkhd is the track header box.
type Tkhd struct {
	CreationTime     uint64
	ModificationTime uint64
	TrackID          uint32
	Duration         uint64
	Layer            int16
	AlternateGroup   int16
	Volume           int16 // 8.8 fixed point; 0 for non-audio tracks
	Matrix           [9]int32
	Width            uint32 // 16.16 fixed point
	Height           uint32 // 16.16 fixed point
	// Enabled, InMovie, InPreview, SizeIsAspectRatio are the four
	// track_header flag bits defined by the format (0x1, 0x2, 0x4, 0x8).
	Enabled           bool
	InMovie           bool
	InPreview         bool
	SizeIsAspectRatio bool
}

func decodeTkhd(box *Box, r *byteReader) error {
	t := &Tkhd{
		Enabled:           box.Flags&0x1 != 0,
		InMovie:           box.Flags&0x2 != 0,
		InPreview:         box.Flags&0x4 != 0,
		SizeIsAspectRatio: box.Flags&0x8 != 0,
	}
	var err error
	if box.Version == 1 {
		if t.CreationTime, err = r.u64(); err != nil {
			return err
		}
		if t.ModificationTime, err = r.u64(); err != nil {
			return err
		}
		if t.TrackID, err = r.u32(); err != nil {
			return err
		}
		if err := r.skip(4); err != nil { // reserved
			return err
		}
		if t.Duration, err = r.u64(); err != nil {
			return err
		}
	} else {
		ct, err := r.u32()
		if err != nil {
			return err
		}
		mt, err := r.u32()
		if err != nil {
			return err
		}
		if t.TrackID, err = r.u32(); err != nil {
			return err
		}
		if err := r.skip(4); err != nil {
			return err
		}
		dur, err := r.u32()
		if err != nil {
			return err
		}
		t.CreationTime, t.ModificationTime, t.Duration = uint64(ct), uint64(mt), uint64(dur)
	}
	if err := r.skip(8); err != nil { // reserved[2]
		return err
	}
	if t.Layer, err = r.i16(); err != nil {
		return err
	}
	if t.AlternateGroup, err = r.i16(); err != nil {
		return err
	}
	if t.Volume, err = r.i16(); err != nil {
		return err
	}
	if err := r.skip(2); err != nil { // reserved
		return err
	}
	for i := range t.Matrix {
		if t.Matrix[i], err = r.i32(); err != nil {
			return err
		}
	}
	if t.Width, err = r.u32(); err != nil {
		return err
	}
	if t.Height, err = r.u32(); err != nil {
		return err
	}
	box.Tkhd = t
	return nil
}

func encodeTkhd(box *Box, w *byteWriter) error {
	t := box.Tkhd
	version := uint8(0)
	if t.CreationTime > uint32Max || t.ModificationTime > uint32Max || t.Duration > uint32Max {
		version = 1
	}
	var flags uint32
	if t.Enabled {
		flags |= 0x1
	}
	if t.InMovie {
		flags |= 0x2
	}
	if t.InPreview {
		flags |= 0x4
	}
	if t.SizeIsAspectRatio {
		flags |= 0x8
	}
	writeFullBoxHeader(w, version, flags)
	if version == 1 {
		w.u64(t.CreationTime)
		w.u64(t.ModificationTime)
		w.u32(t.TrackID)
		w.zeros(4)
		w.u64(t.Duration)
	} else {
		w.u32(uint32(t.CreationTime))
		w.u32(uint32(t.ModificationTime))
		w.u32(t.TrackID)
		w.zeros(4)
		w.u32(uint32(t.Duration))
	}
	w.zeros(8)
	w.i16(t.Layer)
	w.i16(t.AlternateGroup)
	w.i16(t.Volume)
	w.zeros(2)
	for _, v := range t.Matrix {
		w.i32(v)
	}
	w.u32(t.Width)
	w.u32(t.Height)
	return nil
}

func init() { register(TypeTkhd, decodeTkhd, encodeTkhd) }

// Mdhd is the media header box.
type Mdhd struct {
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64
	// Language is a 3-character ISO-639-2/T code, packed as five bits
	// per character biased by 0x60 in the wire format.
	Language string
}

func decodeMdhd(box *Box, r *byteReader) error {
	m := &Mdhd{}
	var err error
	if box.Version == 1 {
		if m.CreationTime, err = r.u64(); err != nil {
			return err
		}
		if m.ModificationTime, err = r.u64(); err != nil {
			return err
		}
		if m.Timescale, err = r.u32(); err != nil {
			return err
		}
		if m.Duration, err = r.u64(); err != nil {
			return err
		}
	} else {
		ct, err := r.u32()
		if err != nil {
			return err
		}
		mt, err := r.u32()
		if err != nil {
			return err
		}
		if m.Timescale, err = r.u32(); err != nil {
			return err
		}
		dur, err := r.u32()
		if err != nil {
			return err
		}
		m.CreationTime, m.ModificationTime, m.Duration = uint64(ct), uint64(mt), uint64(dur)
	}
	packed, err := r.u16()
	if err != nil {
		return err
	}
	if packed&0x8000 != 0 {
		return mp4err.New(mp4err.InvalidData, "mdhd language field pad bit must be 0")
	}
	lang := []byte{
		byte((packed>>10)&0x1f) + 0x60,
		byte((packed>>5)&0x1f) + 0x60,
		byte(packed&0x1f) + 0x60,
	}
	m.Language = string(lang)
	if err := r.skip(2); err != nil { // pre_defined
		return err
	}
	box.Mdhd = m
	return nil
}

func encodeMdhd(box *Box, w *byteWriter) error {
	m := box.Mdhd
	version := uint8(0)
	if m.CreationTime > uint32Max || m.ModificationTime > uint32Max || m.Duration > uint32Max {
		version = 1
	}
	writeFullBoxHeader(w, version, 0)
	if version == 1 {
		w.u64(m.CreationTime)
		w.u64(m.ModificationTime)
		w.u32(m.Timescale)
		w.u64(m.Duration)
	} else {
		w.u32(uint32(m.CreationTime))
		w.u32(uint32(m.ModificationTime))
		w.u32(m.Timescale)
		w.u32(uint32(m.Duration))
	}
	lang := m.Language
	if len(lang) != 3 {
		return mp4err.New(mp4err.InvalidInput, "mdhd language must be 3 characters, got %q", lang)
	}
	packed := uint16(lang[0]-0x60)<<10 | uint16(lang[1]-0x60)<<5 | uint16(lang[2]-0x60)
	w.u16(packed)
	w.zeros(2)
	return nil
}

func init() { register(TypeMdhd, decodeMdhd, encodeMdhd) }

// Hdlr is the handler reference box.
type Hdlr struct {
	HandlerType BoxType
	Name        string
}

func decodeHdlr(box *Box, r *byteReader) error {
	if err := r.skip(4); err != nil { // pre_defined
		return err
	}
	ht, err := r.fourCC()
	if err != nil {
		return err
	}
	if err := r.skip(12); err != nil { // reserved[3]
		return err
	}
	name, err := r.cstring()
	if err != nil {
		return err
	}
	box.Hdlr = &Hdlr{HandlerType: ht, Name: name}
	return nil
}

func encodeHdlr(box *Box, w *byteWriter) error {
	h := box.Hdlr
	if strings.ContainsRune(h.Name, 0) {
		return mp4err.New(mp4err.InvalidInput, "hdlr name contains an interior NUL byte")
	}
	writeFullBoxHeader(w, 0, 0)
	w.zeros(4)
	w.rawBytes(h.HandlerType[:])
	w.zeros(12)
	w.cstring(h.Name)
	return nil
}

func init() { register(TypeHdlr, decodeHdlr, encodeHdlr) }

// Vmhd is the video media header box.
type Vmhd struct {
	GraphicsMode uint16
	OpColor      [3]uint16
}

func decodeVmhd(box *Box, r *byteReader) error {
	v := &Vmhd{}
	var err error
	if v.GraphicsMode, err = r.u16(); err != nil {
		return err
	}
	for i := range v.OpColor {
		if v.OpColor[i], err = r.u16(); err != nil {
			return err
		}
	}
	box.Vmhd = v
	return nil
}

func encodeVmhd(box *Box, w *byteWriter) error {
	v := box.Vmhd
	writeFullBoxHeader(w, 0, 1) // flags always 1 per the format
	w.u16(v.GraphicsMode)
	for _, c := range v.OpColor {
		w.u16(c)
	}
	return nil
}

func init() { register(TypeVmhd, decodeVmhd, encodeVmhd) }

// Smhd is the sound media header box.
type Smhd struct {
	Balance int16 // 8.8 fixed point
}

func decodeSmhd(box *Box, r *byteReader) error {
	bal, err := r.i16()
	if err != nil {
		return err
	}
	if err := r.skip(2); err != nil { // reserved
		return err
	}
	box.Smhd = &Smhd{Balance: bal}
	return nil
}

func encodeSmhd(box *Box, w *byteWriter) error {
	writeFullBoxHeader(w, 0, 0)
	w.i16(box.Smhd.Balance)
	w.zeros(2)
	return nil
}

func init() { register(TypeSmhd, decodeSmhd, encodeSmhd) }
