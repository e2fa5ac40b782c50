package bmff

import "github.com/go-bmff/isobox/mp4err"

// Mehd is the movie extends header box: the fragmented-file equivalent
// of mvhd's duration field.
type Mehd struct {
	FragmentDuration uint64
}

func decodeMehd(box *Box, r *byteReader) error {
	var d uint64
	var err error
	if box.Version == 1 {
		d, err = r.u64()
	} else {
		var v uint32
		v, err = r.u32()
		d = uint64(v)
	}
	if err != nil {
		return err
	}
	box.Mehd = &Mehd{FragmentDuration: d}
	return nil
}

func encodeMehd(box *Box, w *byteWriter) error {
	d := box.Mehd.FragmentDuration
	version := uint8(0)
	if d > uint32Max {
		version = 1
	}
	writeFullBoxHeader(w, version, 0)
	if version == 1 {
		w.u64(d)
	} else {
		w.u32(uint32(d))
	}
	return nil
}

func init() { register(TypeMehd, decodeMehd, encodeMehd) }

// Trex is the track extends box: per-track defaults applied to every
// fragment sample unless overridden by tfhd/trun flags.
type Trex struct {
	TrackID                       uint32
	DefaultSampleDescriptionIndex uint32
	DefaultSampleDuration         uint32
	DefaultSampleSize             uint32
	DefaultSampleFlags            uint32
}

func decodeTrex(box *Box, r *byteReader) error {
	t := &Trex{}
	var err error
	if t.TrackID, err = r.u32(); err != nil {
		return err
	}
	if t.DefaultSampleDescriptionIndex, err = r.u32(); err != nil {
		return err
	}
	if t.DefaultSampleDuration, err = r.u32(); err != nil {
		return err
	}
	if t.DefaultSampleSize, err = r.u32(); err != nil {
		return err
	}
	if t.DefaultSampleFlags, err = r.u32(); err != nil {
		return err
	}
	box.Trex = t
	return nil
}

func encodeTrex(box *Box, w *byteWriter) error {
	t := box.Trex
	writeFullBoxHeader(w, 0, 0)
	w.u32(t.TrackID)
	w.u32(t.DefaultSampleDescriptionIndex)
	w.u32(t.DefaultSampleDuration)
	w.u32(t.DefaultSampleSize)
	w.u32(t.DefaultSampleFlags)
	return nil
}

func init() { register(TypeTrex, decodeTrex, encodeTrex) }

// Mvex is the movie extends box: presence signals a fragmented file.
type Mvex struct {
	Mehd    *Box
	Trexs   []*Box
	Unknown []*Box
}

func decodeMvex(box *Box, r *byteReader) error {
	children, err := decodeChildren(r)
	if err != nil {
		return err
	}
	m := &Mvex{}
	for _, c := range children {
		switch c.Type {
		case TypeMehd:
			m.Mehd = c
		case TypeTrex:
			m.Trexs = append(m.Trexs, c)
		default:
			m.Unknown = append(m.Unknown, c)
		}
	}
	box.Mvex = m
	return nil
}

func encodeMvex(box *Box, w *byteWriter) error {
	m := box.Mvex
	if m.Mehd != nil {
		if err := encodeChild(w, m.Mehd); err != nil {
			return err
		}
	}
	for _, t := range m.Trexs {
		if err := encodeChild(w, t); err != nil {
			return err
		}
	}
	for _, c := range m.Unknown {
		if err := encodeChild(w, c); err != nil {
			return err
		}
	}
	return nil
}

func init() { register(TypeMvex, decodeMvex, encodeMvex) }

// Mfhd is the movie fragment header box.
type Mfhd struct {
	SequenceNumber uint32
}

func decodeMfhd(box *Box, r *byteReader) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	box.Mfhd = &Mfhd{SequenceNumber: n}
	return nil
}

func encodeMfhd(box *Box, w *byteWriter) error {
	writeFullBoxHeader(w, 0, 0)
	w.u32(box.Mfhd.SequenceNumber)
	return nil
}

func init() { register(TypeMfhd, decodeMfhd, encodeMfhd) }

// Track fragment header flags (ISO/IEC 14496-12 8.8.7.1).
const (
	tfhdBaseDataOffsetPresent       = 0x000001
	tfhdSampleDescriptionIndexPresent = 0x000002
	tfhdDefaultSampleDurationPresent = 0x000008
	tfhdDefaultSampleSizePresent    = 0x000010
	tfhdDefaultSampleFlagsPresent   = 0x000020
	tfhdDurationIsEmpty             = 0x010000
	tfhdDefaultBaseIsMoof           = 0x020000
)

// Tfhd is the track fragment header box.
type Tfhd struct {
	TrackID                       uint32
	BaseDataOffset                uint64
	HasBaseDataOffset             bool
	SampleDescriptionIndex        uint32
	HasSampleDescriptionIndex     bool
	DefaultSampleDuration         uint32
	HasDefaultSampleDuration      bool
	DefaultSampleSize             uint32
	HasDefaultSampleSize          bool
	DefaultSampleFlags            uint32
	HasDefaultSampleFlags         bool
	DurationIsEmpty               bool
	DefaultBaseIsMoof             bool
}

func decodeTfhd(box *Box, r *byteReader) error {
	t := &Tfhd{
		DurationIsEmpty:   box.Flags&tfhdDurationIsEmpty != 0,
		DefaultBaseIsMoof: box.Flags&tfhdDefaultBaseIsMoof != 0,
	}
	var err error
	if t.TrackID, err = r.u32(); err != nil {
		return err
	}
	if box.Flags&tfhdBaseDataOffsetPresent != 0 {
		t.HasBaseDataOffset = true
		if t.BaseDataOffset, err = r.u64(); err != nil {
			return err
		}
	}
	if box.Flags&tfhdSampleDescriptionIndexPresent != 0 {
		t.HasSampleDescriptionIndex = true
		if t.SampleDescriptionIndex, err = r.u32(); err != nil {
			return err
		}
	}
	if box.Flags&tfhdDefaultSampleDurationPresent != 0 {
		t.HasDefaultSampleDuration = true
		if t.DefaultSampleDuration, err = r.u32(); err != nil {
			return err
		}
	}
	if box.Flags&tfhdDefaultSampleSizePresent != 0 {
		t.HasDefaultSampleSize = true
		if t.DefaultSampleSize, err = r.u32(); err != nil {
			return err
		}
	}
	if box.Flags&tfhdDefaultSampleFlagsPresent != 0 {
		t.HasDefaultSampleFlags = true
		if t.DefaultSampleFlags, err = r.u32(); err != nil {
			return err
		}
	}
	box.Tfhd = t
	return nil
}

func encodeTfhd(box *Box, w *byteWriter) error {
	t := box.Tfhd
	var flags uint32
	if t.HasBaseDataOffset {
		flags |= tfhdBaseDataOffsetPresent
	}
	if t.HasSampleDescriptionIndex {
		flags |= tfhdSampleDescriptionIndexPresent
	}
	if t.HasDefaultSampleDuration {
		flags |= tfhdDefaultSampleDurationPresent
	}
	if t.HasDefaultSampleSize {
		flags |= tfhdDefaultSampleSizePresent
	}
	if t.HasDefaultSampleFlags {
		flags |= tfhdDefaultSampleFlagsPresent
	}
	if t.DurationIsEmpty {
		flags |= tfhdDurationIsEmpty
	}
	if t.DefaultBaseIsMoof {
		flags |= tfhdDefaultBaseIsMoof
	}
	writeFullBoxHeader(w, 0, flags)
	w.u32(t.TrackID)
	if t.HasBaseDataOffset {
		w.u64(t.BaseDataOffset)
	}
	if t.HasSampleDescriptionIndex {
		w.u32(t.SampleDescriptionIndex)
	}
	if t.HasDefaultSampleDuration {
		w.u32(t.DefaultSampleDuration)
	}
	if t.HasDefaultSampleSize {
		w.u32(t.DefaultSampleSize)
	}
	if t.HasDefaultSampleFlags {
		w.u32(t.DefaultSampleFlags)
	}
	return nil
}

func init() { register(TypeTfhd, decodeTfhd, encodeTfhd) }

// Tfdt is the track fragment base media decode time box.
type Tfdt struct {
	BaseMediaDecodeTime uint64
}

func decodeTfdt(box *Box, r *byteReader) error {
	var v uint64
	var err error
	if box.Version == 1 {
		v, err = r.u64()
	} else {
		var v32 uint32
		v32, err = r.u32()
		v = uint64(v32)
	}
	if err != nil {
		return err
	}
	box.Tfdt = &Tfdt{BaseMediaDecodeTime: v}
	return nil
}

func encodeTfdt(box *Box, w *byteWriter) error {
	v := box.Tfdt.BaseMediaDecodeTime
	version := uint8(0)
	if v > uint32Max {
		version = 1
	}
	writeFullBoxHeader(w, version, 0)
	if version == 1 {
		w.u64(v)
	} else {
		w.u32(uint32(v))
	}
	return nil
}

func init() { register(TypeTfdt, decodeTfdt, encodeTfdt) }

// Track fragment run flags (ISO/IEC 14496-12 8.8.8.1).
const (
	trunDataOffsetPresent             = 0x000001
	trunFirstSampleFlagsPresent       = 0x000004
	trunSampleDurationPresent         = 0x000100
	trunSampleSizePresent             = 0x000200
	trunSampleFlagsPresent            = 0x000400
	trunSampleCompositionOffsetPresent = 0x000800
)

// TrunEntry is one sample's per-sample fields within a trun; which
// fields are meaningful depends on Trun's flags.
type TrunEntry struct {
	SampleDuration              uint32
	SampleSize                  uint32
	SampleFlags                 uint32
	SampleCompositionTimeOffset int32
}

// Trun is the track fragment run box. When none of the per-sample
// fields is present, Entries stays nil and Count carries the wire
// sample_count; otherwise Count mirrors len(Entries).
type Trun struct {
	DataOffset              int32
	HasDataOffset            bool
	FirstSampleFlags         uint32
	HasFirstSampleFlags      bool
	HasSampleDuration        bool
	HasSampleSize            bool
	HasSampleFlags           bool
	HasSampleCompositionOffset bool
	Count                    uint32
	Entries                  []TrunEntry
}

func decodeTrun(box *Box, r *byteReader) error {
	t := &Trun{
		HasDataOffset:              box.Flags&trunDataOffsetPresent != 0,
		HasFirstSampleFlags:        box.Flags&trunFirstSampleFlagsPresent != 0,
		HasSampleDuration:          box.Flags&trunSampleDurationPresent != 0,
		HasSampleSize:              box.Flags&trunSampleSizePresent != 0,
		HasSampleFlags:             box.Flags&trunSampleFlagsPresent != 0,
		HasSampleCompositionOffset: box.Flags&trunSampleCompositionOffsetPresent != 0,
	}
	count, err := r.u32()
	if err != nil {
		return err
	}
	if t.HasDataOffset {
		if t.DataOffset, err = r.i32(); err != nil {
			return err
		}
	}
	if t.HasFirstSampleFlags {
		if t.FirstSampleFlags, err = r.u32(); err != nil {
			return err
		}
	}
	t.Count = count
	var entrySize uint64
	for _, present := range []bool{t.HasSampleDuration, t.HasSampleSize, t.HasSampleFlags, t.HasSampleCompositionOffset} {
		if present {
			entrySize += 4
		}
	}
	if entrySize == 0 {
		box.Trun = t
		return nil
	}
	if uint64(count)*entrySize > uint64(r.remaining()) {
		return mp4err.New(mp4err.InvalidData, "trun sample count %d exceeds payload", count)
	}
	t.Entries = make([]TrunEntry, count)
	for i := range t.Entries {
		if t.HasSampleDuration {
			if t.Entries[i].SampleDuration, err = r.u32(); err != nil {
				return err
			}
		}
		if t.HasSampleSize {
			if t.Entries[i].SampleSize, err = r.u32(); err != nil {
				return err
			}
		}
		if t.HasSampleFlags {
			if t.Entries[i].SampleFlags, err = r.u32(); err != nil {
				return err
			}
		}
		if t.HasSampleCompositionOffset {
			if box.Version == 1 {
				if t.Entries[i].SampleCompositionTimeOffset, err = r.i32(); err != nil {
					return err
				}
			} else {
				v, err := r.u32()
				if err != nil {
					return err
				}
				t.Entries[i].SampleCompositionTimeOffset = int32(v)
			}
		}
	}
	box.Trun = t
	return nil
}

func encodeTrun(box *Box, w *byteWriter) error {
	t := box.Trun
	var flags uint32
	if t.HasDataOffset {
		flags |= trunDataOffsetPresent
	}
	if t.HasFirstSampleFlags {
		flags |= trunFirstSampleFlagsPresent
	}
	if t.HasSampleDuration {
		flags |= trunSampleDurationPresent
	}
	if t.HasSampleSize {
		flags |= trunSampleSizePresent
	}
	if t.HasSampleFlags {
		flags |= trunSampleFlagsPresent
	}
	version := uint8(0)
	if t.HasSampleCompositionOffset {
		flags |= trunSampleCompositionOffsetPresent
		for _, e := range t.Entries {
			if e.SampleCompositionTimeOffset < 0 {
				version = 1
				break
			}
		}
	}
	writeFullBoxHeader(w, version, flags)
	count := uint32(len(t.Entries))
	if count == 0 {
		count = t.Count
	}
	w.u32(count)
	if t.HasDataOffset {
		w.i32(t.DataOffset)
	}
	if t.HasFirstSampleFlags {
		w.u32(t.FirstSampleFlags)
	}
	for _, e := range t.Entries {
		if t.HasSampleDuration {
			w.u32(e.SampleDuration)
		}
		if t.HasSampleSize {
			w.u32(e.SampleSize)
		}
		if t.HasSampleFlags {
			w.u32(e.SampleFlags)
		}
		if t.HasSampleCompositionOffset {
			w.u32(uint32(e.SampleCompositionTimeOffset))
		}
	}
	return nil
}

func init() { register(TypeTrun, decodeTrun, encodeTrun) }

// Traf is the track fragment box.
type Traf struct {
	Tfhd    *Box
	Tfdt    *Box
	Truns   []*Box
	Unknown []*Box
}

func decodeTraf(box *Box, r *byteReader) error {
	children, err := decodeChildren(r)
	if err != nil {
		return err
	}
	t := &Traf{}
	for _, c := range children {
		switch c.Type {
		case TypeTfhd:
			t.Tfhd = c
		case TypeTfdt:
			t.Tfdt = c
		case TypeTrun:
			t.Truns = append(t.Truns, c)
		default:
			t.Unknown = append(t.Unknown, c)
		}
	}
	if t.Tfhd == nil {
		return mp4err.New(mp4err.InvalidData, "traf missing required tfhd")
	}
	box.Traf = t
	return nil
}

func encodeTraf(box *Box, w *byteWriter) error {
	t := box.Traf
	if err := encodeChild(w, t.Tfhd); err != nil {
		return err
	}
	if t.Tfdt != nil {
		if err := encodeChild(w, t.Tfdt); err != nil {
			return err
		}
	}
	for _, tr := range t.Truns {
		if err := encodeChild(w, tr); err != nil {
			return err
		}
	}
	for _, c := range t.Unknown {
		if err := encodeChild(w, c); err != nil {
			return err
		}
	}
	return nil
}

func init() { register(TypeTraf, decodeTraf, encodeTraf) }

// Moof is the movie fragment box.
type Moof struct {
	Mfhd    *Box
	Trafs   []*Box
	Unknown []*Box
}

func decodeMoof(box *Box, r *byteReader) error {
	children, err := decodeChildren(r)
	if err != nil {
		return err
	}
	m := &Moof{}
	for _, c := range children {
		switch c.Type {
		case TypeMfhd:
			m.Mfhd = c
		case TypeTraf:
			m.Trafs = append(m.Trafs, c)
		default:
			m.Unknown = append(m.Unknown, c)
		}
	}
	box.Moof = m
	return nil
}

func encodeMoof(box *Box, w *byteWriter) error {
	m := box.Moof
	if m.Mfhd != nil {
		if err := encodeChild(w, m.Mfhd); err != nil {
			return err
		}
	}
	for _, t := range m.Trafs {
		if err := encodeChild(w, t); err != nil {
			return err
		}
	}
	for _, c := range m.Unknown {
		if err := encodeChild(w, c); err != nil {
			return err
		}
	}
	return nil
}

func init() { register(TypeMoof, decodeMoof, encodeMoof) }

// SidxReference is one reference within a segment index.
type SidxReference struct {
	ReferenceType      uint8 // 1 bit: 0 = media, 1 = sidx
	ReferencedSize     uint32 // 31 bits
	SubsegmentDuration uint32
	StartsWithSAP      bool
	SAPType            uint8 // 3 bits
	SAPDeltaTime       uint32 // 28 bits
}

// Sidx is the segment index box.
type Sidx struct {
	ReferenceID              uint32
	Timescale                uint32
	EarliestPresentationTime uint64
	FirstOffset              uint64
	References               []SidxReference
}

func decodeSidx(box *Box, r *byteReader) error {
	s := &Sidx{}
	var err error
	if s.ReferenceID, err = r.u32(); err != nil {
		return err
	}
	if s.Timescale, err = r.u32(); err != nil {
		return err
	}
	if box.Version == 1 {
		if s.EarliestPresentationTime, err = r.u64(); err != nil {
			return err
		}
		if s.FirstOffset, err = r.u64(); err != nil {
			return err
		}
	} else {
		v, err := r.u32()
		if err != nil {
			return err
		}
		s.EarliestPresentationTime = uint64(v)
		v, err = r.u32()
		if err != nil {
			return err
		}
		s.FirstOffset = uint64(v)
	}
	if err := r.skip(2); err != nil { // reserved
		return err
	}
	count, err := r.u16()
	if err != nil {
		return err
	}
	s.References = make([]SidxReference, count)
	for i := range s.References {
		v, err := r.u32()
		if err != nil {
			return err
		}
		s.References[i].ReferenceType = uint8(v >> 31)
		s.References[i].ReferencedSize = v & 0x7fffffff
		if s.References[i].SubsegmentDuration, err = r.u32(); err != nil {
			return err
		}
		v, err = r.u32()
		if err != nil {
			return err
		}
		s.References[i].StartsWithSAP = v>>31 != 0
		s.References[i].SAPType = uint8((v >> 28) & 0x7)
		s.References[i].SAPDeltaTime = v & 0x0fffffff
	}
	box.Sidx = s
	return nil
}

func encodeSidx(box *Box, w *byteWriter) error {
	s := box.Sidx
	version := uint8(0)
	if s.EarliestPresentationTime > uint32Max || s.FirstOffset > uint32Max {
		version = 1
	}
	writeFullBoxHeader(w, version, 0)
	w.u32(s.ReferenceID)
	w.u32(s.Timescale)
	if version == 1 {
		w.u64(s.EarliestPresentationTime)
		w.u64(s.FirstOffset)
	} else {
		w.u32(uint32(s.EarliestPresentationTime))
		w.u32(uint32(s.FirstOffset))
	}
	w.zeros(2)
	w.u16(uint16(len(s.References)))
	for _, ref := range s.References {
		w.u32(uint32(ref.ReferenceType)<<31 | ref.ReferencedSize&0x7fffffff)
		w.u32(ref.SubsegmentDuration)
		sap := uint32(0)
		if ref.StartsWithSAP {
			sap = 1 << 31
		}
		w.u32(sap | uint32(ref.SAPType)<<28 | ref.SAPDeltaTime&0x0fffffff)
	}
	return nil
}

func init() { register(TypeSidx, decodeSidx, encodeSidx) }
