package bmff

import "github.com/go-bmff/isobox/mp4err"

// SttsEntry is one run of samples sharing the same decode duration.
type SttsEntry struct {
	SampleCount uint32
	SampleDelta uint32
}

// Stts is the decoding time-to-sample box.
type Stts struct {
	Entries []SttsEntry
}

// FromSampleDeltas builds an Stts by run-length merging a flat per-sample
// delta sequence: adjacent samples sharing the same delta collapse into
// a single entry.
func FromSampleDeltas(deltas []uint32) *Stts {
	s := &Stts{}
	for _, d := range deltas {
		n := len(s.Entries)
		if n > 0 && s.Entries[n-1].SampleDelta == d {
			s.Entries[n-1].SampleCount++
			continue
		}
		s.Entries = append(s.Entries, SttsEntry{SampleCount: 1, SampleDelta: d})
	}
	return s
}

func decodeStts(box *Box, r *byteReader) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	if uint64(count)*8 > uint64(r.remaining()) {
		return mp4err.New(mp4err.InvalidData, "stts entry count %d exceeds payload", count)
	}
	entries := make([]SttsEntry, count)
	for i := range entries {
		if entries[i].SampleCount, err = r.u32(); err != nil {
			return err
		}
		if entries[i].SampleDelta, err = r.u32(); err != nil {
			return err
		}
	}
	box.Stts = &Stts{Entries: entries}
	return nil
}

func encodeStts(box *Box, w *byteWriter) error {
	writeFullBoxHeader(w, 0, 0)
	w.u32(uint32(len(box.Stts.Entries)))
	for _, e := range box.Stts.Entries {
		w.u32(e.SampleCount)
		w.u32(e.SampleDelta)
	}
	return nil
}

func init() { register(TypeStts, decodeStts, encodeStts) }

// CttsEntry is one run of samples sharing the same composition offset.
type CttsEntry struct {
	SampleCount  uint32
	SampleOffset int32 // always signed in this implementation (version 1 semantics)
}

// Ctts is the composition time-to-sample box. Version 0 offsets are
// unsigned on the wire but are always usable as signed values, so both
// versions decode into the same signed representation; encode chooses
// version 1 whenever any offset is negative, version 0 otherwise.
type Ctts struct {
	Entries []CttsEntry
}

func decodeCtts(box *Box, r *byteReader) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	if uint64(count)*8 > uint64(r.remaining()) {
		return mp4err.New(mp4err.InvalidData, "ctts entry count %d exceeds payload", count)
	}
	entries := make([]CttsEntry, count)
	for i := range entries {
		if entries[i].SampleCount, err = r.u32(); err != nil {
			return err
		}
		raw, err := r.u32()
		if err != nil {
			return err
		}
		entries[i].SampleOffset = int32(raw)
	}
	box.Ctts = &Ctts{Entries: entries}
	return nil
}

func encodeCtts(box *Box, w *byteWriter) error {
	version := uint8(0)
	for _, e := range box.Ctts.Entries {
		if e.SampleOffset < 0 {
			version = 1
			break
		}
	}
	writeFullBoxHeader(w, version, 0)
	w.u32(uint32(len(box.Ctts.Entries)))
	for _, e := range box.Ctts.Entries {
		w.u32(e.SampleCount)
		w.u32(uint32(e.SampleOffset))
	}
	return nil
}

func init() { register(TypeCtts, decodeCtts, encodeCtts) }

// StscEntry is one chunk-grouping run: starting at FirstChunk (1-based),
// every chunk holds SamplesPerChunk samples using sample description
// SampleDescriptionIndex (1-based), until the next entry's FirstChunk.
type StscEntry struct {
	FirstChunk             uint32
	SamplesPerChunk        uint32
	SampleDescriptionIndex uint32
}

// Stsc is the sample-to-chunk box.
type Stsc struct {
	Entries []StscEntry
}

func decodeStsc(box *Box, r *byteReader) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	if uint64(count)*12 > uint64(r.remaining()) {
		return mp4err.New(mp4err.InvalidData, "stsc entry count %d exceeds payload", count)
	}
	entries := make([]StscEntry, count)
	for i := range entries {
		if entries[i].FirstChunk, err = r.u32(); err != nil {
			return err
		}
		if entries[i].SamplesPerChunk, err = r.u32(); err != nil {
			return err
		}
		if entries[i].SampleDescriptionIndex, err = r.u32(); err != nil {
			return err
		}
		if i > 0 && entries[i].FirstChunk <= entries[i-1].FirstChunk {
			return mp4err.New(mp4err.InvalidData, "stsc entries not strictly increasing by first_chunk")
		}
	}
	box.Stsc = &Stsc{Entries: entries}
	return nil
}

func encodeStsc(box *Box, w *byteWriter) error {
	writeFullBoxHeader(w, 0, 0)
	w.u32(uint32(len(box.Stsc.Entries)))
	for _, e := range box.Stsc.Entries {
		w.u32(e.FirstChunk)
		w.u32(e.SamplesPerChunk)
		w.u32(e.SampleDescriptionIndex)
	}
	return nil
}

func init() { register(TypeStsc, decodeStsc, encodeStsc) }

// Stsz is the sample size box (stsz variant: all entries are 32-bit).
// If SampleSize is non-zero, every sample has that fixed size and
// EntrySizes is empty; otherwise EntrySizes holds one size per sample.
type Stsz struct {
	SampleSize  uint32
	SampleCount uint32
	EntrySizes  []uint32
}

func decodeStsz(box *Box, r *byteReader) error {
	s := &Stsz{}
	var err error
	if s.SampleSize, err = r.u32(); err != nil {
		return err
	}
	if s.SampleCount, err = r.u32(); err != nil {
		return err
	}
	if s.SampleSize == 0 {
		if uint64(s.SampleCount)*4 > uint64(r.remaining()) {
			return mp4err.New(mp4err.InvalidData, "stsz sample count %d exceeds payload", s.SampleCount)
		}
		s.EntrySizes = make([]uint32, s.SampleCount)
		for i := range s.EntrySizes {
			if s.EntrySizes[i], err = r.u32(); err != nil {
				return err
			}
		}
	}
	box.Stsz = s
	return nil
}

func encodeStsz(box *Box, w *byteWriter) error {
	s := box.Stsz
	writeFullBoxHeader(w, 0, 0)
	w.u32(s.SampleSize)
	w.u32(s.SampleCount)
	if s.SampleSize == 0 {
		if uint32(len(s.EntrySizes)) != s.SampleCount {
			return mp4err.New(mp4err.InvalidInput, "stsz: %d entry sizes, sample count %d", len(s.EntrySizes), s.SampleCount)
		}
		for _, v := range s.EntrySizes {
			w.u32(v)
		}
	}
	return nil
}

func init() { register(TypeStsz, decodeStsz, encodeStsz) }

// Stz2 is the compact sample size box: per-sample sizes stored in 4, 8
// or 16 bits each instead of stsz's fixed 32. A track carries either
// stsz or stz2, never both.
type Stz2 struct {
	FieldSize  uint8 // 4, 8 or 16
	EntrySizes []uint32
}

func decodeStz2(box *Box, r *byteReader) error {
	if err := r.skip(3); err != nil { // reserved
		return err
	}
	fieldSize, err := r.u8()
	if err != nil {
		return err
	}
	if fieldSize != 4 && fieldSize != 8 && fieldSize != 16 {
		return mp4err.New(mp4err.InvalidData, "stz2 field_size %d not one of 4/8/16", fieldSize)
	}
	count, err := r.u32()
	if err != nil {
		return err
	}
	if uint64(count)*uint64(fieldSize)/8 > uint64(r.remaining()) {
		return mp4err.New(mp4err.InvalidData, "stz2 sample count %d exceeds payload", count)
	}
	sizes := make([]uint32, count)
	switch fieldSize {
	case 4:
		for i := uint32(0); i < count; i += 2 {
			b, err := r.u8()
			if err != nil {
				return err
			}
			sizes[i] = uint32(b >> 4)
			if i+1 < count {
				sizes[i+1] = uint32(b & 0x0f)
			}
		}
	case 8:
		for i := range sizes {
			b, err := r.u8()
			if err != nil {
				return err
			}
			sizes[i] = uint32(b)
		}
	case 16:
		for i := range sizes {
			v, err := r.u16()
			if err != nil {
				return err
			}
			sizes[i] = uint32(v)
		}
	}
	box.Stz2 = &Stz2{FieldSize: fieldSize, EntrySizes: sizes}
	return nil
}

func encodeStz2(box *Box, w *byteWriter) error {
	s := box.Stz2
	writeFullBoxHeader(w, 0, 0)
	w.zeros(3)
	w.u8(s.FieldSize)
	w.u32(uint32(len(s.EntrySizes)))
	switch s.FieldSize {
	case 4:
		for i := 0; i < len(s.EntrySizes); i += 2 {
			hi := s.EntrySizes[i]
			var lo uint32
			if i+1 < len(s.EntrySizes) {
				lo = s.EntrySizes[i+1]
			}
			if hi > 0x0f || lo > 0x0f {
				return mp4err.New(mp4err.InvalidInput, "stz2 entry does not fit in 4 bits")
			}
			w.u8(uint8(hi<<4 | lo))
		}
	case 8:
		for _, v := range s.EntrySizes {
			if v > 0xff {
				return mp4err.New(mp4err.InvalidInput, "stz2 entry does not fit in 8 bits")
			}
			w.u8(uint8(v))
		}
	case 16:
		for _, v := range s.EntrySizes {
			if v > 0xffff {
				return mp4err.New(mp4err.InvalidInput, "stz2 entry does not fit in 16 bits")
			}
			w.u16(uint16(v))
		}
	default:
		return mp4err.New(mp4err.InvalidInput, "stz2 field_size %d not one of 4/8/16", s.FieldSize)
	}
	return nil
}

func init() { register(TypeStz2, decodeStz2, encodeStz2) }

// Stco is the 32-bit chunk offset box.
type Stco struct {
	ChunkOffsets []uint32
}

func decodeStco(box *Box, r *byteReader) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	if uint64(count)*4 > uint64(r.remaining()) {
		return mp4err.New(mp4err.InvalidData, "stco entry count %d exceeds payload", count)
	}
	offs := make([]uint32, count)
	for i := range offs {
		if offs[i], err = r.u32(); err != nil {
			return err
		}
	}
	box.Stco = &Stco{ChunkOffsets: offs}
	return nil
}

func encodeStco(box *Box, w *byteWriter) error {
	writeFullBoxHeader(w, 0, 0)
	w.u32(uint32(len(box.Stco.ChunkOffsets)))
	for _, v := range box.Stco.ChunkOffsets {
		w.u32(v)
	}
	return nil
}

func init() { register(TypeStco, decodeStco, encodeStco) }

// Co64 is the 64-bit chunk offset box, used instead of stco (never
// alongside it) when any chunk offset exceeds 32 bits.
type Co64 struct {
	ChunkOffsets []uint64
}

func decodeCo64(box *Box, r *byteReader) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	if uint64(count)*8 > uint64(r.remaining()) {
		return mp4err.New(mp4err.InvalidData, "co64 entry count %d exceeds payload", count)
	}
	offs := make([]uint64, count)
	for i := range offs {
		if offs[i], err = r.u64(); err != nil {
			return err
		}
	}
	box.Co64 = &Co64{ChunkOffsets: offs}
	return nil
}

func encodeCo64(box *Box, w *byteWriter) error {
	writeFullBoxHeader(w, 0, 0)
	w.u32(uint32(len(box.Co64.ChunkOffsets)))
	for _, v := range box.Co64.ChunkOffsets {
		w.u64(v)
	}
	return nil
}

func init() { register(TypeCo64, decodeCo64, encodeCo64) }

// Stss is the sync sample box: a sorted, 1-based list of sample numbers
// that are random-access points. Absence of this box means every
// sample is a sync sample.
type Stss struct {
	SampleNumbers []uint32
}

func decodeStss(box *Box, r *byteReader) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	if uint64(count)*4 > uint64(r.remaining()) {
		return mp4err.New(mp4err.InvalidData, "stss entry count %d exceeds payload", count)
	}
	nums := make([]uint32, count)
	for i := range nums {
		if nums[i], err = r.u32(); err != nil {
			return err
		}
		if i > 0 && nums[i] <= nums[i-1] {
			return mp4err.New(mp4err.InvalidData, "stss sample numbers not strictly increasing")
		}
	}
	box.Stss = &Stss{SampleNumbers: nums}
	return nil
}

func encodeStss(box *Box, w *byteWriter) error {
	writeFullBoxHeader(w, 0, 0)
	w.u32(uint32(len(box.Stss.SampleNumbers)))
	for _, v := range box.Stss.SampleNumbers {
		w.u32(v)
	}
	return nil
}

func init() { register(TypeStss, decodeStss, encodeStss) }
