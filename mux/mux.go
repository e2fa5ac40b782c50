// Package mux builds a non-fragmented MP4 file from an in-order stream
// of appended sample records. The muxer never writes media bytes
// itself: the caller lays sample data into the file at the offsets it
// reports having used, and the muxer validates those offsets against
// its running cursor while accumulating the sample tables. Finalize
// materializes the moov box and returns (offset, bytes) pairs telling
// the caller where to write it, supporting both the mdat-then-moov
// layout and a faststart layout where moov occupies space reserved
// before mdat.
package mux

import (
	"encoding/binary"
	"time"

	"github.com/go-bmff/isobox"
	"github.com/go-bmff/isobox/mp4err"
)

var be = binary.BigEndian

// Options configure a muxer session.
type Options struct {
	// ReservedMoovBoxSize enables the faststart layout when non-zero:
	// that many bytes are reserved between ftyp and mdat, and Finalize
	// places moov there instead of after mdat. Use
	// EstimateMaximumMoovBoxSize to pick a safe value.
	ReservedMoovBoxSize uint64
	// CreationTimestamp is recorded in mvhd/tkhd/mdhd. The zero value
	// writes a zero timestamp rather than the current time, keeping
	// output deterministic by default.
	CreationTimestamp time.Time
	// MovieTimescale is the mvhd timescale. Defaults to 1000.
	MovieTimescale   uint32
	MajorBrand       bmff.BoxType
	MinorVersion     uint32
	CompatibleBrands []bmff.BoxType
}

// DefaultOptions returns the options New uses.
func DefaultOptions() Options {
	return Options{
		MovieTimescale: 1000,
		MajorBrand:     bmff.BoxType{'i', 's', 'o', 'm'},
		MinorVersion:   0,
		CompatibleBrands: []bmff.BoxType{
			{'i', 's', 'o', 'm'}, {'i', 's', 'o', '2'},
			{'a', 'v', 'c', '1'}, {'m', 'p', '4', '1'},
		},
	}
}

// Sample is one appended media sample. SampleEntry must be set on the
// first sample of each track kind; later samples pass nil unless the
// codec configuration changes, in which case the new entry is appended
// to the track's stsd and used from that sample on.
type Sample struct {
	TrackKind   bmff.TrackKind
	SampleEntry *bmff.Box
	Keyframe    bool
	Timescale   uint32
	Duration    uint32
	// DataOffset is the absolute file offset the caller wrote (or will
	// write) this sample's bytes to. It must equal the muxer's running
	// cursor, which starts at len(InitialBoxesBytes()).
	DataOffset uint64
	DataSize   uint32
}

// OffsetAndBytes is one finalize output: Bytes to be written at
// file-absolute Offset.
type OffsetAndBytes struct {
	Offset uint64
	Bytes  []byte
}

// FinalizedBoxes is the result of Finalize: the rewritten mdat header
// plus the moov box (and, under faststart, the free box covering the
// unused remainder of the reservation).
type FinalizedBoxes struct {
	pairs    []OffsetAndBytes
	moovSize uint64
}

// OffsetAndBytesPairs returns the (offset, bytes) pairs in write order.
func (f *FinalizedBoxes) OffsetAndBytesPairs() []OffsetAndBytes { return f.pairs }

// MoovBoxSize returns the encoded size of the finalized moov box.
func (f *FinalizedBoxes) MoovBoxSize() uint64 { return f.moovSize }

// chunkRun is one chunk: a run of consecutive same-track samples
// sharing a sample description index.
type chunkRun struct {
	offset      uint64
	sampleCount uint32
	sdi         uint32 // 1-based sample description index
}

type trackState struct {
	kind      bmff.TrackKind
	trackID   uint32
	timescale uint32

	entries []*bmff.Box // stsd entries, in first-use order
	currSDI uint32      // 1-based index of the entry new samples use

	deltas []uint32
	sizes  []uint32
	sync   []bool
	chunks []chunkRun
}

// Muxer is the two-phase session: append samples, then finalize.
type Muxer struct {
	opts Options

	initialBytes  []byte
	mdatHeaderPos uint64 // absolute offset of the mdat header placeholder
	cursor        uint64 // expected DataOffset of the next appended sample

	tracks    []*trackState
	byKind    map[bmff.TrackKind]*trackState
	lastTrack *trackState

	finalized bool
}

// New returns a muxer with DefaultOptions (faststart disabled).
func New() *Muxer {
	return WithOptions(DefaultOptions())
}

// WithOptions returns a muxer using opts.
func WithOptions(opts Options) *Muxer {
	if opts.MovieTimescale == 0 {
		opts.MovieTimescale = 1000
	}
	if opts.MajorBrand == (bmff.BoxType{}) {
		def := DefaultOptions()
		opts.MajorBrand = def.MajorBrand
		opts.CompatibleBrands = def.CompatibleBrands
	}
	m := &Muxer{opts: opts, byKind: map[bmff.TrackKind]*trackState{}}
	m.initialBytes = m.buildInitialBoxes()
	m.cursor = uint64(len(m.initialBytes))
	return m
}

// buildInitialBoxes lays out ftyp, the faststart reservation (when
// enabled) and the 8-byte mdat header placeholder whose size Finalize
// backpatches.
func (m *Muxer) buildInitialBoxes() []byte {
	ftyp := &bmff.Box{Type: bmff.TypeFtyp, Ftyp: &bmff.Ftyp{
		MajorBrand:       m.opts.MajorBrand,
		MinorVersion:     m.opts.MinorVersion,
		CompatibleBrands: m.opts.CompatibleBrands,
	}}
	buf, err := bmff.Encode(ftyp)
	if err != nil {
		// ftyp encoding has no fallible fields.
		panic(err)
	}
	if m.opts.ReservedMoovBoxSize > 0 {
		buf = append(buf, freeBox(m.opts.ReservedMoovBoxSize)...)
	}
	m.mdatHeaderPos = uint64(len(buf))
	hdr := make([]byte, 8)
	copy(hdr[4:], "mdat")
	buf = append(buf, hdr...)
	return buf
}

// freeBox returns an encoded free box of exactly total bytes (total
// must be >= 8).
func freeBox(total uint64) []byte {
	b := make([]byte, total)
	be.PutUint32(b, uint32(total))
	copy(b[4:], "free")
	return b
}

// InitialBoxesBytes returns the bytes the caller must write at offset 0
// before any sample data: ftyp, the faststart reservation if enabled,
// and the mdat header placeholder. Sample data starts immediately after.
func (m *Muxer) InitialBoxesBytes() []byte { return m.initialBytes }

// AppendSample records one sample. Samples for each track must carry a
// consistent timescale, and DataOffset must equal the running cursor
// (initial boxes length plus all previously appended sample sizes).
// Validation happens before any state changes, so a failed append
// leaves the session untouched.
func (m *Muxer) AppendSample(s *Sample) error {
	if m.finalized {
		return mp4err.New(mp4err.InvalidState, "cannot append after Finalize")
	}
	if s.Timescale == 0 {
		return mp4err.New(mp4err.InvalidInput, "sample timescale must be non-zero")
	}
	if s.DataOffset != m.cursor {
		return mp4err.New(mp4err.InvalidInput, "sample data offset %d does not match expected offset %d", s.DataOffset, m.cursor)
	}
	t := m.byKind[s.TrackKind]
	if t == nil {
		if s.SampleEntry == nil {
			return mp4err.New(mp4err.InvalidInput, "first %s sample must carry a sample entry", s.TrackKind)
		}
		t = &trackState{
			kind:      s.TrackKind,
			trackID:   uint32(len(m.tracks)) + 1,
			timescale: s.Timescale,
			entries:   []*bmff.Box{s.SampleEntry},
			currSDI:   1,
		}
		m.byKind[s.TrackKind] = t
		m.tracks = append(m.tracks, t)
	} else {
		if s.Timescale != t.timescale {
			return mp4err.New(mp4err.InvalidInput, "%s track timescale changed from %d to %d", s.TrackKind, t.timescale, s.Timescale)
		}
		if s.SampleEntry != nil {
			t.entries = append(t.entries, s.SampleEntry)
			t.currSDI = uint32(len(t.entries))
		}
	}

	// One chunk per run of consecutive same-track samples sharing a
	// sample description index.
	if m.lastTrack != t || len(t.chunks) == 0 || t.chunks[len(t.chunks)-1].sdi != t.currSDI {
		t.chunks = append(t.chunks, chunkRun{offset: s.DataOffset, sdi: t.currSDI})
	}
	t.chunks[len(t.chunks)-1].sampleCount++

	t.deltas = append(t.deltas, s.Duration)
	t.sizes = append(t.sizes, s.DataSize)
	t.sync = append(t.sync, s.Keyframe)
	m.lastTrack = t
	m.cursor += uint64(s.DataSize)
	return nil
}

// Finalize materializes the moov box and returns where to write it. In
// the default layout the pairs are the backpatched mdat header and the
// moov at the current end of file; under faststart they are the mdat
// header, the moov inside the reservation, and a free box covering the
// reservation's remainder. Finalize fails with InvalidState if nothing
// was appended or if a faststart moov exceeds its reservation.
func (m *Muxer) Finalize() (*FinalizedBoxes, error) {
	if m.finalized {
		return nil, mp4err.New(mp4err.InvalidState, "already finalized")
	}
	if len(m.tracks) == 0 {
		return nil, mp4err.New(mp4err.InvalidState, "finalize without any samples")
	}
	m.finalized = true

	mdatSize := m.cursor - m.mdatHeaderPos
	if mdatSize > uint64(1)<<32-1 {
		return nil, mp4err.New(mp4err.InvalidState, "mdat size %d exceeds 32-bit box size", mdatSize)
	}
	mdatHeader := make([]byte, 8)
	be.PutUint32(mdatHeader, uint32(mdatSize))
	copy(mdatHeader[4:], "mdat")

	moovBytes, err := m.buildMoov()
	if err != nil {
		return nil, err
	}

	f := &FinalizedBoxes{moovSize: uint64(len(moovBytes))}
	f.pairs = append(f.pairs, OffsetAndBytes{Offset: m.mdatHeaderPos, Bytes: mdatHeader})

	if m.opts.ReservedMoovBoxSize == 0 {
		f.pairs = append(f.pairs, OffsetAndBytes{Offset: m.cursor, Bytes: moovBytes})
		return f, nil
	}

	reserved := m.opts.ReservedMoovBoxSize
	moovPos := m.mdatHeaderPos - reserved
	gap := int64(reserved) - int64(len(moovBytes))
	switch {
	case gap < 0:
		return nil, mp4err.New(mp4err.InvalidState, "MoovExceedsReservation: moov needs %d bytes, %d reserved", len(moovBytes), reserved)
	case gap == 0:
		f.pairs = append(f.pairs, OffsetAndBytes{Offset: moovPos, Bytes: moovBytes})
	case gap < 8:
		// The leftover cannot hold a free box header.
		return nil, mp4err.New(mp4err.InvalidState, "MoovExceedsReservation: %d-byte gap after moov cannot hold a free box", gap)
	default:
		f.pairs = append(f.pairs, OffsetAndBytes{Offset: moovPos, Bytes: moovBytes})
		f.pairs = append(f.pairs, OffsetAndBytes{Offset: moovPos + uint64(len(moovBytes)), Bytes: freeBox(uint64(gap))})
	}
	return f, nil
}

// EstimateMaximumMoovBoxSize returns an upper bound on the moov box
// size a session with the given per-track sample counts can produce,
// suitable for Options.ReservedMoovBoxSize. The bound is monotone in
// each count and in the number of tracks. Sample entries are assumed to
// stay within 4 KiB encoded each.
func EstimateMaximumMoovBoxSize(samplesPerTrack []uint32) uint64 {
	const movieOverhead = 256  // moov + mvhd
	const trackOverhead = 1024 // trak/tkhd/mdia/mdhd/hdlr/minf/dinf/stbl headers
	const maxSampleEntrySize = 4096
	// Worst case per sample: an 8-byte stts entry, a 4-byte stsz entry,
	// a 12-byte stsc entry, an 8-byte co64 entry and a 4-byte stss
	// entry, when every sample lands in its own chunk and run.
	const perSample = 8 + 4 + 12 + 8 + 4
	total := uint64(movieOverhead)
	for _, n := range samplesPerTrack {
		total += trackOverhead + maxSampleEntrySize + uint64(n)*perSample
	}
	return total
}
