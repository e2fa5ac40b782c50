// Package fmux builds fragmented MP4 output: a single init segment
// (ftyp + moov whose sample tables are empty and whose mvex supplies
// per-track trex defaults) followed by any number of fragments. Each
// fragment is returned as its moof bytes plus an mdat header; the
// caller appends the sample payloads immediately after the header, in
// the order the samples were passed.
package fmux

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/go-bmff/isobox"
	"github.com/go-bmff/isobox/mp4err"
)

var be = binary.BigEndian

// Options configure the init segment.
type Options struct {
	MajorBrand       bmff.BoxType
	MinorVersion     uint32
	CompatibleBrands []bmff.BoxType
	// CreationTimestamp is recorded in mvhd/tkhd/mdhd; the zero value
	// writes zero, keeping output deterministic by default.
	CreationTimestamp time.Time
	// MovieTimescale is the mvhd timescale. Defaults to 1000.
	MovieTimescale uint32
}

// DefaultOptions returns the options NewMuxer uses.
func DefaultOptions() Options {
	return Options{
		MajorBrand:     bmff.BoxType{'i', 's', 'o', 'm'},
		MinorVersion:   0,
		CompatibleBrands: []bmff.BoxType{
			{'i', 's', 'o', 'm'}, {'i', 's', 'o', '6'},
			{'m', 'p', '4', '1'}, {'a', 'v', 'c', '1'}, {'a', 'v', '0', '1'},
		},
		MovieTimescale: 1000,
	}
}

// TrackConfig describes one track carried by the fragmented output.
type TrackConfig struct {
	TrackID     uint32
	Kind        bmff.TrackKind
	Timescale   uint32
	SampleEntry *bmff.Box
}

// FragmentSample is one sample within a fragment. The caller appends
// DataSize payload bytes to the mdat in sample order.
type FragmentSample struct {
	TrackID  uint32
	Duration uint32
	DataSize uint32
	Keyframe bool
	// CompositionOffset is written to the trun when HasCompositionOffset
	// is set on any sample of the same track in the fragment.
	CompositionOffset    int32
	HasCompositionOffset bool
	// Flags overrides the sample flags synthesized from Keyframe.
	Flags    uint32
	HasFlags bool
}

// FragmentOutput is one built fragment: write MoofBytes, then
// MdatHeaderBytes, then exactly MediaDataSize bytes of sample payloads.
type FragmentOutput struct {
	MoofBytes       []byte
	MdatHeaderBytes []byte
	MediaDataSize   uint64
	// Moof is the decoded form of MoofBytes, for callers that inspect
	// the fragment structure.
	Moof *bmff.Box
}

const (
	sampleFlagNonSync  uint32 = 1 << 16 // sample_is_non_sync_sample
	sampleDependsOther uint32 = 1 << 24 // sample_depends_on = 1
	sampleDependsNone  uint32 = 2 << 24 // sample_depends_on = 2
)

// sampleFlagsFromKeyframe synthesizes trun sample flags: keyframes
// depend on nothing, everything else depends on another sample and is
// marked non-sync.
func sampleFlagsFromKeyframe(keyframe bool) uint32 {
	if keyframe {
		return sampleDependsNone
	}
	return sampleDependsOther | sampleFlagNonSync
}

type trackState struct {
	cfg            TrackConfig
	nextDecodeTime uint64
}

// Muxer builds an init segment once at construction, then any number of
// fragments. One sequence number is shared by all tracks; per-track
// decode time accumulates across fragments.
type Muxer struct {
	tracks             []*trackState
	byID               map[uint32]int
	initSegment        []byte
	nextSequenceNumber uint32
}

// NewMuxer returns a Muxer over tracks with DefaultOptions.
func NewMuxer(tracks []TrackConfig) (*Muxer, error) {
	return WithOptions(tracks, DefaultOptions())
}

// WithOptions returns a Muxer over tracks using opts. The init segment
// is built eagerly so configuration errors surface here.
func WithOptions(tracks []TrackConfig, opts Options) (*Muxer, error) {
	if len(tracks) == 0 {
		return nil, mp4err.New(mp4err.InvalidInput, "no tracks configured")
	}
	if opts.MovieTimescale == 0 {
		opts.MovieTimescale = 1000
	}
	m := &Muxer{byID: map[uint32]int{}, nextSequenceNumber: 1}
	for _, cfg := range tracks {
		if cfg.TrackID == 0 {
			return nil, mp4err.New(mp4err.InvalidInput, "track id must be non-zero")
		}
		if cfg.Timescale == 0 {
			return nil, mp4err.New(mp4err.InvalidInput, "track %d timescale must be non-zero", cfg.TrackID)
		}
		if cfg.SampleEntry == nil {
			return nil, mp4err.New(mp4err.InvalidInput, "track %d has no sample entry", cfg.TrackID)
		}
		if _, exists := m.byID[cfg.TrackID]; exists {
			return nil, mp4err.New(mp4err.InvalidInput, "duplicate track id %d", cfg.TrackID)
		}
		m.byID[cfg.TrackID] = len(m.tracks)
		m.tracks = append(m.tracks, &trackState{cfg: cfg})
	}
	init, err := m.buildInitSegment(opts)
	if err != nil {
		return nil, err
	}
	m.initSegment = init
	return m, nil
}

// InitSegmentBytes returns the ftyp+moov bytes establishing every
// track's sample description and trex defaults.
func (m *Muxer) InitSegmentBytes() []byte { return m.initSegment }

func (m *Muxer) buildInitSegment(opts Options) ([]byte, error) {
	ftyp := &bmff.Box{Type: bmff.TypeFtyp, Ftyp: &bmff.Ftyp{
		MajorBrand:       opts.MajorBrand,
		MinorVersion:     opts.MinorVersion,
		CompatibleBrands: opts.CompatibleBrands,
	}}
	out, err := bmff.Encode(ftyp)
	if err != nil {
		return nil, err
	}

	creation := uint64(0)
	if !opts.CreationTimestamp.IsZero() {
		creation = bmff.UnixToMP4Time(opts.CreationTimestamp.Unix())
	}
	var maxTrackID uint32
	for _, t := range m.tracks {
		if t.cfg.TrackID > maxTrackID {
			maxTrackID = t.cfg.TrackID
		}
	}
	if maxTrackID == math.MaxUint32 {
		return nil, mp4err.New(mp4err.InvalidInput, "next track id overflows")
	}

	moov := &bmff.Moov{
		Mvhd: &bmff.Box{Type: bmff.TypeMvhd, Mvhd: &bmff.Mvhd{
			CreationTime:     creation,
			ModificationTime: creation,
			Timescale:        opts.MovieTimescale,
			Rate:             0x00010000,
			Volume:           0x0100,
			Matrix:           identityMatrix(),
			NextTrackID:      maxTrackID + 1,
		}},
		Mvex: &bmff.Box{Type: bmff.TypeMvex, Mvex: &bmff.Mvex{}},
	}
	for _, t := range m.tracks {
		trak, err := buildInitTrak(t.cfg, creation)
		if err != nil {
			return nil, err
		}
		moov.Traks = append(moov.Traks, trak)
		moov.Mvex.Mvex.Trexs = append(moov.Mvex.Mvex.Trexs, &bmff.Box{Type: bmff.TypeTrex, Trex: &bmff.Trex{
			TrackID:                       t.cfg.TrackID,
			DefaultSampleDescriptionIndex: 1,
		}})
	}
	moovBytes, err := bmff.Encode(&bmff.Box{Type: bmff.TypeMoov, Moov: moov})
	if err != nil {
		return nil, err
	}
	return append(out, moovBytes...), nil
}

func identityMatrix() [9]int32 {
	return [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
}

func buildInitTrak(cfg TrackConfig, creation uint64) (*bmff.Box, error) {
	isVideo := cfg.Kind == bmff.TrackVideo
	tkhd := &bmff.Tkhd{
		CreationTime:     creation,
		ModificationTime: creation,
		TrackID:          cfg.TrackID,
		Matrix:           identityMatrix(),
		Enabled:          true,
		InMovie:          true,
	}
	if isVideo {
		if v := cfg.SampleEntry.Visual; v != nil {
			tkhd.Width = uint32(v.Width) << 16
			tkhd.Height = uint32(v.Height) << 16
		}
	} else {
		tkhd.Volume = 0x0100
	}

	stbl := &bmff.Stbl{
		Stsd: &bmff.Box{Type: bmff.TypeStsd, Stsd: &bmff.Stsd{Entries: []*bmff.Box{cfg.SampleEntry}}},
		Stts: &bmff.Box{Type: bmff.TypeStts, Stts: &bmff.Stts{}},
		Stsc: &bmff.Box{Type: bmff.TypeStsc, Stsc: &bmff.Stsc{}},
		Stsz: &bmff.Box{Type: bmff.TypeStsz, Stsz: &bmff.Stsz{}},
		Stco: &bmff.Box{Type: bmff.TypeStco, Stco: &bmff.Stco{}},
	}
	minf := &bmff.Minf{
		Dinf: &bmff.Box{Type: bmff.TypeDinf, Dinf: &bmff.Dinf{
			Dref: &bmff.Box{Type: bmff.TypeDref, Dref: &bmff.Dref{
				Entries: []*bmff.Box{{Type: bmff.TypeUrl, Url: &bmff.DataEntryURL{SelfContained: true}}},
			}},
		}},
		Stbl: &bmff.Box{Type: bmff.TypeStbl, Stbl: stbl},
	}
	if isVideo {
		minf.Vmhd = &bmff.Box{Type: bmff.TypeVmhd, Vmhd: &bmff.Vmhd{}}
	} else {
		minf.Smhd = &bmff.Box{Type: bmff.TypeSmhd, Smhd: &bmff.Smhd{}}
	}
	mdia := &bmff.Mdia{
		Mdhd: &bmff.Box{Type: bmff.TypeMdhd, Mdhd: &bmff.Mdhd{
			CreationTime:     creation,
			ModificationTime: creation,
			Timescale:        cfg.Timescale,
			Language:         "und",
		}},
		Hdlr: &bmff.Box{Type: bmff.TypeHdlr, Hdlr: &bmff.Hdlr{
			HandlerType: cfg.Kind.HandlerType(),
			Name:        handlerName(cfg.Kind),
		}},
		Minf: &bmff.Box{Type: bmff.TypeMinf, Minf: minf},
	}
	trak := &bmff.Trak{
		Tkhd: &bmff.Box{Type: bmff.TypeTkhd, Tkhd: tkhd},
		Mdia: &bmff.Box{Type: bmff.TypeMdia, Mdia: mdia},
	}
	return &bmff.Box{Type: bmff.TypeTrak, Trak: trak}, nil
}

func handlerName(k bmff.TrackKind) string {
	if k == bmff.TrackAudio {
		return "SoundHandler"
	}
	return "VideoHandler"
}

// trackRun is the per-track grouping of one fragment's samples.
type trackRun struct {
	trackIndex     int
	trackID        uint32
	samples        []*FragmentSample
	baseDecodeTime uint64
	durationSum    uint64
	dataSizeSum    uint64
	useCompOffset  bool
}

// BuildFragment builds one moof+mdat fragment covering samples, which
// must be grouped by track: once a track's run ends, that track may not
// reappear later in the same fragment. The shared sequence number and
// each referenced track's base media decode time advance only when the
// build succeeds.
func (m *Muxer) BuildFragment(samples []FragmentSample) (*FragmentOutput, error) {
	if len(samples) == 0 {
		return nil, mp4err.New(mp4err.InvalidInput, "fragment must contain at least one sample")
	}
	if m.nextSequenceNumber == math.MaxUint32 {
		return nil, mp4err.New(mp4err.InvalidState, "fragment sequence number overflows")
	}

	runs, err := m.groupSamples(samples)
	if err != nil {
		return nil, err
	}
	var totalDataSize uint64
	for _, r := range runs {
		totalDataSize += r.dataSizeSum
	}

	// First pass with zero data offsets fixes the moof size; trun data
	// offsets are then known exactly and the moof is rebuilt with them.
	moofBox, err := m.buildMoof(runs, nil)
	if err != nil {
		return nil, err
	}
	moofBytes, err := bmff.Encode(moofBox)
	if err != nil {
		return nil, err
	}
	if 8+totalDataSize > uint64(1)<<32-1 {
		return nil, mp4err.New(mp4err.InvalidInput, "fragment media data size %d overflows the mdat size field", totalDataSize)
	}
	mdatHeader := make([]byte, 8)
	be.PutUint32(mdatHeader, uint32(8+totalDataSize))
	copy(mdatHeader[4:], "mdat")

	offsets, err := computeDataOffsets(runs, uint64(len(moofBytes)), uint64(len(mdatHeader)))
	if err != nil {
		return nil, err
	}
	moofBox, err = m.buildMoof(runs, offsets)
	if err != nil {
		return nil, err
	}
	moofBytes, err = bmff.Encode(moofBox)
	if err != nil {
		return nil, err
	}

	// Success: advance session state.
	for _, r := range runs {
		m.tracks[r.trackIndex].nextDecodeTime = r.baseDecodeTime + r.durationSum
	}
	m.nextSequenceNumber++

	return &FragmentOutput{
		MoofBytes:       moofBytes,
		MdatHeaderBytes: mdatHeader,
		MediaDataSize:   totalDataSize,
		Moof:            moofBox,
	}, nil
}

func (m *Muxer) groupSamples(samples []FragmentSample) ([]*trackRun, error) {
	var runs []*trackRun
	seen := map[uint32]bool{}
	for i := range samples {
		s := &samples[i]
		idx, ok := m.byID[s.TrackID]
		if !ok {
			return nil, mp4err.New(mp4err.InvalidInput, "unknown track id %d", s.TrackID)
		}
		if n := len(runs); n > 0 && runs[n-1].trackID == s.TrackID {
			r := runs[n-1]
			r.durationSum += uint64(s.Duration)
			r.dataSizeSum += uint64(s.DataSize)
			r.useCompOffset = r.useCompOffset || s.HasCompositionOffset
			r.samples = append(r.samples, s)
			continue
		}
		if seen[s.TrackID] {
			return nil, mp4err.New(mp4err.InvalidInput, "samples for track %d are interleaved within the fragment", s.TrackID)
		}
		seen[s.TrackID] = true
		runs = append(runs, &trackRun{
			trackIndex:     idx,
			trackID:        s.TrackID,
			samples:        []*FragmentSample{s},
			baseDecodeTime: m.tracks[idx].nextDecodeTime,
			durationSum:    uint64(s.Duration),
			dataSizeSum:    uint64(s.DataSize),
			useCompOffset:  s.HasCompositionOffset,
		})
	}
	return runs, nil
}

func (m *Muxer) buildMoof(runs []*trackRun, dataOffsets []int32) (*bmff.Box, error) {
	moof := &bmff.Moof{
		Mfhd: &bmff.Box{Type: bmff.TypeMfhd, Mfhd: &bmff.Mfhd{SequenceNumber: m.nextSequenceNumber}},
	}
	for i, r := range runs {
		trun := &bmff.Trun{
			HasDataOffset:              true,
			HasSampleDuration:          true,
			HasSampleSize:              true,
			HasSampleFlags:             true,
			HasSampleCompositionOffset: r.useCompOffset,
		}
		if dataOffsets != nil {
			trun.DataOffset = dataOffsets[i]
		}
		for _, s := range r.samples {
			flags := s.Flags
			if !s.HasFlags {
				flags = sampleFlagsFromKeyframe(s.Keyframe)
			}
			e := bmff.TrunEntry{SampleDuration: s.Duration, SampleSize: s.DataSize, SampleFlags: flags}
			if r.useCompOffset {
				e.SampleCompositionTimeOffset = s.CompositionOffset
			}
			trun.Entries = append(trun.Entries, e)
		}
		traf := &bmff.Traf{
			Tfhd:  &bmff.Box{Type: bmff.TypeTfhd, Tfhd: &bmff.Tfhd{TrackID: r.trackID, DefaultBaseIsMoof: true}},
			Tfdt:  &bmff.Box{Type: bmff.TypeTfdt, Tfdt: &bmff.Tfdt{BaseMediaDecodeTime: r.baseDecodeTime}},
			Truns: []*bmff.Box{{Type: bmff.TypeTrun, Trun: trun}},
		}
		moof.Trafs = append(moof.Trafs, &bmff.Box{Type: bmff.TypeTraf, Traf: traf})
	}
	return &bmff.Box{Type: bmff.TypeMoof, Moof: moof}, nil
}

// computeDataOffsets returns each run's trun data offset: the distance
// from the start of the moof to the run's first payload byte.
func computeDataOffsets(runs []*trackRun, moofSize, mdatHeaderSize uint64) ([]int32, error) {
	offsets := make([]int32, len(runs))
	running := moofSize + mdatHeaderSize
	for i, r := range runs {
		if running > math.MaxInt32 {
			return nil, mp4err.New(mp4err.InvalidInput, "DataOffsetTooLarge: trun data offset %d exceeds int32 range", running)
		}
		offsets[i] = int32(running)
		running += r.dataSizeSum
	}
	return offsets, nil
}
