package mux

import (
	"github.com/go-bmff/isobox"
)

// buildMoov assembles the moov box from the accumulated per-track
// sample tables. Chunk offsets are final at this point in both layouts:
// they are the caller-reported data offsets, which already account for
// the faststart reservation when one was configured.
func (m *Muxer) buildMoov() ([]byte, error) {
	creation := uint64(0)
	if !m.opts.CreationTimestamp.IsZero() {
		creation = bmff.UnixToMP4Time(m.opts.CreationTimestamp.Unix())
	}
	moov := &bmff.Moov{
		Mvhd: &bmff.Box{Type: bmff.TypeMvhd, Mvhd: &bmff.Mvhd{
			CreationTime:     creation,
			ModificationTime: creation,
			Timescale:        m.opts.MovieTimescale,
			Duration:         m.movieDuration(),
			Rate:             0x00010000,
			Volume:           0x0100,
			Matrix:           identityMatrix(),
			NextTrackID:      uint32(len(m.tracks)) + 1,
		}},
	}
	for _, t := range m.tracks {
		trak, err := m.buildTrak(t, creation)
		if err != nil {
			return nil, err
		}
		moov.Traks = append(moov.Traks, trak)
	}
	return bmff.Encode(&bmff.Box{Type: bmff.TypeMoov, Moov: moov})
}

func trackDuration(t *trackState) uint64 {
	var d uint64
	for _, delta := range t.deltas {
		d += uint64(delta)
	}
	return d
}

// toMovieScale converts a duration in track timescale units to the
// movie timescale.
func (m *Muxer) toMovieScale(t *trackState) uint64 {
	return trackDuration(t) * uint64(m.opts.MovieTimescale) / uint64(t.timescale)
}

func (m *Muxer) movieDuration() uint64 {
	var max uint64
	for _, t := range m.tracks {
		if d := m.toMovieScale(t); d > max {
			max = d
		}
	}
	return max
}

func identityMatrix() [9]int32 {
	return [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
}

func (m *Muxer) buildTrak(t *trackState, creation uint64) (*bmff.Box, error) {
	isVideo := t.kind == bmff.TrackVideo

	tkhd := &bmff.Tkhd{
		CreationTime:     creation,
		ModificationTime: creation,
		TrackID:          t.trackID,
		Duration:         m.toMovieScale(t),
		Matrix:           identityMatrix(),
		Enabled:          true,
		InMovie:          true,
	}
	if isVideo {
		if v := t.entries[0].Visual; v != nil {
			tkhd.Width = uint32(v.Width) << 16
			tkhd.Height = uint32(v.Height) << 16
		}
	} else {
		tkhd.Volume = 0x0100
	}

	stbl, err := buildStbl(t)
	if err != nil {
		return nil, err
	}

	minf := &bmff.Minf{
		Dinf: selfContainedDinf(),
		Stbl: stbl,
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
			Timescale:        t.timescale,
			Duration:         trackDuration(t),
			Language:         "und",
		}},
		Hdlr: &bmff.Box{Type: bmff.TypeHdlr, Hdlr: &bmff.Hdlr{
			HandlerType: t.kind.HandlerType(),
			Name:        handlerName(t.kind),
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

func selfContainedDinf() *bmff.Box {
	return &bmff.Box{Type: bmff.TypeDinf, Dinf: &bmff.Dinf{
		Dref: &bmff.Box{Type: bmff.TypeDref, Dref: &bmff.Dref{
			Entries: []*bmff.Box{{Type: bmff.TypeUrl, Url: &bmff.DataEntryURL{SelfContained: true}}},
		}},
	}}
}

func buildStbl(t *trackState) (*bmff.Box, error) {
	stts := bmff.FromSampleDeltas(t.deltas)

	// stss is omitted when every sample is a sync sample.
	var stss *bmff.Stss
	for _, sync := range t.sync {
		if !sync {
			stss = &bmff.Stss{}
			for i, s := range t.sync {
				if s {
					stss.SampleNumbers = append(stss.SampleNumbers, uint32(i)+1)
				}
			}
			break
		}
	}

	// stsc: one entry per run of chunks sharing (samples_per_chunk,
	// sample_description_index).
	stsc := &bmff.Stsc{}
	for i, c := range t.chunks {
		n := len(stsc.Entries)
		if n > 0 &&
			stsc.Entries[n-1].SamplesPerChunk == c.sampleCount &&
			stsc.Entries[n-1].SampleDescriptionIndex == c.sdi {
			continue
		}
		stsc.Entries = append(stsc.Entries, bmff.StscEntry{
			FirstChunk:             uint32(i) + 1,
			SamplesPerChunk:        c.sampleCount,
			SampleDescriptionIndex: c.sdi,
		})
	}

	stsz := buildStsz(t.sizes)

	useCo64 := false
	for _, c := range t.chunks {
		if c.offset > uint32Max64 {
			useCo64 = true
			break
		}
	}

	s := &bmff.Stbl{
		Stsd: &bmff.Box{Type: bmff.TypeStsd, Stsd: &bmff.Stsd{Entries: t.entries}},
		Stts: &bmff.Box{Type: bmff.TypeStts, Stts: stts},
		Stsc: &bmff.Box{Type: bmff.TypeStsc, Stsc: stsc},
		Stsz: &bmff.Box{Type: bmff.TypeStsz, Stsz: stsz},
	}
	if stss != nil {
		s.Stss = &bmff.Box{Type: bmff.TypeStss, Stss: stss}
	}
	if useCo64 {
		offs := make([]uint64, len(t.chunks))
		for i, c := range t.chunks {
			offs[i] = c.offset
		}
		s.Co64 = &bmff.Box{Type: bmff.TypeCo64, Co64: &bmff.Co64{ChunkOffsets: offs}}
	} else {
		offs := make([]uint32, len(t.chunks))
		for i, c := range t.chunks {
			offs[i] = uint32(c.offset)
		}
		s.Stco = &bmff.Box{Type: bmff.TypeStco, Stco: &bmff.Stco{ChunkOffsets: offs}}
	}
	return &bmff.Box{Type: bmff.TypeStbl, Stbl: s}, nil
}

// buildStsz chooses the fixed-size form when every sample shares one
// non-zero size, and the per-sample vector otherwise.
func buildStsz(sizes []uint32) *bmff.Stsz {
	fixed := true
	for _, v := range sizes {
		if v == 0 || v != sizes[0] {
			fixed = false
			break
		}
	}
	if fixed && len(sizes) > 0 {
		return &bmff.Stsz{SampleSize: sizes[0], SampleCount: uint32(len(sizes))}
	}
	return &bmff.Stsz{SampleCount: uint32(len(sizes)), EntrySizes: sizes}
}

const uint32Max64 = uint64(1)<<32 - 1
