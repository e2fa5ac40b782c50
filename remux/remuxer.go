// Package remux converts a progressive (ftyp+moov+mdat) MP4 into
// fragmented MP4 streams suitable for incremental delivery: one init
// segment plus keyframe-aligned moof+mdat fragments per track. The
// package owns no file handle; sources are parsed through the demux
// state machine and sample payloads are copied from a caller-supplied
// io.ReaderAt at write time.
package remux

import (
	"io"
	"time"

	"github.com/go-bmff/isobox"
	"github.com/go-bmff/isobox/demux"
	"github.com/go-bmff/isobox/fmux"
	"github.com/go-bmff/isobox/mp4err"
	"github.com/go-bmff/isobox/stbl"
)

// Sample is one media sample's location and timing, flattened from the
// source's sample table.
type Sample struct {
	DataOffset        uint64
	Size              uint32
	Duration          uint32
	DTS               uint64 // decode timestamp in the track's timescale
	CompositionOffset int32
	Sync              bool
}

// Track is one remuxable track: its config for init segments plus a
// flat sample table.
type Track struct {
	TrackID   uint32
	Kind      bmff.TrackKind
	Timescale uint32

	Samples []Sample

	cfg  fmux.TrackConfig
	init []byte
}

// Remuxer holds the parsed source metadata for every video/audio track.
type Remuxer struct {
	Tracks []*Track
}

// New parses the moov of a progressive MP4 read from ra. size is the
// total file size; it bounds the demuxer's byte requests.
func New(ra io.ReaderAt, size int64) (*Remuxer, error) {
	d := demux.New()
	for {
		req, ok := d.RequiredInput()
		if !ok {
			break
		}
		n := req.Size
		if req.Position+n > size {
			n = size - req.Position
		}
		if n <= 0 {
			return nil, mp4err.New(mp4err.InvalidData, "source ends before moov at position %d", req.Position)
		}
		buf := make([]byte, n)
		if _, err := ra.ReadAt(buf, req.Position); err != nil && err != io.EOF {
			return nil, err
		}
		if err := d.HandleInput(demux.Input{Position: req.Position, Data: buf}); err != nil {
			return nil, err
		}
	}
	return fromDemuxer(d)
}

// NewFromBytes parses an in-memory progressive MP4.
func NewFromBytes(data []byte) (*Remuxer, error) {
	d := demux.New()
	for {
		req, ok := d.RequiredInput()
		if !ok {
			break
		}
		if req.Position >= int64(len(data)) {
			return nil, mp4err.New(mp4err.InvalidData, "source ends before moov at position %d", req.Position)
		}
		if err := d.HandleInput(demux.Input{Position: req.Position, Data: data[req.Position:]}); err != nil {
			return nil, err
		}
	}
	return fromDemuxer(d)
}

func fromDemuxer(d *demux.Demuxer) (*Remuxer, error) {
	r := &Remuxer{}
	for _, dt := range d.Tracks() {
		if dt.SampleEntry == nil {
			continue
		}
		t := &Track{
			TrackID:   dt.TrackID,
			Kind:      dt.Kind,
			Timescale: dt.Timescale,
			cfg: fmux.TrackConfig{
				TrackID:     dt.TrackID,
				Kind:        dt.Kind,
				Timescale:   dt.Timescale,
				SampleEntry: dt.SampleEntry,
			},
		}
		if err := t.flattenSamples(dt.Table); err != nil {
			return nil, err
		}
		fm, err := fmux.NewMuxer([]fmux.TrackConfig{t.cfg})
		if err != nil {
			return nil, err
		}
		t.init = fm.InitSegmentBytes()
		r.Tracks = append(r.Tracks, t)
	}
	if len(r.Tracks) == 0 {
		return nil, mp4err.New(mp4err.InvalidData, "no remuxable tracks")
	}
	return r, nil
}

func (t *Track) flattenSamples(table *stbl.Table) error {
	n := table.SampleCount()
	t.Samples = make([]Sample, 0, n)
	for i := uint32(1); i <= n; i++ {
		sa, err := table.GetSample(i)
		if err != nil {
			return err
		}
		off, err := table.DataOffset(i)
		if err != nil {
			return err
		}
		t.Samples = append(t.Samples, Sample{
			DataOffset:        off,
			Size:              sa.Size,
			Duration:          sa.Duration,
			DTS:               sa.Timestamp,
			CompositionOffset: sa.CompositionOffset,
			Sync:              sa.Sync,
		})
	}
	return nil
}

// InitSegment returns the track's ftyp+moov init segment bytes.
func (t *Track) InitSegment() []byte { return t.init }

// Duration returns the track's total media duration.
func (t *Track) Duration() time.Duration {
	var ticks uint64
	for _, s := range t.Samples {
		ticks += uint64(s.Duration)
	}
	return time.Duration(ticks) * time.Second / time.Duration(t.Timescale)
}

// findSampleBefore returns the index of the last sync sample at or
// before ts, so playback windows always begin at a decodable sample.
func (t *Track) findSampleBefore(ts time.Duration) int {
	target := ticksOf(ts, t.Timescale)
	best := 0
	for i, s := range t.Samples {
		if s.DTS > target {
			break
		}
		if s.Sync {
			best = i
		}
	}
	return best
}

func ticksOf(d time.Duration, timescale uint32) uint64 {
	return uint64(d * time.Duration(timescale) / time.Second)
}
