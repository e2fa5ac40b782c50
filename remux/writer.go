package remux

import (
	"io"
	"time"

	"github.com/go-bmff/isobox/fmux"
)

// minFragmentDuration is the smallest fragment a Writer cuts: a new
// fragment starts at the first sync sample after this much media time.
const minFragmentDuration = time.Second

// pts is a sample's presentation timestamp in track timescale ticks.
func pts(s *Sample) int64 {
	return int64(s.DTS) + int64(s.CompositionOffset)
}

// byteRange is a half-open [Start, End) span of source file bytes.
type byteRange struct {
	Start uint64
	End   uint64
}

// Writer streams one track of a Remuxer as a fragmented MP4: the init
// segment followed by keyframe-aligned moof+mdat fragments. It holds
// reusable buffers and is not safe for concurrent use; use one Writer
// per goroutine.
type Writer struct {
	fsamples []fmux.FragmentSample
	ranges   []byteRange
	copyBuf  []byte
}

// NewWriter returns a Writer with pre-allocated buffers.
func NewWriter() *Writer {
	return &Writer{
		fsamples: make([]fmux.FragmentSample, 0, 512),
		ranges:   make([]byteRange, 0, 64),
		copyBuf:  make([]byte, 32768),
	}
}

// WriteTo writes track as a complete fragmented stream to w, copying
// sample payloads from ra. start and end bound the media time window;
// the window opens at the last sync sample at or before start, and an
// end of 0 means "to the end of the track".
func (wr *Writer) WriteTo(w io.Writer, ra io.ReaderAt, track *Track, start, end time.Duration) error {
	if _, err := w.Write(track.InitSegment()); err != nil {
		return err
	}

	fm, err := fmux.NewMuxer([]fmux.TrackConfig{track.cfg})
	if err != nil {
		return err
	}

	first := track.findSampleBefore(start)
	endTicks := uint64(0)
	if end > 0 {
		endTicks = ticksOf(end, track.Timescale)
	}

	i := first
	for i < len(track.Samples) {
		if endTicks > 0 && pts(&track.Samples[i]) >= int64(endTicks) {
			break
		}
		next := wr.collectFragment(track, i, endTicks)
		if next == i {
			break
		}
		out, err := fm.BuildFragment(wr.fsamples)
		if err != nil {
			return err
		}
		if _, err := w.Write(out.MoofBytes); err != nil {
			return err
		}
		if _, err := w.Write(out.MdatHeaderBytes); err != nil {
			return err
		}
		if err := wr.copyRanges(w, ra); err != nil {
			return err
		}
		i = next
	}
	return nil
}

// collectFragment fills wr.fsamples and wr.ranges with the samples of
// one fragment starting at index first, and returns the index of the
// next fragment's first sample. Fragment boundaries fall on sync
// samples once minFragmentDuration of media time has accumulated.
func (wr *Writer) collectFragment(track *Track, first int, endTicks uint64) int {
	wr.fsamples = wr.fsamples[:0]
	wr.ranges = wr.ranges[:0]

	minTicks := ticksOf(minFragmentDuration, track.Timescale)
	var accum uint64
	i := first
	for i < len(track.Samples) {
		s := &track.Samples[i]
		if i > first {
			if endTicks > 0 && pts(s) >= int64(endTicks) {
				break
			}
			if s.Sync && accum >= minTicks {
				break
			}
		}
		wr.fsamples = append(wr.fsamples, fmux.FragmentSample{
			TrackID:              track.TrackID,
			Duration:             s.Duration,
			DataSize:             s.Size,
			Keyframe:             s.Sync,
			CompositionOffset:    s.CompositionOffset,
			HasCompositionOffset: s.CompositionOffset != 0,
		})
		// Adjacent samples usually sit back to back in the source;
		// merging their spans keeps the copy loop sequential.
		if n := len(wr.ranges); n > 0 && wr.ranges[n-1].End == s.DataOffset {
			wr.ranges[n-1].End += uint64(s.Size)
		} else {
			wr.ranges = append(wr.ranges, byteRange{Start: s.DataOffset, End: s.DataOffset + uint64(s.Size)})
		}
		accum += uint64(s.Duration)
		i++
	}
	return i
}

// copyRanges copies every collected byte range from ra to w through the
// reusable copy buffer.
func (wr *Writer) copyRanges(w io.Writer, ra io.ReaderAt) error {
	for _, r := range wr.ranges {
		pos := r.Start
		for pos < r.End {
			n := uint64(len(wr.copyBuf))
			if r.End-pos < n {
				n = r.End - pos
			}
			if _, err := ra.ReadAt(wr.copyBuf[:n], int64(pos)); err != nil {
				return err
			}
			if _, err := w.Write(wr.copyBuf[:n]); err != nil {
				return err
			}
			pos += n
		}
	}
	return nil
}

// WriteTo writes track to w over [start, end) with a throwaway Writer.
func WriteTo(w io.Writer, ra io.ReaderAt, track *Track, start, end time.Duration) error {
	return NewWriter().WriteTo(w, ra, track, start, end)
}
