// Package demux implements a pull-based MP4 demuxer: it owns no I/O and
// no file handle. Callers drive it by answering RequiredInput requests
// with Input chunks; the demuxer never blocks and never reads ahead of
// what it has been given.
package demux

import (
	"math/bits"

	"github.com/go-bmff/isobox"
	"github.com/go-bmff/isobox/mp4err"
	"github.com/go-bmff/isobox/stbl"
)

// state is the demuxer's internal phase.
type state int

const (
	stateNeedFtypHeader state = iota
	stateNeedFtypBody
	stateNeedNextTopLevelHeader
	stateNeedMoovBody
	stateReady
)

// RequiredInput describes the next byte range the demuxer needs before
// it can make progress. Size is never negative: the demuxer does not
// request a range that extends to EOF, and a size-0 top-level box met
// before moov is reported as InvalidData.
type RequiredInput struct {
	Position int64
	Size     int64
}

// Input answers a RequiredInput request. Data must start exactly at
// Position and cover at least the requested size.
type Input struct {
	Position int64
	Data     []byte
}

// Track is one moov-declared video or audio track with its sample table
// already indexed. Tracks whose handler type is neither vide nor soun
// are permitted in the file but not materialized.
type Track struct {
	TrackID     uint32
	Kind        bmff.TrackKind
	Timescale   uint32
	SampleEntry *bmff.Box
	Table       *stbl.Table
	Box         *bmff.Box // the decoded trak box, for callers that need raw fields
}

// Sample is one demuxed sample, ready to be read from the file at
// [DataOffset, DataOffset+Size). Timestamp and Duration are in the
// owning track's timescale.
type Sample struct {
	TrackID           uint32
	Number            uint32
	SampleEntry       *bmff.Box
	Timestamp         uint64
	Duration          uint32
	CompositionOffset int32
	DataOffset        uint64
	Size              uint32
	Sync              bool
}

// Demuxer is the pull-based state machine. It is not safe for concurrent use.
type Demuxer struct {
	st state

	pos int64 // absolute file offset of the box the demuxer is working on

	ftyp         *bmff.Ftyp
	ftypTotalLen int64

	tracks []*Track

	// cursor[i] is the count of samples already returned for track i.
	cursor []uint32

	pendingTopLevel bmff.Header
}

// New returns a Demuxer positioned at the start of a file.
func New() *Demuxer {
	return &Demuxer{st: stateNeedFtypHeader}
}

// RequiredInput returns the next byte range the caller must supply via
// HandleInput, and false once moov has been parsed and no further input
// is needed (sample data is read by the caller directly, using the
// offsets on returned Samples).
func (d *Demuxer) RequiredInput() (RequiredInput, bool) {
	switch d.st {
	case stateNeedFtypHeader:
		return RequiredInput{Position: d.pos, Size: 32}, true
	case stateNeedFtypBody:
		return RequiredInput{Position: d.pos, Size: d.ftypTotalLen}, true
	case stateNeedNextTopLevelHeader:
		return RequiredInput{Position: d.pos, Size: 32}, true
	case stateNeedMoovBody:
		return RequiredInput{Position: d.pos, Size: d.pendingTopLevel.TotalLen()}, true
	default:
		return RequiredInput{}, false
	}
}

// HandleInput advances the state machine with the requested bytes. The
// input must start exactly at the position RequiredInput reported; when
// the provided slice extends past the requested range, the demuxer
// advances through as many states as the slice covers before asking for
// more. Every transition consumes at least one byte or fails, so a
// malformed header (size smaller than its own length) surfaces as
// InvalidData instead of re-requesting the same range forever.
func (d *Demuxer) HandleInput(in Input) error {
	req, ok := d.RequiredInput()
	if !ok {
		return mp4err.New(mp4err.InvalidState, "no input required: demuxer is ready")
	}
	if in.Position != req.Position {
		return mp4err.New(mp4err.InvalidInput, "input position %d does not match requested position %d", in.Position, req.Position)
	}
	progressed := false
	for {
		req, ok := d.RequiredInput()
		if !ok {
			return nil
		}
		off := req.Position - in.Position
		if off < 0 || off > int64(len(in.Data)) {
			return nil
		}
		avail := in.Data[off:]
		if int64(len(avail)) < req.Size {
			// Header requests are sized for the largest possible header
			// (32 bytes); a shorter slice still suffices for a compact
			// one, so only report InputRequired when the slice cannot
			// cover the header this box actually uses.
			need := req.Size
			if d.st == stateNeedFtypHeader || d.st == stateNeedNextTopLevelHeader {
				need = headerLenOf(avail)
			}
			if int64(len(avail)) < need {
				if progressed {
					return nil
				}
				return &mp4err.InputRequired{Position: req.Position, Size: req.Size}
			}
		}
		if err := d.step(avail); err != nil {
			return err
		}
		progressed = true
	}
}

// headerLenOf returns the header length the box starting at data will
// occupy (8, 16, 24 or 32 bytes), or a value larger than len(data) when
// even the fixed 8-byte prefix is unavailable.
func headerLenOf(data []byte) int64 {
	if len(data) < 8 {
		return 8
	}
	n := int64(8)
	size := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	if size == 1 {
		n += 8
	}
	if string(data[4:8]) == "uuid" {
		n += 16
	}
	return n
}

// step runs one state transition against data, which starts at the
// currently-requested position and is long enough for that state.
func (d *Demuxer) step(data []byte) error {
	switch d.st {
	case stateNeedFtypHeader:
		hdr, err := bmff.DecodeHeader(data)
		if err != nil {
			return err
		}
		if hdr.Type != bmff.TypeFtyp {
			return mp4err.New(mp4err.InvalidData, "first top-level box must be ftyp, got %q", hdr.Type)
		}
		if hdr.PayloadLen < 0 {
			return mp4err.New(mp4err.InvalidData, "ftyp must not have size 0")
		}
		d.ftypTotalLen = hdr.TotalLen()
		d.st = stateNeedFtypBody
		return nil

	case stateNeedFtypBody:
		box, _, err := bmff.Decode(data[:d.ftypTotalLen])
		if err != nil {
			return err
		}
		d.ftyp = box.Ftyp
		d.pos += d.ftypTotalLen
		d.st = stateNeedNextTopLevelHeader
		return nil

	case stateNeedNextTopLevelHeader:
		hdr, err := bmff.DecodeHeader(data)
		if err != nil {
			return err
		}
		d.pendingTopLevel = hdr
		if hdr.Type == bmff.TypeMoov {
			if hdr.PayloadLen < 0 {
				return mp4err.New(mp4err.InvalidData, "moov must not have size 0")
			}
			d.st = stateNeedMoovBody
			return nil
		}
		if hdr.PayloadLen < 0 {
			// A size-0 box extends to EOF, so nothing can follow it; a
			// moov was never found.
			return mp4err.New(mp4err.InvalidData, "moov box not found before size-0 box %q", hdr.Type)
		}
		// mdat, free, skip, sidx, moof, mfra and unknown boxes are
		// skipped without being materialized.
		d.pos += hdr.TotalLen()
		return nil

	case stateNeedMoovBody:
		box, _, err := bmff.Decode(data[:d.pendingTopLevel.TotalLen()])
		if err != nil {
			return err
		}
		if box.Moov == nil {
			return mp4err.New(mp4err.InvalidData, "decoded moov box has no payload")
		}
		if err := d.indexMoov(box.Moov); err != nil {
			return err
		}
		d.pos += d.pendingTopLevel.TotalLen()
		d.st = stateReady
		return nil

	default:
		return mp4err.New(mp4err.InvalidState, "no input required in current state")
	}
}

// Ready reports whether moov has been fully parsed and sample iteration
// can begin.
func (d *Demuxer) Ready() bool { return d.st == stateReady }

var (
	handlerVideo = bmff.BoxType{'v', 'i', 'd', 'e'}
	handlerAudio = bmff.BoxType{'s', 'o', 'u', 'n'}
)

func (d *Demuxer) indexMoov(m *bmff.Moov) error {
	d.tracks = nil
	for _, trakBox := range m.Traks {
		trak := trakBox.Trak
		if trak.Tkhd == nil || trak.Mdia == nil {
			return mp4err.New(mp4err.InvalidData, "trak missing tkhd/mdia")
		}
		mdia := trak.Mdia.Mdia
		if mdia.Mdhd == nil || mdia.Minf == nil {
			return mp4err.New(mp4err.InvalidData, "mdia missing mdhd/minf")
		}
		var kind bmff.TrackKind
		switch {
		case mdia.Hdlr != nil && mdia.Hdlr.Hdlr.HandlerType == handlerVideo:
			kind = bmff.TrackVideo
		case mdia.Hdlr != nil && mdia.Hdlr.Hdlr.HandlerType == handlerAudio:
			kind = bmff.TrackAudio
		default:
			// Tracks other than video/audio (text, meta, hint, ...) are
			// left unindexed.
			continue
		}
		minf := mdia.Minf.Minf
		if minf.Stbl == nil {
			return mp4err.New(mp4err.InvalidData, "minf missing stbl")
		}
		table, err := stbl.New(minf.Stbl.Stbl)
		if err != nil {
			return err
		}
		var sampleEntry *bmff.Box
		if minf.Stbl.Stbl.Stsd != nil && len(minf.Stbl.Stbl.Stsd.Stsd.Entries) > 0 {
			sampleEntry = minf.Stbl.Stbl.Stsd.Stsd.Entries[0]
		}
		d.tracks = append(d.tracks, &Track{
			TrackID:     trak.Tkhd.Tkhd.TrackID,
			Kind:        kind,
			Timescale:   mdia.Mdhd.Mdhd.Timescale,
			SampleEntry: sampleEntry,
			Table:       table,
			Box:         trakBox,
		})
	}
	d.cursor = make([]uint32, len(d.tracks))
	return nil
}

// Ftyp returns the decoded file type box. Valid once the ftyp body has
// been handled.
func (d *Demuxer) Ftyp() *bmff.Ftyp { return d.ftyp }

// Tracks returns the demuxed tracks. Valid only once Ready.
func (d *Demuxer) Tracks() []*Track { return d.tracks }

// tsLess reports whether a/as < b/bs, comparing timestamps across
// different timescales exactly via 128-bit cross multiplication.
func tsLess(a uint64, as uint32, b uint64, bs uint32) bool {
	ahi, alo := bits.Mul64(a, uint64(bs))
	bhi, blo := bits.Mul64(b, uint64(as))
	if ahi != bhi {
		return ahi < bhi
	}
	return alo < blo
}

// NextSample returns the next sample in ascending timestamp order
// across all tracks, tie-broken by track registration order (the order
// tracks appear in moov). It returns an *mp4err.Error of kind
// NoMoreSamples once every track is exhausted.
func (d *Demuxer) NextSample() (*Sample, error) {
	if !d.Ready() {
		req, _ := d.RequiredInput()
		return nil, &mp4err.InputRequired{Position: req.Position, Size: req.Size}
	}
	best := -1
	var bestTS uint64
	var bestScale uint32
	for i, tr := range d.tracks {
		if d.cursor[i] >= tr.Table.SampleCount() {
			continue
		}
		sa, err := tr.Table.GetSample(d.cursor[i] + 1)
		if err != nil {
			return nil, err
		}
		if best == -1 || tsLess(sa.Timestamp, tr.Timescale, bestTS, bestScale) {
			best = i
			bestTS = sa.Timestamp
			bestScale = tr.Timescale
		}
	}
	if best == -1 {
		return nil, mp4err.New(mp4err.NoMoreSamples, "no more samples")
	}
	tr := d.tracks[best]
	sa, err := tr.Table.GetSample(d.cursor[best] + 1)
	if err != nil {
		return nil, err
	}
	off, err := tr.Table.DataOffset(sa.Number)
	if err != nil {
		return nil, err
	}
	d.cursor[best]++
	return &Sample{
		TrackID:           tr.TrackID,
		Number:            sa.Number,
		SampleEntry:       tr.Table.SampleEntry(sa.SampleDescriptionIndex),
		Timestamp:         sa.Timestamp,
		Duration:          sa.Duration,
		CompositionOffset: sa.CompositionOffset,
		DataOffset:        off,
		Size:              sa.Size,
		Sync:              sa.Sync,
	}, nil
}
