package bmff

import "github.com/go-bmff/isobox/mp4err"

// ElstEntry is one edit list entry. MediaTime of -1 denotes an empty
// edit. MediaRateInteger/Fraction are almost always 1/0.
type ElstEntry struct {
	SegmentDuration   uint64
	MediaTime         int64
	MediaRateInteger  int16
	MediaRateFraction int16
}

// Elst is the edit list box, decoded and preserved but never replayed
// into presentation timestamps by the sample table indexer or demuxer:
// callers that need edit-adjusted timing read Elst directly.
type Elst struct {
	Entries []ElstEntry
}

func decodeElst(box *Box, r *byteReader) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	entrySize := uint64(12)
	if box.Version == 1 {
		entrySize = 20
	}
	if uint64(count)*entrySize > uint64(r.remaining()) {
		return mp4err.New(mp4err.InvalidData, "elst entry count %d exceeds payload", count)
	}
	entries := make([]ElstEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		var e ElstEntry
		if box.Version == 1 {
			if e.SegmentDuration, err = r.u64(); err != nil {
				return err
			}
			mt, err := r.i64()
			if err != nil {
				return err
			}
			e.MediaTime = mt
		} else {
			sd, err := r.u32()
			if err != nil {
				return err
			}
			mt, err := r.i32()
			if err != nil {
				return err
			}
			e.SegmentDuration = uint64(sd)
			e.MediaTime = int64(mt)
		}
		if e.MediaRateInteger, err = r.i16(); err != nil {
			return err
		}
		if e.MediaRateFraction, err = r.i16(); err != nil {
			return err
		}
		entries = append(entries, e)
	}
	box.Elst = &Elst{Entries: entries}
	return nil
}

func encodeElst(box *Box, w *byteWriter) error {
	e := box.Elst
	version := uint8(0)
	for _, ent := range e.Entries {
		if ent.SegmentDuration > uint32Max || ent.MediaTime > int64(1)<<31-1 || ent.MediaTime < -(int64(1)<<31) {
			version = 1
			break
		}
	}
	writeFullBoxHeader(w, version, 0)
	w.u32(uint32(len(e.Entries)))
	for _, ent := range e.Entries {
		if version == 1 {
			w.u64(ent.SegmentDuration)
			w.i64(ent.MediaTime)
		} else {
			w.u32(uint32(ent.SegmentDuration))
			w.i32(int32(ent.MediaTime))
		}
		w.i16(ent.MediaRateInteger)
		w.i16(ent.MediaRateFraction)
	}
	return nil
}

func init() { register(TypeElst, decodeElst, encodeElst) }

// Edts is the edit box: a container whose only defined child is elst.
type Edts struct {
	Elst    *Box
	Unknown []*Box
}

func decodeEdts(box *Box, r *byteReader) error {
	children, err := decodeChildren(r)
	if err != nil {
		return err
	}
	e := &Edts{}
	for _, c := range children {
		if c.Type == TypeElst {
			e.Elst = c
		} else {
			e.Unknown = append(e.Unknown, c)
		}
	}
	box.Edts = e
	return nil
}

func encodeEdts(box *Box, w *byteWriter) error {
	e := box.Edts
	if e.Elst != nil {
		if err := encodeChild(w, e.Elst); err != nil {
			return err
		}
	}
	for _, c := range e.Unknown {
		if err := encodeChild(w, c); err != nil {
			return err
		}
	}
	return nil
}

func init() { register(TypeEdts, decodeEdts, encodeEdts) }
