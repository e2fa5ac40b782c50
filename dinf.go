package bmff

import (
	"strings"

	"github.com/go-bmff/isobox/mp4err"
)

// Dref is the data reference box: a count-prefixed list of data entry
// boxes (almost always a single self-contained "url ").
type Dref struct {
	Entries []*Box
}

func decodeDref(box *Box, r *byteReader) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	var entries []*Box
	for i := uint32(0); i < count; i++ {
		child, n, err := Decode(r.b[r.pos:])
		if err != nil {
			return err
		}
		entries = append(entries, child)
		if err := r.skip(n); err != nil {
			return err
		}
	}
	box.Dref = &Dref{Entries: entries}
	return nil
}

func encodeDref(box *Box, w *byteWriter) error {
	writeFullBoxHeader(w, 0, 0)
	w.u32(uint32(len(box.Dref.Entries)))
	for _, e := range box.Dref.Entries {
		if err := encodeChild(w, e); err != nil {
			return err
		}
	}
	return nil
}

func init() { register(TypeDref, decodeDref, encodeDref) }

// DataEntryURL is the "url " data entry box. When SelfContained is set,
// the media data resides in this same file and Location is empty.
type DataEntryURL struct {
	SelfContained bool
	Location      string
}

func decodeURL(box *Box, r *byteReader) error {
	d := &DataEntryURL{SelfContained: box.Flags&0x1 != 0}
	if !d.SelfContained {
		loc, err := r.cstring()
		if err != nil {
			return err
		}
		d.Location = loc
	}
	box.Dref = nil
	box.Url = d
	return nil
}

func encodeURL(box *Box, w *byteWriter) error {
	d := box.Url
	if d == nil {
		d = &DataEntryURL{SelfContained: box.Flags&0x1 != 0}
	}
	if strings.ContainsRune(d.Location, 0) {
		return mp4err.New(mp4err.InvalidInput, "url location contains an interior NUL byte")
	}
	flags := uint32(0)
	if d.SelfContained {
		flags = 0x1
	}
	writeFullBoxHeader(w, 0, flags)
	if !d.SelfContained {
		w.cstring(d.Location)
	}
	return nil
}

func init() { register(TypeUrl, decodeURL, encodeURL) }

// Dinf is the data information box: a container whose only defined
// child is dref.
type Dinf struct {
	Dref    *Box
	Unknown []*Box
}

func decodeDinf(box *Box, r *byteReader) error {
	children, err := decodeChildren(r)
	if err != nil {
		return err
	}
	d := &Dinf{}
	for _, c := range children {
		if c.Type == TypeDref {
			d.Dref = c
		} else {
			d.Unknown = append(d.Unknown, c)
		}
	}
	box.Dinf = d
	return nil
}

func encodeDinf(box *Box, w *byteWriter) error {
	d := box.Dinf
	if d.Dref != nil {
		if err := encodeChild(w, d.Dref); err != nil {
			return err
		}
	}
	for _, c := range d.Unknown {
		if err := encodeChild(w, c); err != nil {
			return err
		}
	}
	return nil
}

func init() { register(TypeDinf, decodeDinf, encodeDinf) }
