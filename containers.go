package bmff

// Stbl is the sample table box: the per-track index of sample timing,
// grouping, size and location. stts, stsc, stsz/stz2, stco/co64 and
// stsd are mandatory; ctts and stss are optional. Everything else
// (stsh, sgpd, sbgp, padb, subs, saiz, saio, ...) is preserved in
// Unknown without being interpreted.
type Stbl struct {
	Stsd    *Box
	Stts    *Box
	Ctts    *Box
	Stsc    *Box
	Stsz    *Box
	Stco    *Box // mutually exclusive with Co64
	Co64    *Box
	Stss    *Box
	Unknown []*Box
}

func decodeStbl(box *Box, r *byteReader) error {
	children, err := decodeChildren(r)
	if err != nil {
		return err
	}
	s := &Stbl{}
	for _, c := range children {
		switch c.Type {
		case TypeStsd:
			s.Stsd = c
		case TypeStts:
			s.Stts = c
		case TypeCtts:
			s.Ctts = c
		case TypeStsc:
			s.Stsc = c
		case TypeStsz, TypeStz2:
			s.Stsz = c
		case TypeStco:
			s.Stco = c
		case TypeCo64:
			s.Co64 = c
		case TypeStss:
			s.Stss = c
		default:
			s.Unknown = append(s.Unknown, c)
		}
	}
	box.Stbl = s
	return nil
}

func encodeStbl(box *Box, w *byteWriter) error {
	s := box.Stbl
	for _, c := range []*Box{s.Stsd, s.Stts, s.Ctts, s.Stsc, s.Stsz, s.Stco, s.Co64, s.Stss} {
		if c == nil {
			continue
		}
		if err := encodeChild(w, c); err != nil {
			return err
		}
	}
	for _, c := range s.Unknown {
		if err := encodeChild(w, c); err != nil {
			return err
		}
	}
	return nil
}

func init() { register(TypeStbl, decodeStbl, encodeStbl) }

// Minf is the media information box.
type Minf struct {
	Vmhd    *Box
	Smhd    *Box
	Dinf    *Box
	Stbl    *Box
	Unknown []*Box
}

func decodeMinf(box *Box, r *byteReader) error {
	children, err := decodeChildren(r)
	if err != nil {
		return err
	}
	m := &Minf{}
	for _, c := range children {
		switch c.Type {
		case TypeVmhd:
			m.Vmhd = c
		case TypeSmhd:
			m.Smhd = c
		case TypeDinf:
			m.Dinf = c
		case TypeStbl:
			m.Stbl = c
		default:
			m.Unknown = append(m.Unknown, c)
		}
	}
	box.Minf = m
	return nil
}

func encodeMinf(box *Box, w *byteWriter) error {
	m := box.Minf
	for _, c := range []*Box{m.Vmhd, m.Smhd, m.Dinf, m.Stbl} {
		if c == nil {
			continue
		}
		if err := encodeChild(w, c); err != nil {
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

func init() { register(TypeMinf, decodeMinf, encodeMinf) }

// Mdia is the media box.
type Mdia struct {
	Mdhd    *Box
	Hdlr    *Box
	Minf    *Box
	Unknown []*Box
}

func decodeMdia(box *Box, r *byteReader) error {
	children, err := decodeChildren(r)
	if err != nil {
		return err
	}
	m := &Mdia{}
	for _, c := range children {
		switch c.Type {
		case TypeMdhd:
			m.Mdhd = c
		case TypeHdlr:
			m.Hdlr = c
		case TypeMinf:
			m.Minf = c
		default:
			m.Unknown = append(m.Unknown, c)
		}
	}
	box.Mdia = m
	return nil
}

func encodeMdia(box *Box, w *byteWriter) error {
	m := box.Mdia
	for _, c := range []*Box{m.Mdhd, m.Hdlr, m.Minf} {
		if c == nil {
			continue
		}
		if err := encodeChild(w, c); err != nil {
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

func init() { register(TypeMdia, decodeMdia, encodeMdia) }

// Trak is the track box.
type Trak struct {
	Tkhd    *Box
	Edts    *Box
	Mdia    *Box
	Unknown []*Box
}

func decodeTrak(box *Box, r *byteReader) error {
	children, err := decodeChildren(r)
	if err != nil {
		return err
	}
	t := &Trak{}
	for _, c := range children {
		switch c.Type {
		case TypeTkhd:
			t.Tkhd = c
		case TypeEdts:
			t.Edts = c
		case TypeMdia:
			t.Mdia = c
		default:
			t.Unknown = append(t.Unknown, c)
		}
	}
	box.Trak = t
	return nil
}

func encodeTrak(box *Box, w *byteWriter) error {
	t := box.Trak
	for _, c := range []*Box{t.Tkhd, t.Edts, t.Mdia} {
		if c == nil {
			continue
		}
		if err := encodeChild(w, c); err != nil {
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

func init() { register(TypeTrak, decodeTrak, encodeTrak) }

// Moov is the movie box.
type Moov struct {
	Mvhd    *Box
	Traks   []*Box
	Mvex    *Box
	Unknown []*Box
}

func decodeMoov(box *Box, r *byteReader) error {
	children, err := decodeChildren(r)
	if err != nil {
		return err
	}
	m := &Moov{}
	for _, c := range children {
		switch c.Type {
		case TypeMvhd:
			m.Mvhd = c
		case TypeTrak:
			m.Traks = append(m.Traks, c)
		case TypeMvex:
			m.Mvex = c
		default:
			m.Unknown = append(m.Unknown, c)
		}
	}
	box.Moov = m
	return nil
}

func encodeMoov(box *Box, w *byteWriter) error {
	m := box.Moov
	if m.Mvhd != nil {
		if err := encodeChild(w, m.Mvhd); err != nil {
			return err
		}
	}
	for _, t := range m.Traks {
		if err := encodeChild(w, t); err != nil {
			return err
		}
	}
	if m.Mvex != nil {
		if err := encodeChild(w, m.Mvex); err != nil {
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

func init() { register(TypeMoov, decodeMoov, encodeMoov) }
