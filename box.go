package bmff

import "github.com/go-bmff/isobox/mp4err"

// Box is the single concrete representation for every box this catalog
// recognizes: a closed tagged variant keyed by Type, expressed as a flat
// struct of typed pointer fields (at most one populated, matching Type)
// rather than an interface, in the style of this codebase's sibling
// box-catalog packages. Unrecognized box types decode into Raw, which
// round-trips the payload bytes opaquely.
type Box struct {
	Type         BoxType
	ExtendedType *[16]byte // set only when the wire type was "uuid"
	Version      uint8     // full boxes only
	Flags        uint32    // full boxes only

	Ftyp   *Ftyp
	Mvhd   *Mvhd
	Tkhd   *Tkhd
	Elst   *Elst
	Mdhd   *Mdhd
	Hdlr   *Hdlr
	Vmhd   *Vmhd
	Smhd   *Smhd
	Dref     *Dref
	Url      *DataEntryURL
	Stsd     *Stsd
	Visual *VisualSampleEntry
	Audio  *AudioSampleEntry
	AvcC   *AvcC
	HvcC   *HvcC
	VpcC   *VpcC
	Av1C   *Av1C
	Esds   *Esds
	DOps   *DOps
	DfLa   *DfLa
	Stts   *Stts
	Ctts   *Ctts
	Stsc   *Stsc
	Stsz   *Stsz
	Stz2   *Stz2
	Stco   *Stco
	Co64   *Co64
	Stss   *Stss
	Mehd   *Mehd
	Trex   *Trex
	Mfhd   *Mfhd
	Tfhd   *Tfhd
	Tfdt   *Tfdt
	Trun   *Trun
	Sidx   *Sidx

	Moov *Moov
	Trak *Trak
	Edts *Edts
	Mdia *Mdia
	Minf *Minf
	Dinf *Dinf
	Stbl *Stbl
	Mvex *Mvex
	Moof *Moof
	Traf *Traf

	// Raw holds the payload of a box whose type has no registered
	// decoder (either genuinely unknown, or one of free/skip/mdat,
	// which the core never materializes beyond their raw bytes).
	Raw []byte
}

// Header is a box's framing information decoded independently of its
// payload: size (32-bit or extended 64-bit), type (FourCC or uuid +
// extended type), and header length.
type Header struct {
	Type         BoxType
	ExtendedType *[16]byte
	HeaderLen    int
	// PayloadLen is the declared payload length, or -1 when the box's
	// size field was 0 ("extends to end of file"); legal only for the
	// last top-level box.
	PayloadLen int64
}

// TotalLen returns HeaderLen+PayloadLen, or -1 if PayloadLen is -1.
func (h Header) TotalLen() int64 {
	if h.PayloadLen < 0 {
		return -1
	}
	return int64(h.HeaderLen) + h.PayloadLen
}

// DecodeHeader parses a box header from the front of buf. buf need only
// contain the header bytes (8, 16, 24 or 32 depending on extended size /
// extended type), not the full box.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < 8 {
		return Header{}, mp4err.New(mp4err.InvalidData, "box header truncated: need 8 bytes, have %d", len(buf))
	}
	size64 := uint64(be.Uint32(buf[0:4]))
	var t BoxType
	copy(t[:], buf[4:8])
	headerLen := 8

	if size64 == 1 {
		if len(buf) < 16 {
			return Header{}, mp4err.New(mp4err.InvalidData, "extended box size truncated")
		}
		size64 = be.Uint64(buf[8:16])
		headerLen = 16
	}

	var ext *[16]byte
	if t == typeUUID {
		if len(buf) < headerLen+16 {
			return Header{}, mp4err.New(mp4err.InvalidData, "uuid extended type truncated")
		}
		var e [16]byte
		copy(e[:], buf[headerLen:headerLen+16])
		ext = &e
		headerLen += 16
	}

	if size64 != 0 && size64 < uint64(headerLen) {
		return Header{}, mp4err.New(mp4err.InvalidData, "box size %d less than header length %d", size64, headerLen).WithBox(t.String())
	}

	payloadLen := int64(-1)
	if size64 != 0 {
		payloadLen = int64(size64) - int64(headerLen)
	}

	return Header{Type: t, ExtendedType: ext, HeaderLen: headerLen, PayloadLen: payloadLen}, nil
}

// Decode decodes exactly one box from the front of buf. buf must contain
// at least the complete box; if the box's size field is 0 ("extends to
// EOF"), buf is treated as ending exactly at this box's end. It returns
// the decoded box and the number of bytes consumed (the box's total
// size, including header).
func Decode(buf []byte) (*Box, int, error) {
	hdr, err := DecodeHeader(buf)
	if err != nil {
		return nil, 0, err
	}
	total := len(buf)
	if hdr.PayloadLen >= 0 {
		total = hdr.HeaderLen + int(hdr.PayloadLen)
		if total > len(buf) {
			return nil, 0, mp4err.New(mp4err.InvalidData, "box declares size %d, only %d bytes available", total, len(buf)).WithBox(hdr.Type.String())
		}
	}
	payload := buf[hdr.HeaderLen:total]

	box := &Box{Type: hdr.Type, ExtendedType: hdr.ExtendedType}

	if isFullBox(hdr.Type) {
		if len(payload) < 4 {
			return nil, 0, mp4err.New(mp4err.InvalidData, "full box header truncated").WithBox(hdr.Type.String())
		}
		vf := be.Uint32(payload[0:4])
		box.Version = uint8(vf >> 24)
		box.Flags = vf & 0x00ffffff
		payload = payload[4:]
	}

	dec, ok := decoders[hdr.Type]
	if !ok {
		box.Raw = append([]byte(nil), payload...)
		return box, total, nil
	}

	r := newByteReader(payload)
	if err := dec(box, r); err != nil {
		return nil, 0, mp4err.Wrap(mp4err.InvalidData, hdr.Type.String(), err)
	}
	if !r.done() {
		return nil, 0, mp4err.New(mp4err.InvalidData, "unconsumed %d bytes at end of box %q", r.remaining(), hdr.Type.String()).WithBox(hdr.Type.String())
	}
	return box, total, nil
}

// Encode serializes box, including its header, with a minimal-version
// full-box header chosen by the box's own encoder.
func Encode(box *Box) ([]byte, error) {
	w := &byteWriter{}
	if err := encodeBoxInto(box, w); err != nil {
		return nil, err
	}
	return w.buf, nil
}

func encodeBoxInto(box *Box, w *byteWriter) error {
	w.startBox(box.Type)
	if box.ExtendedType != nil {
		w.rawBytes(box.ExtendedType[:])
	}
	if enc, ok := encoders[box.Type]; ok {
		if err := enc(box, w); err != nil {
			return err
		}
	} else {
		w.rawBytes(box.Raw)
	}
	w.endBox()
	return nil
}

// decodeFn populates box's typed payload field(s) from r, which is
// scoped to exactly the box's payload (post version/flags for full
// boxes). Returning with r not fully consumed is reported by the caller
// as an "unconsumed bytes" error, so decodeFn must read every field it
// declares and nothing more.
type decodeFn func(box *Box, r *byteReader) error

// encodeFn writes box's payload (including the full-box version/flags
// prefix, when applicable) into w.
type encodeFn func(box *Box, w *byteWriter) error

var decoders = map[BoxType]decodeFn{}
var encoders = map[BoxType]encodeFn{}

func register(t BoxType, dec decodeFn, enc encodeFn) {
	decoders[t] = dec
	encoders[t] = enc
}

// writeFullBoxHeader writes the version+flags prefix for a full box.
func writeFullBoxHeader(w *byteWriter, version uint8, flags uint32) {
	w.u32(uint32(version)<<24 | flags&0x00ffffff)
}

// decodeChildren decodes every box remaining in r into a flat slice,
// in file order. Used by container boxes whose payload is nothing but
// a sequence of child boxes.
func decodeChildren(r *byteReader) ([]*Box, error) {
	var out []*Box
	for !r.done() {
		child, n, err := Decode(r.b[r.pos:])
		if err != nil {
			return nil, err
		}
		out = append(out, child)
		if err := r.skip(n); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func encodeChild(w *byteWriter, box *Box) error {
	return encodeBoxInto(box, w)
}
