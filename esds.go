package bmff

import "github.com/go-bmff/isobox/mp4err"

// Descriptor tags from ISO/IEC 14496-1.
const (
	tagESDescriptor            = 0x03
	tagDecoderConfigDescriptor = 0x04
	tagDecoderSpecificInfo     = 0x05
	tagSLConfigDescriptor      = 0x06
)

// DecoderConfigDescriptor carries the object type and buffer/bitrate
// fields plus a nested DecoderSpecificInfo payload (opaque: AudioSpecificConfig
// for AAC, or codec-specific data for other MPEG-4 audio/video object types).
type DecoderConfigDescriptor struct {
	ObjectTypeIndication uint8
	StreamType           uint8 // 6 bits
	UpStream             bool
	BufferSizeDB         uint32 // 24 bits
	MaxBitrate           uint32
	AvgBitrate           uint32
	DecoderSpecificInfo  []byte
}

// Esds is the elementary stream descriptor box (esds), wrapping an
// MPEG-4 ES_Descriptor. SLConfigDescriptor is required and must use the
// predefined profile (predefined == 2, "no SL extension header");
// anything else is Unsupported, matching how this implementation scopes
// MP4 elementary streams to the common case.
type Esds struct {
	ESID           uint16
	StreamPriority uint8 // 5 bits
	DependsOnESID  uint16
	URL            string
	OCRESID        uint16
	DecoderConfig  DecoderConfigDescriptor
}

func decodeEsds(box *Box, r *byteReader) error {
	tag, length, err := readDescriptorHeader(r)
	if err != nil {
		return err
	}
	if tag != tagESDescriptor {
		return mp4err.New(mp4err.InvalidData, "esds: expected ES_Descriptor tag 0x03, got %#x", tag)
	}
	body, err := r.bytes(length)
	if err != nil {
		return err
	}
	br := newByteReader(body)

	e := &Esds{}
	if e.ESID, err = br.u16(); err != nil {
		return err
	}
	flags, err := br.u8()
	if err != nil {
		return err
	}
	streamDependenceFlag := flags&0x80 != 0
	urlFlag := flags&0x40 != 0
	ocrStreamFlag := flags&0x20 != 0
	e.StreamPriority = flags & 0x1f
	if streamDependenceFlag {
		if e.DependsOnESID, err = br.u16(); err != nil {
			return err
		}
	}
	if urlFlag {
		n, err := br.u8()
		if err != nil {
			return err
		}
		b, err := br.bytes(int(n))
		if err != nil {
			return err
		}
		e.URL = string(b)
	}
	if ocrStreamFlag {
		if e.OCRESID, err = br.u16(); err != nil {
			return err
		}
	}

	dcTag, dcLen, err := readDescriptorHeader(br)
	if err != nil {
		return err
	}
	if dcTag != tagDecoderConfigDescriptor {
		return mp4err.New(mp4err.InvalidData, "esds: expected DecoderConfigDescriptor tag 0x04, got %#x", dcTag)
	}
	dcBody, err := br.bytes(dcLen)
	if err != nil {
		return err
	}
	dr := newByteReader(dcBody)
	if e.DecoderConfig.ObjectTypeIndication, err = dr.u8(); err != nil {
		return err
	}
	b, err := dr.u8()
	if err != nil {
		return err
	}
	e.DecoderConfig.StreamType = b >> 2
	e.DecoderConfig.UpStream = b&0x2 != 0
	if e.DecoderConfig.BufferSizeDB, err = dr.u24(); err != nil {
		return err
	}
	if e.DecoderConfig.MaxBitrate, err = dr.u32(); err != nil {
		return err
	}
	if e.DecoderConfig.AvgBitrate, err = dr.u32(); err != nil {
		return err
	}
	if !dr.done() {
		siTag, siLen, err := readDescriptorHeader(dr)
		if err != nil {
			return err
		}
		if siTag != tagDecoderSpecificInfo {
			return mp4err.New(mp4err.InvalidData, "esds: expected DecoderSpecificInfo tag 0x05, got %#x", siTag)
		}
		if e.DecoderConfig.DecoderSpecificInfo, err = dr.bytes(siLen); err != nil {
			return err
		}
	}

	slTag, slLen, err := readDescriptorHeader(br)
	if err != nil {
		return err
	}
	if slTag != tagSLConfigDescriptor {
		return mp4err.New(mp4err.InvalidData, "esds: expected SLConfigDescriptor tag 0x06, got %#x", slTag)
	}
	slBody, err := br.bytes(slLen)
	if err != nil {
		return err
	}
	if len(slBody) != 1 || slBody[0] != 2 {
		return mp4err.New(mp4err.Unsupported, "esds: only SLConfigDescriptor predefined=2 is supported")
	}

	box.Esds = e
	return nil
}

// readDescriptorHeader reads a one-byte tag followed by a variable-length
// size using the ISO/IEC 14496-1 7-bit continuation encoding (top bit
// set means another length byte follows).
func readDescriptorHeader(r *byteReader) (tag uint8, length int, err error) {
	tag, err = r.u8()
	if err != nil {
		return 0, 0, err
	}
	length = 0
	for i := 0; i < 4; i++ {
		b, err := r.u8()
		if err != nil {
			return 0, 0, err
		}
		length = length<<7 | int(b&0x7f)
		if b&0x80 == 0 {
			return tag, length, nil
		}
	}
	return 0, 0, mp4err.New(mp4err.InvalidData, "descriptor length field exceeds 4 bytes")
}

func writeDescriptorHeader(w *byteWriter, tag uint8, length int) {
	w.u8(tag)
	// Emit the length as a single non-continued byte when it fits in 7
	// bits, and in the fewest 7-bit continuation bytes otherwise.
	if length >= 0x80 {
		var bytesOut []byte
		v := length
		bytesOut = append(bytesOut, byte(v&0x7f))
		v >>= 7
		for v > 0 {
			bytesOut = append([]byte{byte(v&0x7f) | 0x80}, bytesOut...)
			v >>= 7
		}
		w.rawBytes(bytesOut)
		return
	}
	w.u8(uint8(length))
}

func encodeEsds(box *Box, w *byteWriter) error {
	e := box.Esds
	writeFullBoxHeader(w, 0, 0)

	dc := &byteWriter{}
	dc.u8(e.DecoderConfig.ObjectTypeIndication)
	up := uint8(0)
	if e.DecoderConfig.UpStream {
		up = 0x2
	}
	dc.u8(e.DecoderConfig.StreamType<<2 | up | 0x1)
	dc.u24(e.DecoderConfig.BufferSizeDB)
	dc.u32(e.DecoderConfig.MaxBitrate)
	dc.u32(e.DecoderConfig.AvgBitrate)
	if len(e.DecoderConfig.DecoderSpecificInfo) > 0 {
		writeDescriptorHeader(dc, tagDecoderSpecificInfo, len(e.DecoderConfig.DecoderSpecificInfo))
		dc.rawBytes(e.DecoderConfig.DecoderSpecificInfo)
	}

	sl := &byteWriter{}
	sl.u8(2) // predefined

	es := &byteWriter{}
	es.u16(e.ESID)
	flags := e.StreamPriority & 0x1f
	if e.DependsOnESID != 0 {
		flags |= 0x80
	}
	if e.URL != "" {
		flags |= 0x40
	}
	if e.OCRESID != 0 {
		flags |= 0x20
	}
	es.u8(flags)
	if e.DependsOnESID != 0 {
		es.u16(e.DependsOnESID)
	}
	if e.URL != "" {
		es.u8(uint8(len(e.URL)))
		es.rawBytes([]byte(e.URL))
	}
	if e.OCRESID != 0 {
		es.u16(e.OCRESID)
	}
	writeDescriptorHeader(es, tagDecoderConfigDescriptor, len(dc.buf))
	es.rawBytes(dc.buf)
	writeDescriptorHeader(es, tagSLConfigDescriptor, len(sl.buf))
	es.rawBytes(sl.buf)

	writeDescriptorHeader(w, tagESDescriptor, len(es.buf))
	w.rawBytes(es.buf)
	return nil
}

func init() { register(TypeEsds, decodeEsds, encodeEsds) }
