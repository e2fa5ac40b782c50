package bmff

import "github.com/go-bmff/isobox/mp4err"

// VisualSampleEntry is the sample entry shape shared by avc1/avc3/hev1/
// hvc1/vp08/vp09/av01: a fixed 78-byte header followed by a single
// codec-configuration child box (avcC/hvcC/vpcC/av1C) plus any trailing
// unknown boxes (colr, pasp, ...).
type VisualSampleEntry struct {
	DataReferenceIndex uint16
	Width              uint16
	Height             uint16
	HorizResolution    uint32 // 16.16 fixed point, default 0x00480000 (72 dpi)
	VertResolution     uint32 // 16.16 fixed point, default 0x00480000 (72 dpi)
	FrameCount         uint16 // default 1
	CompressorName     string // at most 31 bytes, Pascal-style length-prefixed on wire
	Depth              uint16 // default 0x0018

	CodecConfig *Box
	Unknown     []*Box
}

func decodeVisualSampleEntry(box *Box, r *byteReader) error {
	v := &VisualSampleEntry{}
	if err := r.skip(6); err != nil { // reserved
		return err
	}
	dri, err := r.u16()
	if err != nil {
		return err
	}
	v.DataReferenceIndex = dri
	if err := r.skip(2); err != nil { // pre_defined
		return err
	}
	if err := r.skip(2); err != nil { // reserved
		return err
	}
	if err := r.skip(12); err != nil { // pre_defined[3]
		return err
	}
	if v.Width, err = r.u16(); err != nil {
		return err
	}
	if v.Height, err = r.u16(); err != nil {
		return err
	}
	if v.HorizResolution, err = r.u32(); err != nil {
		return err
	}
	if v.VertResolution, err = r.u32(); err != nil {
		return err
	}
	if err := r.skip(4); err != nil { // reserved
		return err
	}
	if v.FrameCount, err = r.u16(); err != nil {
		return err
	}
	nameLen, err := r.u8()
	if err != nil {
		return err
	}
	if nameLen > 31 {
		return mp4err.New(mp4err.InvalidData, "compressorname length %d exceeds 31", nameLen)
	}
	nameBytes, err := r.bytes(31)
	if err != nil {
		return err
	}
	v.CompressorName = string(nameBytes[:nameLen])
	if v.Depth, err = r.u16(); err != nil {
		return err
	}
	if err := r.skip(2); err != nil { // pre_defined = -1
		return err
	}
	for !r.done() {
		child, n, err := Decode(r.b[r.pos:])
		if err != nil {
			return err
		}
		if v.CodecConfig == nil && isCodecConfigBox(child.Type) {
			v.CodecConfig = child
		} else {
			v.Unknown = append(v.Unknown, child)
		}
		if err := r.skip(n); err != nil {
			return err
		}
	}
	box.Visual = v
	return nil
}

func isCodecConfigBox(t BoxType) bool {
	switch t {
	case TypeAvcC, TypeHvcC, TypeVpcC, TypeAv1C:
		return true
	}
	return false
}

func encodeVisualSampleEntry(box *Box, w *byteWriter) error {
	v := box.Visual
	w.zeros(6)
	w.u16(v.DataReferenceIndex)
	w.zeros(2)
	w.zeros(2)
	w.zeros(12)
	w.u16(v.Width)
	w.u16(v.Height)
	hr, vr := v.HorizResolution, v.VertResolution
	if hr == 0 {
		hr = 0x00480000
	}
	if vr == 0 {
		vr = 0x00480000
	}
	w.u32(hr)
	w.u32(vr)
	w.zeros(4)
	fc := v.FrameCount
	if fc == 0 {
		fc = 1
	}
	w.u16(fc)
	if len(v.CompressorName) > 31 {
		return mp4err.New(mp4err.InvalidInput, "compressorname longer than 31 bytes")
	}
	w.u8(uint8(len(v.CompressorName)))
	w.fixedString(v.CompressorName, 31)
	depth := v.Depth
	if depth == 0 {
		depth = 0x0018
	}
	w.u16(depth)
	w.i16(-1)
	if v.CodecConfig != nil {
		if err := encodeChild(w, v.CodecConfig); err != nil {
			return err
		}
	}
	for _, c := range v.Unknown {
		if err := encodeChild(w, c); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	for _, t := range []BoxType{TypeAvc1, TypeAvc3, TypeHev1, TypeHvc1, TypeVp08, TypeVp09, TypeAv01} {
		register(t, decodeVisualSampleEntry, encodeVisualSampleEntry)
	}
}

// AudioSampleEntry is the sample entry shape shared by mp4a/opus/fLaC: a
// fixed 28-byte (v0) header followed by one codec-specific child box
// (esds/dOps/dfLa).
type AudioSampleEntry struct {
	DataReferenceIndex uint16
	ChannelCount       uint16 // default 2
	SampleSize         uint16 // default 16
	SampleRate         uint32 // 16.16 fixed point

	CodecConfig *Box
	Unknown     []*Box
}

func decodeAudioSampleEntry(box *Box, r *byteReader) error {
	a := &AudioSampleEntry{}
	if err := r.skip(6); err != nil { // reserved
		return err
	}
	dri, err := r.u16()
	if err != nil {
		return err
	}
	a.DataReferenceIndex = dri
	if err := r.skip(8); err != nil { // reserved[2]
		return err
	}
	if a.ChannelCount, err = r.u16(); err != nil {
		return err
	}
	if a.SampleSize, err = r.u16(); err != nil {
		return err
	}
	if err := r.skip(2); err != nil { // pre_defined
		return err
	}
	if err := r.skip(2); err != nil { // reserved
		return err
	}
	if a.SampleRate, err = r.u32(); err != nil {
		return err
	}
	for !r.done() {
		child, n, err := Decode(r.b[r.pos:])
		if err != nil {
			return err
		}
		if a.CodecConfig == nil && isAudioCodecConfigBox(child.Type) {
			a.CodecConfig = child
		} else {
			a.Unknown = append(a.Unknown, child)
		}
		if err := r.skip(n); err != nil {
			return err
		}
	}
	box.Audio = a
	return nil
}

func isAudioCodecConfigBox(t BoxType) bool {
	switch t {
	case TypeEsds, TypeDOps, TypeDfLa:
		return true
	}
	return false
}

func encodeAudioSampleEntry(box *Box, w *byteWriter) error {
	a := box.Audio
	w.zeros(6)
	w.u16(a.DataReferenceIndex)
	w.zeros(8)
	cc := a.ChannelCount
	if cc == 0 {
		cc = 2
	}
	w.u16(cc)
	ss := a.SampleSize
	if ss == 0 {
		ss = 16
	}
	w.u16(ss)
	w.zeros(2)
	w.zeros(2)
	w.u32(a.SampleRate)
	if a.CodecConfig != nil {
		if err := encodeChild(w, a.CodecConfig); err != nil {
			return err
		}
	}
	for _, c := range a.Unknown {
		if err := encodeChild(w, c); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	for _, t := range []BoxType{TypeMp4a, TypeOpus, TypeFLaC} {
		register(t, decodeAudioSampleEntry, encodeAudioSampleEntry)
	}
}

// AvcC is the AVCDecoderConfigurationRecord (avcC). Its sub-byte fields
// (lengthSizeMinusOne, the SPS count and their reserved bits) are
// unpacked with masks, and its length-prefixed parameter set arrays are
// decoded structurally so callers can inspect/replace individual
// parameter sets without touching the rest of the record.
type AvcC struct {
	ConfigurationVersion uint8
	Profile              uint8
	ProfileCompatibility uint8
	Level                uint8
	LengthSizeMinusOne   uint8 // 2 bits, reserved bits are all-ones
	SPS                  [][]byte
	PPS                  [][]byte
	// HighProfileExt holds every byte that follows the PPS array, kept
	// opaque: in high-profile records (100, 110, 122, 144) this is the
	// chroma_format/bit_depth tail. Some encoders omit this tail even for
	// high-profile streams, so it is filled from the remaining byte count
	// whatever the Profile value.
	HighProfileExt []byte
}

func decodeAvcC(box *Box, r *byteReader) error {
	a := &AvcC{}
	var err error
	if a.ConfigurationVersion, err = r.u8(); err != nil {
		return err
	}
	if a.Profile, err = r.u8(); err != nil {
		return err
	}
	if a.ProfileCompatibility, err = r.u8(); err != nil {
		return err
	}
	if a.Level, err = r.u8(); err != nil {
		return err
	}
	b, err := r.u8()
	if err != nil {
		return err
	}
	if b&0xfc != 0xfc {
		return mp4err.New(mp4err.InvalidData, "avcC lengthSizeMinusOne reserved bits not all-ones")
	}
	a.LengthSizeMinusOne = b & 0x3
	spsCountByte, err := r.u8()
	if err != nil {
		return err
	}
	if spsCountByte&0xe0 != 0xe0 {
		return mp4err.New(mp4err.InvalidData, "avcC numOfSequenceParameterSets reserved bits not all-ones")
	}
	spsCount := spsCountByte & 0x1f
	for i := uint8(0); i < spsCount; i++ {
		nal, err := readLengthPrefixedNAL(r, 2)
		if err != nil {
			return err
		}
		a.SPS = append(a.SPS, nal)
	}
	ppsCount, err := r.u8()
	if err != nil {
		return err
	}
	for i := uint8(0); i < ppsCount; i++ {
		nal, err := readLengthPrefixedNAL(r, 2)
		if err != nil {
			return err
		}
		a.PPS = append(a.PPS, nal)
	}
	if r.remaining() > 0 {
		a.HighProfileExt = r.rest()
	}
	box.AvcC = a
	return nil
}

func readLengthPrefixedNAL(r *byteReader, lenBytes int) ([]byte, error) {
	var n int
	switch lenBytes {
	case 2:
		v, err := r.u16()
		if err != nil {
			return nil, err
		}
		n = int(v)
	default:
		return nil, mp4err.New(mp4err.InvalidState, "unsupported NAL length prefix width %d", lenBytes)
	}
	return r.bytes(n)
}

func encodeAvcC(box *Box, w *byteWriter) error {
	a := box.AvcC
	w.u8(a.ConfigurationVersion)
	w.u8(a.Profile)
	w.u8(a.ProfileCompatibility)
	w.u8(a.Level)
	w.u8(0xfc | a.LengthSizeMinusOne&0x3)
	if len(a.SPS) > 0x1f {
		return mp4err.New(mp4err.InvalidInput, "avcC: too many SPS (%d)", len(a.SPS))
	}
	w.u8(0xe0 | uint8(len(a.SPS)))
	for _, nal := range a.SPS {
		w.u16(uint16(len(nal)))
		w.rawBytes(nal)
	}
	if len(a.PPS) > 0xff {
		return mp4err.New(mp4err.InvalidInput, "avcC: too many PPS (%d)", len(a.PPS))
	}
	w.u8(uint8(len(a.PPS)))
	for _, nal := range a.PPS {
		w.u16(uint16(len(nal)))
		w.rawBytes(nal)
	}
	w.rawBytes(a.HighProfileExt)
	return nil
}

func init() { register(TypeAvcC, decodeAvcC, encodeAvcC) }
