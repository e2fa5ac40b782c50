package bmff

import (
	"github.com/go-bmff/isobox/codecbits"
	"github.com/go-bmff/isobox/mp4err"
)

// HvcCArray is one NAL unit array within an HEVCDecoderConfigurationRecord.
type HvcCArray struct {
	ArrayCompleteness bool
	NALUnitType       uint8 // 6 bits
	Units             [][]byte
}

// HvcC is the HEVCDecoderConfigurationRecord (hvcC).
type HvcC struct {
	GeneralProfileSpace         uint8 // 2 bits
	GeneralTierFlag             bool
	GeneralProfileIdc           uint8 // 5 bits
	GeneralProfileCompatibility uint32
	GeneralConstraintIndicator  uint64 // 48 bits
	GeneralLevelIdc             uint8
	MinSpatialSegmentationIdc   uint16 // 12 bits
	ParallelismType             uint8  // 2 bits
	ChromaFormat                uint8  // 2 bits
	BitDepthLumaMinus8          uint8  // 3 bits
	BitDepthChromaMinus8        uint8  // 3 bits
	AvgFrameRate                uint16
	ConstantFrameRate           uint8 // 2 bits
	NumTemporalLayers           uint8 // 3 bits
	TemporalIDNested            bool
	LengthSizeMinusOne          uint8 // 2 bits
	Arrays                      []HvcCArray
}

func decodeHvcC(box *Box, r *byteReader) error {
	h := &HvcC{}
	if _, err := r.u8(); err != nil { // configurationVersion, always 1
		return err
	}
	b, err := r.u8()
	if err != nil {
		return err
	}
	h.GeneralProfileSpace = b >> 6
	h.GeneralTierFlag = b&0x20 != 0
	h.GeneralProfileIdc = b & 0x1f
	if h.GeneralProfileCompatibility, err = r.u32(); err != nil {
		return err
	}
	hi, err := r.u32()
	if err != nil {
		return err
	}
	lo, err := r.u16()
	if err != nil {
		return err
	}
	h.GeneralConstraintIndicator = uint64(hi)<<16 | uint64(lo)
	if h.GeneralLevelIdc, err = r.u8(); err != nil {
		return err
	}
	v, err := r.u16()
	if err != nil {
		return err
	}
	h.MinSpatialSegmentationIdc = v & 0x0fff
	b, err = r.u8()
	if err != nil {
		return err
	}
	h.ParallelismType = b & 0x3
	b, err = r.u8()
	if err != nil {
		return err
	}
	h.ChromaFormat = b & 0x3
	b, err = r.u8()
	if err != nil {
		return err
	}
	h.BitDepthLumaMinus8 = b & 0x7
	b, err = r.u8()
	if err != nil {
		return err
	}
	h.BitDepthChromaMinus8 = b & 0x7
	if h.AvgFrameRate, err = r.u16(); err != nil {
		return err
	}
	b, err = r.u8()
	if err != nil {
		return err
	}
	h.ConstantFrameRate = b >> 6
	h.NumTemporalLayers = (b >> 3) & 0x7
	h.TemporalIDNested = b&0x4 != 0
	h.LengthSizeMinusOne = b & 0x3
	numArrays, err := r.u8()
	if err != nil {
		return err
	}
	for i := uint8(0); i < numArrays; i++ {
		ab, err := r.u8()
		if err != nil {
			return err
		}
		arr := HvcCArray{ArrayCompleteness: ab&0x80 != 0, NALUnitType: ab & 0x3f}
		numNal, err := r.u16()
		if err != nil {
			return err
		}
		for j := uint16(0); j < numNal; j++ {
			nal, err := readLengthPrefixedNAL(r, 2)
			if err != nil {
				return err
			}
			arr.Units = append(arr.Units, nal)
		}
		h.Arrays = append(h.Arrays, arr)
	}
	box.HvcC = h
	return nil
}

func encodeHvcC(box *Box, w *byteWriter) error {
	h := box.HvcC
	w.u8(1)
	w.u8(h.GeneralProfileSpace<<6 | boolBit(h.GeneralTierFlag, 0x20) | h.GeneralProfileIdc&0x1f)
	w.u32(h.GeneralProfileCompatibility)
	w.u32(uint32(h.GeneralConstraintIndicator >> 16))
	w.u16(uint16(h.GeneralConstraintIndicator))
	w.u8(h.GeneralLevelIdc)
	w.u16(0xf000 | h.MinSpatialSegmentationIdc&0x0fff)
	w.u8(0xfc | h.ParallelismType&0x3)
	w.u8(0xfc | h.ChromaFormat&0x3)
	w.u8(0xf8 | h.BitDepthLumaMinus8&0x7)
	w.u8(0xf8 | h.BitDepthChromaMinus8&0x7)
	w.u16(h.AvgFrameRate)
	w.u8(h.ConstantFrameRate<<6 | h.NumTemporalLayers<<3 | boolBit(h.TemporalIDNested, 0x4) | h.LengthSizeMinusOne&0x3)
	if len(h.Arrays) > 0xff {
		return mp4err.New(mp4err.InvalidInput, "hvcC: too many NAL arrays")
	}
	w.u8(uint8(len(h.Arrays)))
	for _, arr := range h.Arrays {
		w.u8(boolBit(arr.ArrayCompleteness, 0x80) | arr.NALUnitType&0x3f)
		if len(arr.Units) > 0xffff {
			return mp4err.New(mp4err.InvalidInput, "hvcC: too many NAL units in array")
		}
		w.u16(uint16(len(arr.Units)))
		for _, nal := range arr.Units {
			w.u16(uint16(len(nal)))
			w.rawBytes(nal)
		}
	}
	return nil
}

func boolBit(b bool, mask uint8) uint8 {
	if b {
		return mask
	}
	return 0
}

func init() { register(TypeHvcC, decodeHvcC, encodeHvcC) }

// VpcC is the VPCodecConfigurationBox (vpcC), a full box whose payload
// after the codec-bits byte is fixed-length.
type VpcC struct {
	Profile           uint8
	Level             uint8
	BitDepth          uint8 // 4 bits
	ChromaSubsampling uint8 // 3 bits
	VideoFullRange    bool
	ColourPrimaries   uint8
	TransferChar      uint8
	MatrixCoeffs      uint8
	CodecInitData     []byte
}

func decodeVpcC(box *Box, r *byteReader) error {
	v := &VpcC{}
	var err error
	if v.Profile, err = r.u8(); err != nil {
		return err
	}
	if v.Level, err = r.u8(); err != nil {
		return err
	}
	b, err := r.u8()
	if err != nil {
		return err
	}
	fields, err := codecbits.Unpack(b, 4, 3, 1)
	if err != nil {
		return err
	}
	v.BitDepth = uint8(fields[0])
	v.ChromaSubsampling = uint8(fields[1])
	v.VideoFullRange = fields[2] != 0
	if v.ColourPrimaries, err = r.u8(); err != nil {
		return err
	}
	if v.TransferChar, err = r.u8(); err != nil {
		return err
	}
	if v.MatrixCoeffs, err = r.u8(); err != nil {
		return err
	}
	n, err := r.u16()
	if err != nil {
		return err
	}
	if v.CodecInitData, err = r.bytes(int(n)); err != nil {
		return err
	}
	box.VpcC = v
	return nil
}

func encodeVpcC(box *Box, w *byteWriter) error {
	v := box.VpcC
	writeFullBoxHeader(w, 1, 0)
	w.u8(v.Profile)
	w.u8(v.Level)
	fullRange := uint64(0)
	if v.VideoFullRange {
		fullRange = 1
	}
	b, err := codecbits.Pack(
		codecbits.Field{Value: uint64(v.BitDepth), Width: 4},
		codecbits.Field{Value: uint64(v.ChromaSubsampling), Width: 3},
		codecbits.Field{Value: fullRange, Width: 1},
	)
	if err != nil {
		return err
	}
	w.u8(b)
	w.u8(v.ColourPrimaries)
	w.u8(v.TransferChar)
	w.u8(v.MatrixCoeffs)
	w.u16(uint16(len(v.CodecInitData)))
	w.rawBytes(v.CodecInitData)
	return nil
}

func init() { register(TypeVpcC, decodeVpcC, encodeVpcC) }

// Av1C is the AV1CodecConfigurationRecord (av1C).
type Av1C struct {
	SeqProfile                      uint8 // 3 bits
	SeqLevelIdx0                    uint8 // 5 bits
	SeqTier0                        bool
	HighBitdepth                    bool
	TwelveBit                       bool
	Monochrome                      bool
	ChromaSubsamplingX              bool
	ChromaSubsamplingY              bool
	ChromaSamplePosition            uint8 // 2 bits
	InitialPresentationDelay        uint8 // 4 bits, only when present
	InitialPresentationDelayPresent bool
	ConfigOBUs                      []byte
}

func decodeAv1C(box *Box, r *byteReader) error {
	a := &Av1C{}
	b0, err := r.u8()
	if err != nil {
		return err
	}
	if b0&0x80 == 0 {
		return mp4err.New(mp4err.InvalidData, "av1C marker bit not set")
	}
	if b0&0x7f != 1 {
		return mp4err.New(mp4err.InvalidData, "av1C version field must be 1")
	}
	b1, err := r.u8()
	if err != nil {
		return err
	}
	a.SeqProfile = b1 >> 5
	a.SeqLevelIdx0 = b1 & 0x1f
	b2, err := r.u8()
	if err != nil {
		return err
	}
	a.SeqTier0 = b2&0x80 != 0
	a.HighBitdepth = b2&0x40 != 0
	a.TwelveBit = b2&0x20 != 0
	a.Monochrome = b2&0x10 != 0
	a.ChromaSubsamplingX = b2&0x08 != 0
	a.ChromaSubsamplingY = b2&0x04 != 0
	a.ChromaSamplePosition = b2 & 0x3
	b3, err := r.u8()
	if err != nil {
		return err
	}
	a.InitialPresentationDelayPresent = b3&0x10 != 0
	if a.InitialPresentationDelayPresent {
		a.InitialPresentationDelay = b3 & 0x0f
	}
	a.ConfigOBUs = r.rest()
	box.Av1C = a
	return nil
}

func encodeAv1C(box *Box, w *byteWriter) error {
	a := box.Av1C
	w.u8(0x80 | 0x01)
	w.u8(a.SeqProfile<<5 | a.SeqLevelIdx0&0x1f)
	b2 := boolBit(a.SeqTier0, 0x80) | boolBit(a.HighBitdepth, 0x40) | boolBit(a.TwelveBit, 0x20) |
		boolBit(a.Monochrome, 0x10) | boolBit(a.ChromaSubsamplingX, 0x08) | boolBit(a.ChromaSubsamplingY, 0x04) |
		a.ChromaSamplePosition&0x3
	w.u8(b2)
	b3 := uint8(0)
	if a.InitialPresentationDelayPresent {
		b3 = 0x10 | a.InitialPresentationDelay&0x0f
	}
	w.u8(b3)
	w.rawBytes(a.ConfigOBUs)
	return nil
}

func init() { register(TypeAv1C, decodeAv1C, encodeAv1C) }

// DOps is the Opus specific box (dOps).
type DOps struct {
	OutputChannelCount   uint8
	PreSkip              uint16
	InputSampleRate      uint32
	OutputGain           int16
	ChannelMappingFamily uint8
	ChannelMapping       []byte // present only when ChannelMappingFamily != 0
}

func decodeDOps(box *Box, r *byteReader) error {
	d := &DOps{}
	if _, err := r.u8(); err != nil { // version, always 0
		return err
	}
	var err error
	if d.OutputChannelCount, err = r.u8(); err != nil {
		return err
	}
	if d.OutputChannelCount < 1 || d.OutputChannelCount > 8 {
		return mp4err.New(mp4err.InvalidData, "dOps OutputChannelCount %d out of range 1..8", d.OutputChannelCount)
	}
	if d.PreSkip, err = r.u16(); err != nil {
		return err
	}
	if d.InputSampleRate, err = r.u32(); err != nil {
		return err
	}
	if d.OutputGain, err = r.i16(); err != nil {
		return err
	}
	if d.ChannelMappingFamily, err = r.u8(); err != nil {
		return err
	}
	if d.ChannelMappingFamily != 0 {
		n := 2 + int(d.OutputChannelCount)
		if d.ChannelMapping, err = r.bytes(n); err != nil {
			return err
		}
	}
	box.DOps = d
	return nil
}

func encodeDOps(box *Box, w *byteWriter) error {
	d := box.DOps
	w.u8(0)
	w.u8(d.OutputChannelCount)
	w.u16(d.PreSkip)
	w.u32(d.InputSampleRate)
	w.i16(d.OutputGain)
	w.u8(d.ChannelMappingFamily)
	if d.ChannelMappingFamily != 0 {
		w.rawBytes(d.ChannelMapping)
	}
	return nil
}

func init() { register(TypeDOps, decodeDOps, encodeDOps) }

// DfLa wraps a FLAC metadata block (typically STREAMINFO) verbatim; the
// inner metadata block header (last-block flag + block type + length)
// is preserved byte for byte since this record never needs to interpret
// STREAMINFO fields itself.
type DfLa struct {
	MetadataBlocks []byte
}

func decodeDfLa(box *Box, r *byteReader) error {
	box.DfLa = &DfLa{MetadataBlocks: r.rest()}
	return nil
}

func encodeDfLa(box *Box, w *byteWriter) error {
	writeFullBoxHeader(w, 0, 0)
	w.rawBytes(box.DfLa.MetadataBlocks)
	return nil
}

func init() { register(TypeDfLa, decodeDfLa, encodeDfLa) }
