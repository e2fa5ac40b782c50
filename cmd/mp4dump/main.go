// Command mp4dump reads an MP4 file and prints its box structure.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-bmff/isobox"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <file.mp4>\n", os.Args[0])
		os.Exit(1)
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading file: %v\n", err)
		os.Exit(1)
	}

	boxes, err := decodeAll(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	for _, box := range boxes {
		printBox(box, 0)
	}
}

func decodeAll(data []byte) ([]*bmff.Box, error) {
	var boxes []*bmff.Box
	ptr := 0
	for ptr < len(data) {
		if len(data)-ptr < 8 {
			break
		}
		hdr, err := bmff.DecodeHeader(data[ptr:])
		if err != nil {
			return nil, fmt.Errorf("at offset %d: %w", ptr, err)
		}
		if hdr.PayloadLen < 0 {
			// Trailing to-EOF box (typically mdat): report it without
			// materializing its payload.
			boxes = append(boxes, &bmff.Box{Type: hdr.Type})
			break
		}
		box, n, err := bmff.Decode(data[ptr:])
		if err != nil {
			return nil, fmt.Errorf("at offset %d: %w", ptr, err)
		}
		boxes = append(boxes, box)
		ptr += n
	}
	return boxes, nil
}

func children(box *bmff.Box) []*bmff.Box {
	switch {
	case box.Moov != nil:
		out := []*bmff.Box{box.Moov.Mvhd}
		out = append(out, box.Moov.Traks...)
		out = append(out, box.Moov.Mvex)
		return append(out, box.Moov.Unknown...)
	case box.Trak != nil:
		return append([]*bmff.Box{box.Trak.Tkhd, box.Trak.Edts, box.Trak.Mdia}, box.Trak.Unknown...)
	case box.Edts != nil:
		return append([]*bmff.Box{box.Edts.Elst}, box.Edts.Unknown...)
	case box.Mdia != nil:
		return append([]*bmff.Box{box.Mdia.Mdhd, box.Mdia.Hdlr, box.Mdia.Minf}, box.Mdia.Unknown...)
	case box.Minf != nil:
		return append([]*bmff.Box{box.Minf.Vmhd, box.Minf.Smhd, box.Minf.Dinf, box.Minf.Stbl}, box.Minf.Unknown...)
	case box.Dinf != nil:
		return append([]*bmff.Box{box.Dinf.Dref}, box.Dinf.Unknown...)
	case box.Stbl != nil:
		out := []*bmff.Box{box.Stbl.Stsd, box.Stbl.Stts, box.Stbl.Ctts, box.Stbl.Stsc, box.Stbl.Stsz, box.Stbl.Stco, box.Stbl.Co64, box.Stbl.Stss}
		return append(out, box.Stbl.Unknown...)
	case box.Stsd != nil:
		return box.Stsd.Entries
	case box.Visual != nil:
		out := []*bmff.Box{box.Visual.CodecConfig}
		return append(out, box.Visual.Unknown...)
	case box.Audio != nil:
		out := []*bmff.Box{box.Audio.CodecConfig}
		return append(out, box.Audio.Unknown...)
	case box.Dref != nil:
		return box.Dref.Entries
	case box.Mvex != nil:
		out := []*bmff.Box{box.Mvex.Mehd}
		out = append(out, box.Mvex.Trexs...)
		return append(out, box.Mvex.Unknown...)
	case box.Moof != nil:
		out := []*bmff.Box{box.Moof.Mfhd}
		out = append(out, box.Moof.Trafs...)
		return append(out, box.Moof.Unknown...)
	case box.Traf != nil:
		out := []*bmff.Box{box.Traf.Tfhd, box.Traf.Tfdt}
		out = append(out, box.Traf.Truns...)
		return append(out, box.Traf.Unknown...)
	}
	return nil
}

func printBox(box *bmff.Box, depth int) {
	indent := strings.Repeat("  ", depth)
	extra := boxInfo(box)
	fmt.Printf("%s[%s]%s\n", indent, box.Type, extra)
	for _, child := range children(box) {
		if child != nil {
			printBox(child, depth+1)
		}
	}
}

func boxInfo(box *bmff.Box) string {
	switch {
	case box.Ftyp != nil:
		f := box.Ftyp
		brands := make([]string, len(f.CompatibleBrands))
		for i, b := range f.CompatibleBrands {
			brands[i] = b.String()
		}
		return fmt.Sprintf(" brand=%s ver=%d compat=[%s]", f.MajorBrand, f.MinorVersion, strings.Join(brands, ","))
	case box.Mvhd != nil:
		m := box.Mvhd
		return fmt.Sprintf(" timescale=%d duration=%d nextTrackId=%d", m.Timescale, m.Duration, m.NextTrackID)
	case box.Tkhd != nil:
		t := box.Tkhd
		return fmt.Sprintf(" trackId=%d duration=%d size=%dx%d", t.TrackID, t.Duration, t.Width>>16, t.Height>>16)
	case box.Mdhd != nil:
		m := box.Mdhd
		return fmt.Sprintf(" timescale=%d duration=%d lang=%s", m.Timescale, m.Duration, m.Language)
	case box.Hdlr != nil:
		h := box.Hdlr
		return fmt.Sprintf(" type=%s name=%q", h.HandlerType, h.Name)
	case box.Stsd != nil:
		return fmt.Sprintf(" entries=%d", len(box.Stsd.Entries))
	case box.Stsz != nil:
		return fmt.Sprintf(" count=%d", box.Stsz.SampleCount)
	case box.Stz2 != nil:
		return fmt.Sprintf(" fieldSize=%d count=%d", box.Stz2.FieldSize, len(box.Stz2.EntrySizes))
	case box.Stco != nil:
		return fmt.Sprintf(" entries=%d", len(box.Stco.ChunkOffsets))
	case box.Co64 != nil:
		return fmt.Sprintf(" entries=%d", len(box.Co64.ChunkOffsets))
	case box.Stts != nil:
		return fmt.Sprintf(" runs=%d", len(box.Stts.Entries))
	case box.Ctts != nil:
		return fmt.Sprintf(" runs=%d", len(box.Ctts.Entries))
	case box.Stsc != nil:
		return fmt.Sprintf(" runs=%d", len(box.Stsc.Entries))
	case box.Elst != nil:
		return fmt.Sprintf(" entries=%d", len(box.Elst.Entries))
	case box.Dref != nil:
		return fmt.Sprintf(" entries=%d", len(box.Dref.Entries))
	case box.Visual != nil:
		v := box.Visual
		return fmt.Sprintf(" %dx%d compressor=%q", v.Width, v.Height, v.CompressorName)
	case box.Audio != nil:
		a := box.Audio
		return fmt.Sprintf(" ch=%d sampleSize=%d sampleRate=%d", a.ChannelCount, a.SampleSize, a.SampleRate)
	case box.AvcC != nil:
		return fmt.Sprintf(" profile=%#x level=%#x sps=%d pps=%d", box.AvcC.Profile, box.AvcC.Level, len(box.AvcC.SPS), len(box.AvcC.PPS))
	case box.Esds != nil:
		return fmt.Sprintf(" objectType=%#x", box.Esds.DecoderConfig.ObjectTypeIndication)
	case box.Mfhd != nil:
		return fmt.Sprintf(" seq=%d", box.Mfhd.SequenceNumber)
	case box.Raw != nil:
		return fmt.Sprintf(" (raw %d bytes)", len(box.Raw))
	}
	return ""
}
