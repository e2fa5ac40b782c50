package fmux_test

import (
	"testing"

	"github.com/go-bmff/isobox"
	"github.com/go-bmff/isobox/fmux"
	"github.com/go-bmff/isobox/mp4err"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func avc1Entry() *bmff.Box {
	return &bmff.Box{Type: bmff.TypeAvc1, Visual: &bmff.VisualSampleEntry{
		DataReferenceIndex: 1, Width: 1280, Height: 720,
		CodecConfig: &bmff.Box{Type: bmff.TypeAvcC, AvcC: &bmff.AvcC{
			ConfigurationVersion: 1, Profile: 100, Level: 40, LengthSizeMinusOne: 3,
		}},
	}}
}

func opusEntry() *bmff.Box {
	return &bmff.Box{Type: bmff.TypeOpus, Audio: &bmff.AudioSampleEntry{
		DataReferenceIndex: 1, ChannelCount: 2, SampleSize: 16, SampleRate: 48000 << 16,
		CodecConfig: &bmff.Box{Type: bmff.TypeDOps, DOps: &bmff.DOps{
			OutputChannelCount: 2, PreSkip: 312, InputSampleRate: 48000,
		}},
	}}
}

func twoTracks() []fmux.TrackConfig {
	return []fmux.TrackConfig{
		{TrackID: 1, Kind: bmff.TrackVideo, Timescale: 15360, SampleEntry: avc1Entry()},
		{TrackID: 2, Kind: bmff.TrackAudio, Timescale: 48000, SampleEntry: opusEntry()},
	}
}

func decodeAll(t *testing.T, buf []byte) []*bmff.Box {
	t.Helper()
	var boxes []*bmff.Box
	for len(buf) > 0 {
		box, n, err := bmff.Decode(buf)
		require.NoError(t, err)
		boxes = append(boxes, box)
		buf = buf[n:]
	}
	return boxes
}

func TestInitSegmentStructure(t *testing.T) {
	m, err := fmux.NewMuxer(twoTracks())
	require.NoError(t, err)

	boxes := decodeAll(t, m.InitSegmentBytes())
	require.Len(t, boxes, 2)
	assert.Equal(t, bmff.TypeFtyp, boxes[0].Type)
	require.Equal(t, bmff.TypeMoov, boxes[1].Type)

	moov := boxes[1].Moov
	require.Len(t, moov.Traks, 2)
	require.NotNil(t, moov.Mvex, "fragmented init segment must carry mvex")
	require.Len(t, moov.Mvex.Mvex.Trexs, 2)
	assert.Equal(t, uint32(1), moov.Mvex.Mvex.Trexs[0].Trex.TrackID)
	assert.Equal(t, uint32(2), moov.Mvex.Mvex.Trexs[1].Trex.TrackID)
	assert.Equal(t, uint32(3), moov.Mvhd.Mvhd.NextTrackID)

	// Empty sample tables in every trak.
	for _, trak := range moov.Traks {
		stbl := trak.Trak.Mdia.Mdia.Minf.Minf.Stbl.Stbl
		assert.Empty(t, stbl.Stts.Stts.Entries)
		assert.Empty(t, stbl.Stsc.Stsc.Entries)
		assert.Zero(t, stbl.Stsz.Stsz.SampleCount)
	}
}

func TestInitSegmentIdempotent(t *testing.T) {
	m, err := fmux.NewMuxer(twoTracks())
	require.NoError(t, err)
	a := m.InitSegmentBytes()
	b := m.InitSegmentBytes()
	assert.Equal(t, a, b)
}

func TestTrackValidation(t *testing.T) {
	_, err := fmux.NewMuxer(nil)
	require.Error(t, err)

	_, err = fmux.NewMuxer([]fmux.TrackConfig{
		{TrackID: 1, Kind: bmff.TrackVideo, Timescale: 30, SampleEntry: avc1Entry()},
		{TrackID: 1, Kind: bmff.TrackAudio, Timescale: 48000, SampleEntry: opusEntry()},
	})
	require.Error(t, err)
	assert.True(t, mp4err.Is(err, mp4err.InvalidInput))

	_, err = fmux.NewMuxer([]fmux.TrackConfig{{TrackID: 1, Kind: bmff.TrackVideo, Timescale: 0, SampleEntry: avc1Entry()}})
	require.Error(t, err)
	assert.True(t, mp4err.Is(err, mp4err.InvalidInput))
}

func TestBuildFragmentSingleTrack(t *testing.T) {
	m, err := fmux.NewMuxer(twoTracks())
	require.NoError(t, err)

	out, err := m.BuildFragment([]fmux.FragmentSample{
		{TrackID: 1, Duration: 512, DataSize: 1000, Keyframe: true},
		{TrackID: 1, Duration: 512, DataSize: 400},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1400), out.MediaDataSize)

	// mdat header covers header + payload.
	require.Len(t, out.MdatHeaderBytes, 8)
	assert.Equal(t, "mdat", string(out.MdatHeaderBytes[4:8]))
	hdr, err := bmff.DecodeHeader(out.MdatHeaderBytes)
	require.NoError(t, err)
	assert.Equal(t, int64(8+1400), hdr.TotalLen())

	moof, n, err := bmff.Decode(out.MoofBytes)
	require.NoError(t, err)
	require.Equal(t, len(out.MoofBytes), n)
	assert.Equal(t, uint32(1), moof.Moof.Mfhd.Mfhd.SequenceNumber)
	require.Len(t, moof.Moof.Trafs, 1)

	traf := moof.Moof.Trafs[0].Traf
	assert.True(t, traf.Tfhd.Tfhd.DefaultBaseIsMoof)
	assert.Equal(t, uint64(0), traf.Tfdt.Tfdt.BaseMediaDecodeTime)

	trun := traf.Truns[0].Trun
	require.Len(t, trun.Entries, 2)
	assert.Equal(t, int32(len(out.MoofBytes)+8), trun.DataOffset,
		"data offset is moof size plus mdat header size")

	// Synthesized flags: keyframe depends_on=2; non-keyframe
	// depends_on=1 and non-sync.
	assert.Equal(t, uint32(2<<24), trun.Entries[0].SampleFlags)
	assert.Equal(t, uint32(1<<24|1<<16), trun.Entries[1].SampleFlags)
}

func TestSequenceAndDecodeTimeAdvance(t *testing.T) {
	m, err := fmux.NewMuxer(twoTracks())
	require.NoError(t, err)

	var prevSeq uint32
	var prevTfdt uint64
	for i := 0; i < 3; i++ {
		out, err := m.BuildFragment([]fmux.FragmentSample{
			{TrackID: 1, Duration: 512, DataSize: 100, Keyframe: true},
			{TrackID: 1, Duration: 512, DataSize: 100},
		})
		require.NoError(t, err)
		moof, _, err := bmff.Decode(out.MoofBytes)
		require.NoError(t, err)
		seq := moof.Moof.Mfhd.Mfhd.SequenceNumber
		tfdt := moof.Moof.Trafs[0].Traf.Tfdt.Tfdt.BaseMediaDecodeTime
		assert.Greater(t, seq, prevSeq, "sequence numbers strictly ascend")
		if i > 0 {
			assert.GreaterOrEqual(t, tfdt, prevTfdt)
			assert.Equal(t, prevTfdt+1024, tfdt)
		}
		prevSeq, prevTfdt = seq, tfdt
	}
}

func TestMultiTrackFragmentOffsets(t *testing.T) {
	m, err := fmux.NewMuxer(twoTracks())
	require.NoError(t, err)

	out, err := m.BuildFragment([]fmux.FragmentSample{
		{TrackID: 1, Duration: 512, DataSize: 700, Keyframe: true},
		{TrackID: 1, Duration: 512, DataSize: 300},
		{TrackID: 2, Duration: 960, DataSize: 120, Keyframe: true},
		{TrackID: 2, Duration: 960, DataSize: 80, Keyframe: true},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1200), out.MediaDataSize)

	moof, _, err := bmff.Decode(out.MoofBytes)
	require.NoError(t, err)
	require.Len(t, moof.Moof.Trafs, 2)

	base := int32(len(out.MoofBytes) + 8)
	first := moof.Moof.Trafs[0].Traf.Truns[0].Trun
	second := moof.Moof.Trafs[1].Traf.Truns[0].Trun
	assert.Equal(t, base, first.DataOffset)
	assert.Equal(t, base+1000, second.DataOffset, "second run starts after the first run's payload")
}

func TestInterleavedSamplesRejected(t *testing.T) {
	m, err := fmux.NewMuxer(twoTracks())
	require.NoError(t, err)

	_, err = m.BuildFragment([]fmux.FragmentSample{
		{TrackID: 1, Duration: 512, DataSize: 100, Keyframe: true},
		{TrackID: 2, Duration: 960, DataSize: 100, Keyframe: true},
		{TrackID: 1, Duration: 512, DataSize: 100},
	})
	require.Error(t, err)
	assert.True(t, mp4err.Is(err, mp4err.InvalidInput))

	// The failed build must not advance sequence numbers or decode times.
	out, err := m.BuildFragment([]fmux.FragmentSample{
		{TrackID: 1, Duration: 512, DataSize: 100, Keyframe: true},
	})
	require.NoError(t, err)
	moof, _, err := bmff.Decode(out.MoofBytes)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), moof.Moof.Mfhd.Mfhd.SequenceNumber)
	assert.Equal(t, uint64(0), moof.Moof.Trafs[0].Traf.Tfdt.Tfdt.BaseMediaDecodeTime)
}

func TestUnknownTrackRejected(t *testing.T) {
	m, err := fmux.NewMuxer(twoTracks())
	require.NoError(t, err)
	_, err = m.BuildFragment([]fmux.FragmentSample{{TrackID: 9, Duration: 1, DataSize: 1}})
	require.Error(t, err)
	assert.True(t, mp4err.Is(err, mp4err.InvalidInput))
}

func TestEmptyFragmentRejected(t *testing.T) {
	m, err := fmux.NewMuxer(twoTracks())
	require.NoError(t, err)
	_, err = m.BuildFragment(nil)
	require.Error(t, err)
	assert.True(t, mp4err.Is(err, mp4err.InvalidInput))
}

func TestCompositionOffsetsInTrun(t *testing.T) {
	m, err := fmux.NewMuxer(twoTracks())
	require.NoError(t, err)

	out, err := m.BuildFragment([]fmux.FragmentSample{
		{TrackID: 1, Duration: 512, DataSize: 100, Keyframe: true, CompositionOffset: 1024, HasCompositionOffset: true},
		{TrackID: 1, Duration: 512, DataSize: 100},
	})
	require.NoError(t, err)
	moof, _, err := bmff.Decode(out.MoofBytes)
	require.NoError(t, err)
	trun := moof.Moof.Trafs[0].Traf.Truns[0].Trun
	require.True(t, trun.HasSampleCompositionOffset)
	assert.Equal(t, int32(1024), trun.Entries[0].SampleCompositionTimeOffset)
	assert.Equal(t, int32(0), trun.Entries[1].SampleCompositionTimeOffset)
}

func TestExplicitSampleFlagsOverride(t *testing.T) {
	m, err := fmux.NewMuxer(twoTracks())
	require.NoError(t, err)
	out, err := m.BuildFragment([]fmux.FragmentSample{
		{TrackID: 1, Duration: 512, DataSize: 100, Keyframe: false, Flags: 0x33, HasFlags: true},
	})
	require.NoError(t, err)
	moof, _, err := bmff.Decode(out.MoofBytes)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x33), moof.Moof.Trafs[0].Traf.Truns[0].Trun.Entries[0].SampleFlags)
}
