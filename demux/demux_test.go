package demux_test

import (
	"testing"

	"github.com/go-bmff/isobox"
	"github.com/go-bmff/isobox/demux"
	"github.com/go-bmff/isobox/mp4err"
	"github.com/go-bmff/isobox/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func avc1Entry(width, height uint16) *bmff.Box {
	return &bmff.Box{Type: bmff.TypeAvc1, Visual: &bmff.VisualSampleEntry{
		DataReferenceIndex: 1, Width: width, Height: height,
		CodecConfig: &bmff.Box{Type: bmff.TypeAvcC, AvcC: &bmff.AvcC{
			ConfigurationVersion: 1, Profile: 66, Level: 30, LengthSizeMinusOne: 3,
		}},
	}}
}

func opusEntry(channels uint8) *bmff.Box {
	return &bmff.Box{Type: bmff.TypeOpus, Audio: &bmff.AudioSampleEntry{
		DataReferenceIndex: 1, ChannelCount: uint16(channels), SampleSize: 16, SampleRate: 48000 << 16,
		CodecConfig: &bmff.Box{Type: bmff.TypeDOps, DOps: &bmff.DOps{
			OutputChannelCount: channels, PreSkip: 312, InputSampleRate: 48000,
		}},
	}}
}

// appended mirrors one AppendSample call for later verification.
type appended struct {
	kind     bmff.TrackKind
	keyframe bool
	duration uint32
	size     uint32
}

// muxFile assembles a complete file from a sequence of appends. Sample
// data bytes are a repeating counter so payload copies are checkable.
func muxFile(t *testing.T, opts mux.Options, samples []*mux.Sample) []byte {
	t.Helper()
	m := mux.WithOptions(opts)
	file := append([]byte(nil), m.InitialBoxesBytes()...)
	cursor := uint64(len(file))
	for i, s := range samples {
		s.DataOffset = cursor
		require.NoError(t, m.AppendSample(s), "append %d", i)
		data := make([]byte, s.DataSize)
		for j := range data {
			data[j] = byte(i)
		}
		file = append(file, data...)
		cursor += uint64(s.DataSize)
	}
	fin, err := m.Finalize()
	require.NoError(t, err)
	for _, pair := range fin.OffsetAndBytesPairs() {
		end := pair.Offset + uint64(len(pair.Bytes))
		for uint64(len(file)) < end {
			file = append(file, 0)
		}
		copy(file[pair.Offset:end], pair.Bytes)
	}
	return file
}

// feed drives d over file, answering every request with exactly the
// requested range (clamped to EOF).
func feed(t *testing.T, d *demux.Demuxer, file []byte) {
	t.Helper()
	for {
		req, ok := d.RequiredInput()
		if !ok {
			return
		}
		end := req.Position + req.Size
		if end > int64(len(file)) {
			end = int64(len(file))
		}
		require.Less(t, req.Position, int64(len(file)), "request beyond EOF")
		require.NoError(t, d.HandleInput(demux.Input{Position: req.Position, Data: file[req.Position:end]}))
	}
}

func twoTrackFile(t *testing.T) ([]byte, []appended) {
	video := avc1Entry(640, 480)
	audio := opusEntry(2)
	samples := []*mux.Sample{
		{TrackKind: bmff.TrackVideo, SampleEntry: video, Keyframe: true, Timescale: 30, Duration: 30, DataSize: 100},
		{TrackKind: bmff.TrackAudio, SampleEntry: audio, Keyframe: true, Timescale: 48000, Duration: 960, DataSize: 50},
		{TrackKind: bmff.TrackAudio, Keyframe: true, Timescale: 48000, Duration: 960, DataSize: 60},
		{TrackKind: bmff.TrackVideo, Keyframe: false, Timescale: 30, Duration: 30, DataSize: 80},
		{TrackKind: bmff.TrackAudio, Keyframe: true, Timescale: 48000, Duration: 960, DataSize: 55},
	}
	var expect []appended
	for _, s := range samples {
		expect = append(expect, appended{kind: s.TrackKind, keyframe: s.Keyframe, duration: s.Duration, size: s.DataSize})
	}
	return muxFile(t, mux.DefaultOptions(), samples), expect
}

func TestDemuxTracksAndOrdering(t *testing.T) {
	file, expect := twoTrackFile(t)

	d := demux.New()
	feed(t, d, file)
	require.True(t, d.Ready())

	require.NotNil(t, d.Ftyp())
	assert.Equal(t, bmff.BoxType{'i', 's', 'o', 'm'}, d.Ftyp().MajorBrand)

	tracks := d.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, bmff.TrackVideo, tracks[0].Kind, "tracks keep registration order")
	assert.Equal(t, bmff.TrackAudio, tracks[1].Kind)
	assert.Equal(t, uint32(30), tracks[0].Timescale)
	assert.Equal(t, uint32(48000), tracks[1].Timescale)
	require.NotNil(t, tracks[0].SampleEntry)
	assert.Equal(t, bmff.TypeAvc1, tracks[0].SampleEntry.Type)

	// Per-track tallies must match the appended samples in order.
	perKind := map[bmff.TrackKind][]appended{}
	for _, e := range expect {
		perKind[e.kind] = append(perKind[e.kind], e)
	}

	var prevSec float64 = -1
	got := map[bmff.TrackKind][]*demux.Sample{}
	count := 0
	for {
		s, err := d.NextSample()
		if err != nil {
			require.True(t, mp4err.Is(err, mp4err.NoMoreSamples))
			break
		}
		count++
		var tr *demux.Track
		for _, cand := range tracks {
			if cand.TrackID == s.TrackID {
				tr = cand
			}
		}
		require.NotNil(t, tr)
		sec := float64(s.Timestamp) / float64(tr.Timescale)
		require.GreaterOrEqual(t, sec, prevSec, "timestamps must be non-decreasing")
		prevSec = sec
		got[tr.Kind] = append(got[tr.Kind], s)
	}
	require.Equal(t, len(expect), count)

	for kind, want := range perKind {
		require.Len(t, got[kind], len(want))
		for i, w := range want {
			assert.Equal(t, w.keyframe, got[kind][i].Sync, "%s sample %d sync", kind, i)
			assert.Equal(t, w.duration, got[kind][i].Duration, "%s sample %d duration", kind, i)
			assert.Equal(t, w.size, got[kind][i].Size, "%s sample %d size", kind, i)
		}
	}
}

func TestDemuxDataOffsetsPointAtPayload(t *testing.T) {
	file, _ := twoTrackFile(t)
	d := demux.New()
	feed(t, d, file)

	// The first video sample's bytes were filled with 0x00, the first
	// audio sample's with 0x01 (the append index).
	s, err := d.NextSample()
	require.NoError(t, err)
	require.Equal(t, uint32(100), s.Size)
	assert.Equal(t, byte(0), file[s.DataOffset])
	assert.Equal(t, byte(0), file[s.DataOffset+uint64(s.Size)-1])
}

func TestDemuxSingleInputCoversAllStates(t *testing.T) {
	file, expect := twoTrackFile(t)
	d := demux.New()
	require.NoError(t, d.HandleInput(demux.Input{Position: 0, Data: file}))
	require.True(t, d.Ready())
	n := 0
	for {
		if _, err := d.NextSample(); err != nil {
			break
		}
		n++
	}
	assert.Equal(t, len(expect), n)
}

func TestDemuxRejectsNonFtypStart(t *testing.T) {
	buf := make([]byte, 16)
	be := func(v uint32, at int) {
		buf[at] = byte(v >> 24)
		buf[at+1] = byte(v >> 16)
		buf[at+2] = byte(v >> 8)
		buf[at+3] = byte(v)
	}
	be(16, 0)
	copy(buf[4:8], "free")
	d := demux.New()
	err := d.HandleInput(demux.Input{Position: 0, Data: buf})
	require.Error(t, err)
	assert.True(t, mp4err.Is(err, mp4err.InvalidData))
}

func TestDemuxLoopGuardOnBadSize(t *testing.T) {
	file, _ := twoTrackFile(t)
	bad := append([]byte(nil), file[:40]...)
	bad[0], bad[1], bad[2], bad[3] = 0, 0, 0, 3 // ftyp size < header length

	d := demux.New()
	for i := 0; i < 3; i++ {
		req, ok := d.RequiredInput()
		require.True(t, ok)
		assert.Equal(t, int64(0), req.Position, "request must not drift")
		err := d.HandleInput(demux.Input{Position: req.Position, Data: bad})
		require.Error(t, err)
		assert.True(t, mp4err.Is(err, mp4err.InvalidData))
	}
}

func TestDemuxInputPositionMismatch(t *testing.T) {
	d := demux.New()
	err := d.HandleInput(demux.Input{Position: 4, Data: make([]byte, 16)})
	require.Error(t, err)
	assert.True(t, mp4err.Is(err, mp4err.InvalidInput))
}

func TestNextSampleBeforeReadyReportsInputRequired(t *testing.T) {
	d := demux.New()
	_, err := d.NextSample()
	require.Error(t, err)
	var need *mp4err.InputRequired
	require.ErrorAs(t, err, &need)
	assert.Equal(t, int64(0), need.Position)
}

func TestDemuxShortInputReportsInputRequired(t *testing.T) {
	file, _ := twoTrackFile(t)
	d := demux.New()
	err := d.HandleInput(demux.Input{Position: 0, Data: file[:4]})
	require.Error(t, err)
	var need *mp4err.InputRequired
	require.ErrorAs(t, err, &need)
}

func TestDemuxTimestampLookupThroughTable(t *testing.T) {
	file, _ := twoTrackFile(t)
	d := demux.New()
	feed(t, d, file)

	video := d.Tracks()[0]
	n, err := video.Table.GetSampleByTimestamp(30)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)
}
