package stbl

import (
	"testing"

	"github.com/go-bmff/isobox"
	"github.com/go-bmff/isobox/mp4err"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func avc1Entry() *bmff.Box {
	return &bmff.Box{Type: bmff.TypeAvc1, Visual: &bmff.VisualSampleEntry{
		DataReferenceIndex: 1, Width: 640, Height: 480,
		CodecConfig: &bmff.Box{Type: bmff.TypeAvcC, AvcC: &bmff.AvcC{
			ConfigurationVersion: 1, Profile: 66, Level: 30, LengthSizeMinusOne: 3,
		}},
	}}
}

// testStbl builds a 5-sample, 2-chunk table:
//
//	chunk 1 at offset 100: samples 1-3 (sizes 10, 20, 30)
//	chunk 2 at offset 400: samples 4-5 (sizes 40, 50)
//	durations: 3 x 100, then 2 x 200; sync samples 1 and 4
func testStbl() *bmff.Stbl {
	return &bmff.Stbl{
		Stsd: &bmff.Box{Type: bmff.TypeStsd, Stsd: &bmff.Stsd{Entries: []*bmff.Box{avc1Entry()}}},
		Stts: &bmff.Box{Type: bmff.TypeStts, Stts: &bmff.Stts{Entries: []bmff.SttsEntry{
			{SampleCount: 3, SampleDelta: 100},
			{SampleCount: 2, SampleDelta: 200},
		}}},
		Stsc: &bmff.Box{Type: bmff.TypeStsc, Stsc: &bmff.Stsc{Entries: []bmff.StscEntry{
			{FirstChunk: 1, SamplesPerChunk: 3, SampleDescriptionIndex: 1},
			{FirstChunk: 2, SamplesPerChunk: 2, SampleDescriptionIndex: 1},
		}}},
		Stsz: &bmff.Box{Type: bmff.TypeStsz, Stsz: &bmff.Stsz{
			SampleCount: 5, EntrySizes: []uint32{10, 20, 30, 40, 50},
		}},
		Stco: &bmff.Box{Type: bmff.TypeStco, Stco: &bmff.Stco{ChunkOffsets: []uint32{100, 400}}},
		Stss: &bmff.Box{Type: bmff.TypeStss, Stss: &bmff.Stss{SampleNumbers: []uint32{1, 4}}},
		Ctts: &bmff.Box{Type: bmff.TypeCtts, Ctts: &bmff.Ctts{Entries: []bmff.CttsEntry{
			{SampleCount: 4, SampleOffset: 0},
			{SampleCount: 1, SampleOffset: 100},
		}}},
	}
}

func TestTableCounts(t *testing.T) {
	table, err := New(testStbl())
	require.NoError(t, err)
	assert.Equal(t, uint32(5), table.SampleCount())
	assert.Equal(t, uint32(2), table.ChunkCount())
}

func TestSampleAccessors(t *testing.T) {
	table, err := New(testStbl())
	require.NoError(t, err)

	wantTS := []uint64{0, 100, 200, 300, 500}
	wantDur := []uint32{100, 100, 100, 200, 200}
	wantSize := []uint32{10, 20, 30, 40, 50}
	wantChunk := []uint32{1, 1, 1, 2, 2}
	wantSync := []bool{true, false, false, true, false}
	wantOff := []uint64{100, 110, 130, 400, 440}

	for i := uint32(1); i <= 5; i++ {
		sa, err := table.GetSample(i)
		require.NoError(t, err)
		assert.Equal(t, wantTS[i-1], sa.Timestamp, "sample %d timestamp", i)
		assert.Equal(t, wantDur[i-1], sa.Duration, "sample %d duration", i)
		assert.Equal(t, wantSize[i-1], sa.Size, "sample %d size", i)
		assert.Equal(t, wantChunk[i-1], sa.ChunkNumber, "sample %d chunk", i)
		assert.Equal(t, wantSync[i-1], sa.Sync, "sample %d sync", i)
		assert.Equal(t, uint32(1), sa.SampleDescriptionIndex)

		off, err := table.DataOffset(i)
		require.NoError(t, err)
		assert.Equal(t, wantOff[i-1], off, "sample %d data offset", i)
	}

	sa, err := table.GetSample(5)
	require.NoError(t, err)
	assert.Equal(t, int32(100), sa.CompositionOffset)

	_, err = table.GetSample(0)
	require.Error(t, err)
	_, err = table.GetSample(6)
	require.Error(t, err)
	assert.True(t, mp4err.Is(err, mp4err.InvalidInput))
}

func TestChunkAccessors(t *testing.T) {
	table, err := New(testStbl())
	require.NoError(t, err)

	c1, err := table.GetChunk(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), c1.Offset)
	assert.Equal(t, uint32(1), c1.FirstSampleNumber)
	assert.Equal(t, uint32(3), c1.SampleCount)

	c2, err := table.GetChunk(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), c2.Offset)
	assert.Equal(t, uint32(4), c2.FirstSampleNumber)
	assert.Equal(t, uint32(2), c2.SampleCount)

	entry := table.SampleEntry(c1.SampleDescriptionIndex)
	require.NotNil(t, entry)
	assert.Equal(t, bmff.TypeAvc1, entry.Type)
	assert.Nil(t, table.SampleEntry(0))
	assert.Nil(t, table.SampleEntry(2))
}

func TestSamplesTotality(t *testing.T) {
	table, err := New(testStbl())
	require.NoError(t, err)

	samples, err := table.Samples()
	require.NoError(t, err)
	require.Len(t, samples, int(table.SampleCount()))

	for _, sa := range samples {
		chunk, err := table.GetChunk(sa.ChunkNumber)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, sa.Number, chunk.FirstSampleNumber)
		assert.Less(t, sa.Number, chunk.FirstSampleNumber+chunk.SampleCount)
	}

	chunks, err := table.Chunks()
	require.NoError(t, err)
	var covered uint32
	for _, c := range chunks {
		covered += c.SampleCount
	}
	assert.Equal(t, table.SampleCount(), covered)
}

func TestGetSampleByTimestamp(t *testing.T) {
	table, err := New(testStbl())
	require.NoError(t, err)

	cases := []struct {
		ts   uint64
		want uint32
	}{
		{0, 1}, {99, 1}, {100, 2}, {250, 3}, {300, 4}, {499, 4}, {500, 5}, {699, 5},
	}
	for _, tc := range cases {
		got, err := table.GetSampleByTimestamp(tc.ts)
		require.NoError(t, err, "ts %d", tc.ts)
		assert.Equal(t, tc.want, got, "ts %d", tc.ts)
	}

	_, err = table.GetSampleByTimestamp(700)
	require.Error(t, err)
	assert.True(t, mp4err.Is(err, mp4err.NoMoreSamples))
}

func TestInconsistentSampleCount(t *testing.T) {
	s := testStbl()
	s.Stts.Stts.Entries = []bmff.SttsEntry{{SampleCount: 10, SampleDelta: 100}}
	_, err := New(s)
	require.Error(t, err)
	assert.True(t, mp4err.Is(err, mp4err.InvalidData))
	assert.Contains(t, err.Error(), "InconsistentSampleCount")
	assert.Contains(t, err.Error(), "stsz has 5")
}

func TestCttsCountMismatch(t *testing.T) {
	s := testStbl()
	s.Ctts.Ctts.Entries = []bmff.CttsEntry{{SampleCount: 2, SampleOffset: 0}}
	_, err := New(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InconsistentSampleCount")
}

func TestMissingMandatoryBoxes(t *testing.T) {
	for _, strip := range []func(*bmff.Stbl){
		func(s *bmff.Stbl) { s.Stts = nil },
		func(s *bmff.Stbl) { s.Stsc = nil },
		func(s *bmff.Stbl) { s.Stsz = nil },
		func(s *bmff.Stbl) { s.Stco = nil },
	} {
		s := testStbl()
		strip(s)
		_, err := New(s)
		require.Error(t, err)
		assert.True(t, mp4err.Is(err, mp4err.InvalidData))
	}
}

func TestBothChunkOffsetBoxesRejected(t *testing.T) {
	s := testStbl()
	s.Co64 = &bmff.Box{Type: bmff.TypeCo64, Co64: &bmff.Co64{ChunkOffsets: []uint64{1}}}
	_, err := New(s)
	require.Error(t, err)
	assert.True(t, mp4err.Is(err, mp4err.InvalidData))
}

func TestStscFirstChunkMustBeOne(t *testing.T) {
	s := testStbl()
	s.Stsc.Stsc.Entries[0].FirstChunk = 2
	_, err := New(s)
	require.Error(t, err)
	assert.True(t, mp4err.Is(err, mp4err.InvalidData))
}

func TestStscBeyondChunkCount(t *testing.T) {
	s := testStbl()
	s.Stco.Stco.ChunkOffsets = []uint32{100} // stsc still names chunk 2
	_, err := New(s)
	require.Error(t, err)
	assert.True(t, mp4err.Is(err, mp4err.InvalidData))
}

func TestStssOutOfRange(t *testing.T) {
	s := testStbl()
	s.Stss.Stss.SampleNumbers = []uint32{1, 9}
	_, err := New(s)
	require.Error(t, err)
	assert.True(t, mp4err.Is(err, mp4err.InvalidData))
}

func TestSampleDescriptionIndexBeyondStsd(t *testing.T) {
	s := testStbl()
	s.Stsc.Stsc.Entries[1].SampleDescriptionIndex = 3
	_, err := New(s)
	require.Error(t, err)
	assert.True(t, mp4err.Is(err, mp4err.InvalidData))
}

func TestStz2BackedTable(t *testing.T) {
	s := testStbl()
	s.Stsz = &bmff.Box{Type: bmff.TypeStz2, Stz2: &bmff.Stz2{
		FieldSize: 8, EntrySizes: []uint32{10, 20, 30, 40, 50},
	}}
	table, err := New(s)
	require.NoError(t, err)
	sa, err := table.GetSample(3)
	require.NoError(t, err)
	assert.Equal(t, uint32(30), sa.Size)
}

func TestConcurrentReaders(t *testing.T) {
	table, err := New(testStbl())
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for iter := 0; iter < 100; iter++ {
				for i := uint32(1); i <= table.SampleCount(); i++ {
					sa, err := table.GetSample(i)
					if err != nil {
						return err
					}
					if _, err := table.DataOffset(sa.Number); err != nil {
						return err
					}
					if _, err := table.GetChunk(sa.ChunkNumber); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}
