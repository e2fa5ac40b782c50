package bmff

import (
	"testing"

	"github.com/go-bmff/isobox/mp4err"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTfhdFlagCombinations(t *testing.T) {
	boxes := []*Tfhd{
		{TrackID: 1},
		{TrackID: 1, DefaultBaseIsMoof: true},
		{TrackID: 2, HasBaseDataOffset: true, BaseDataOffset: 4096},
		{TrackID: 3, HasSampleDescriptionIndex: true, SampleDescriptionIndex: 2},
		{
			TrackID:                  4,
			HasDefaultSampleDuration: true, DefaultSampleDuration: 512,
			HasDefaultSampleSize: true, DefaultSampleSize: 100,
			HasDefaultSampleFlags: true, DefaultSampleFlags: 0x10000,
			DurationIsEmpty: true,
		},
	}
	for _, tf := range boxes {
		dec := roundTrip(t, &Box{Type: TypeTfhd, Tfhd: tf})
		assert.Equal(t, tf, dec.Tfhd)
	}
}

func TestTfdtVersionSelection(t *testing.T) {
	v0 := roundTrip(t, &Box{Type: TypeTfdt, Tfdt: &Tfdt{BaseMediaDecodeTime: 100}})
	assert.Equal(t, uint64(100), v0.Tfdt.BaseMediaDecodeTime)

	big := uint64(1) << 40
	buf, err := Encode(&Box{Type: TypeTfdt, Tfdt: &Tfdt{BaseMediaDecodeTime: big}})
	require.NoError(t, err)
	assert.Equal(t, byte(1), buf[8])
	dec, _, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, big, dec.Tfdt.BaseMediaDecodeTime)
}

func TestMehdRoundTrip(t *testing.T) {
	dec := roundTrip(t, &Box{Type: TypeMehd, Mehd: &Mehd{FragmentDuration: 12345}})
	assert.Equal(t, uint64(12345), dec.Mehd.FragmentDuration)
}

func TestTrexRoundTrip(t *testing.T) {
	trex := &Trex{TrackID: 1, DefaultSampleDescriptionIndex: 1, DefaultSampleDuration: 512, DefaultSampleFlags: 0x1010000}
	dec := roundTrip(t, &Box{Type: TypeTrex, Trex: trex})
	assert.Equal(t, trex, dec.Trex)
}

func TestTrunPerSampleFields(t *testing.T) {
	trun := &Trun{
		HasDataOffset:              true,
		DataOffset:                 108,
		HasSampleDuration:          true,
		HasSampleSize:              true,
		HasSampleFlags:             true,
		HasSampleCompositionOffset: true,
		Count:                      2,
		Entries: []TrunEntry{
			{SampleDuration: 512, SampleSize: 100, SampleFlags: 0x2000000, SampleCompositionTimeOffset: 0},
			{SampleDuration: 512, SampleSize: 90, SampleFlags: 0x1010000, SampleCompositionTimeOffset: 512},
		},
	}
	buf, err := Encode(&Box{Type: TypeTrun, Trun: trun})
	require.NoError(t, err)
	assert.Equal(t, byte(0), buf[8], "non-negative composition offsets stay version 0")
	dec := roundTrip(t, &Box{Type: TypeTrun, Trun: trun})
	assert.Equal(t, trun.Entries, dec.Trun.Entries)
	assert.Equal(t, trun.DataOffset, dec.Trun.DataOffset)
}

func TestTrunNegativeCompositionOffsetForcesVersion1(t *testing.T) {
	trun := &Trun{
		HasSampleCompositionOffset: true,
		Count:                      1,
		Entries:                    []TrunEntry{{SampleCompositionTimeOffset: -512}},
	}
	buf, err := Encode(&Box{Type: TypeTrun, Trun: trun})
	require.NoError(t, err)
	assert.Equal(t, byte(1), buf[8])
	dec, _, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, int32(-512), dec.Trun.Entries[0].SampleCompositionTimeOffset)
}

func TestTrunNoPerSampleFieldsKeepsCount(t *testing.T) {
	trun := &Trun{HasFirstSampleFlags: true, FirstSampleFlags: 0x2000000, Count: 7}
	dec := roundTrip(t, &Box{Type: TypeTrun, Trun: trun})
	assert.Equal(t, uint32(7), dec.Trun.Count)
	assert.Empty(t, dec.Trun.Entries)
}

func TestTrunCountExceedsPayload(t *testing.T) {
	buf := make([]byte, 16)
	be.PutUint32(buf, 16)
	copy(buf[4:8], "trun")
	buf[10] = 0x01 // flags: sample-duration-present
	be.PutUint32(buf[12:], 0x10000000)
	_, _, err := Decode(buf)
	require.Error(t, err)
	assert.True(t, mp4err.Is(err, mp4err.InvalidData))
}

func TestTrafRequiresTfhd(t *testing.T) {
	trun := &Box{Type: TypeTrun, Trun: &Trun{Count: 1}}
	trunBytes, err := Encode(trun)
	require.NoError(t, err)
	buf := make([]byte, 8+len(trunBytes))
	be.PutUint32(buf, uint32(len(buf)))
	copy(buf[4:8], "traf")
	copy(buf[8:], trunBytes)
	_, _, err = Decode(buf)
	require.Error(t, err)
	assert.True(t, mp4err.Is(err, mp4err.InvalidData))
}

func TestMoofRoundTrip(t *testing.T) {
	moof := &Box{Type: TypeMoof, Moof: &Moof{
		Mfhd: &Box{Type: TypeMfhd, Mfhd: &Mfhd{SequenceNumber: 9}},
		Trafs: []*Box{{Type: TypeTraf, Traf: &Traf{
			Tfhd: &Box{Type: TypeTfhd, Tfhd: &Tfhd{TrackID: 1, DefaultBaseIsMoof: true}},
			Tfdt: &Box{Type: TypeTfdt, Tfdt: &Tfdt{BaseMediaDecodeTime: 3000}},
			Truns: []*Box{{Type: TypeTrun, Trun: &Trun{
				HasDataOffset: true, DataOffset: 116,
				HasSampleDuration: true, HasSampleSize: true,
				Count:   1,
				Entries: []TrunEntry{{SampleDuration: 512, SampleSize: 1000}},
			}}},
		}}},
	}}
	dec := roundTrip(t, moof)
	assert.Equal(t, uint32(9), dec.Moof.Mfhd.Mfhd.SequenceNumber)
	require.Len(t, dec.Moof.Trafs, 1)
	assert.Equal(t, uint64(3000), dec.Moof.Trafs[0].Traf.Tfdt.Tfdt.BaseMediaDecodeTime)
}

func TestSidxRoundTrip(t *testing.T) {
	sidx := &Sidx{
		ReferenceID:              1,
		Timescale:                90000,
		EarliestPresentationTime: 0,
		FirstOffset:              0,
		References: []SidxReference{
			{ReferenceType: 0, ReferencedSize: 4096, SubsegmentDuration: 90000, StartsWithSAP: true, SAPType: 1},
			{ReferenceType: 1, ReferencedSize: 100, SubsegmentDuration: 45000, SAPDeltaTime: 42},
		},
	}
	dec := roundTrip(t, &Box{Type: TypeSidx, Sidx: sidx})
	assert.Equal(t, sidx, dec.Sidx)

	big := &Sidx{ReferenceID: 1, Timescale: 1, EarliestPresentationTime: uint64(1) << 35}
	buf, err := Encode(&Box{Type: TypeSidx, Sidx: big})
	require.NoError(t, err)
	assert.Equal(t, byte(1), buf[8])
	dec2, _, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, big.EarliestPresentationTime, dec2.Sidx.EarliestPresentationTime)
}

func TestMvexRoundTrip(t *testing.T) {
	mvex := &Box{Type: TypeMvex, Mvex: &Mvex{
		Mehd:  &Box{Type: TypeMehd, Mehd: &Mehd{FragmentDuration: 100}},
		Trexs: []*Box{{Type: TypeTrex, Trex: &Trex{TrackID: 1, DefaultSampleDescriptionIndex: 1}}},
	}}
	dec := roundTrip(t, mvex)
	require.NotNil(t, dec.Mvex.Mehd)
	require.Len(t, dec.Mvex.Trexs, 1)
}
