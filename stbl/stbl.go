// Package stbl indexes a decoded sample table (stbl) box, validating the
// cross-references between its stts/stsc/stsz/stco/stss/ctts children at
// construction time and answering per-sample and per-chunk queries
// without re-walking the raw run-length tables on every call: timestamp
// lookups are O(log n) over the stts runs, and DataOffset sums the sizes
// of the earlier samples in the sample's chunk.
package stbl

import (
	"sort"

	"github.com/go-bmff/isobox"
	"github.com/go-bmff/isobox/mp4err"
)

// SampleAccessor describes one sample's timing, size, grouping and
// location, resolved from the underlying tables.
type SampleAccessor struct {
	Number           uint32 // 1-based
	Timestamp        uint64 // decode timestamp in the track's timescale
	Duration         uint32 // decode duration in the track's timescale
	CompositionOffset int32  // 0 if the track has no ctts
	Size             uint32
	ChunkNumber      uint32 // 1-based
	Sync             bool
	SampleDescriptionIndex uint32 // 1-based
}

// ChunkAccessor describes one chunk's offset and the samples it carries.
type ChunkAccessor struct {
	Number                 uint32 // 1-based
	Offset                 uint64
	FirstSampleNumber      uint32 // 1-based
	SampleCount            uint32
	SampleDescriptionIndex uint32 // 1-based
}

// Table is a validated, queryable view over a decoded stbl box.
type Table struct {
	stbl *bmff.Stbl

	sampleCount uint32
	chunkCount  uint32

	// sttsPrefix[i] is the total sample count across stts entries[0:i];
	// len == len(entries)+1. Used for O(log runs) timestamp lookup.
	sttsPrefix []uint64
	sttsTime   []uint64 // cumulative time at the start of each run

	sampleSizes []uint32 // resolved per-sample size (fixed-size expanded)

	// chunkOfSample[i] (0-based sample index) gives the 1-based chunk number.
	chunkOfSample []uint32
	// sampleDescOfChunk[i] (0-based chunk index) gives the 1-based sample description index.
	sampleDescOfChunk []uint32
	firstSampleOfChunk []uint32 // 1-based sample number of each chunk's first sample
	samplesInChunk     []uint32

	chunkOffsets []uint64

	syncSamples map[uint32]bool // nil means every sample is sync

	cttsOffsets []int32 // per-sample, nil if no ctts
}

// New validates and indexes the stsd/stts/stsc/stsz/stco-or-co64 cross
// references in s, returning InvalidData if any of the format's seven
// sample-table consistency invariants is violated.
func New(s *bmff.Stbl) (*Table, error) {
	if s.Stts == nil || s.Stts.Stts == nil {
		return nil, mp4err.New(mp4err.InvalidData, "stbl missing required stts")
	}
	if s.Stsc == nil || s.Stsc.Stsc == nil {
		return nil, mp4err.New(mp4err.InvalidData, "stbl missing required stsc")
	}
	if s.Stsz == nil || (s.Stsz.Stsz == nil && s.Stsz.Stz2 == nil) {
		return nil, mp4err.New(mp4err.InvalidData, "stbl missing required stsz/stz2")
	}
	if s.Stco == nil && s.Co64 == nil {
		return nil, mp4err.New(mp4err.InvalidData, "stbl missing required stco/co64")
	}
	if s.Stco != nil && s.Co64 != nil {
		return nil, mp4err.New(mp4err.InvalidData, "stbl has both stco and co64")
	}

	t := &Table{stbl: s}

	// stts: build prefix sums and validate sample/time totals are
	// self-consistent (invariant 1: stts total sample count equals the
	// table's sample count, established once stsz is cross-checked below).
	var sampleCount uint64
	var cumTime uint64
	t.sttsPrefix = append(t.sttsPrefix, 0)
	t.sttsTime = append(t.sttsTime, 0)
	for _, e := range s.Stts.Stts.Entries {
		sampleCount += uint64(e.SampleCount)
		cumTime += uint64(e.SampleCount) * uint64(e.SampleDelta)
		t.sttsPrefix = append(t.sttsPrefix, sampleCount)
		t.sttsTime = append(t.sttsTime, cumTime)
	}
	t.sampleCount = uint32(sampleCount)

	// stsz/stz2 (invariant 2: the size table's sample count must equal
	// stts's sample count).
	if stsz := s.Stsz.Stsz; stsz != nil {
		if uint64(stsz.SampleCount) != sampleCount {
			return nil, mp4err.New(mp4err.InvalidData, "InconsistentSampleCount: stsz has %d samples, stts has %d", stsz.SampleCount, sampleCount)
		}
		if stsz.SampleSize != 0 {
			t.sampleSizes = make([]uint32, sampleCount)
			for i := range t.sampleSizes {
				t.sampleSizes[i] = stsz.SampleSize
			}
		} else {
			t.sampleSizes = stsz.EntrySizes
		}
	} else {
		stz2 := s.Stsz.Stz2
		if uint64(len(stz2.EntrySizes)) != sampleCount {
			return nil, mp4err.New(mp4err.InvalidData, "InconsistentSampleCount: stz2 has %d samples, stts has %d", len(stz2.EntrySizes), sampleCount)
		}
		t.sampleSizes = stz2.EntrySizes
	}

	// stco/co64 offsets.
	if s.Stco != nil {
		t.chunkOffsets = make([]uint64, len(s.Stco.Stco.ChunkOffsets))
		for i, v := range s.Stco.Stco.ChunkOffsets {
			t.chunkOffsets[i] = uint64(v)
		}
	} else {
		t.chunkOffsets = s.Co64.Co64.ChunkOffsets
	}
	t.chunkCount = uint32(len(t.chunkOffsets))

	// stsc (invariant 3: first_chunk values must be strictly increasing,
	// already checked at decode time; invariant 4: the last run's chunks
	// must not exceed the chunk count from stco/co64, and every chunk
	// 1..chunkCount must be covered).
	stsc := s.Stsc.Stsc
	if len(stsc.Entries) == 0 && t.chunkCount > 0 {
		return nil, mp4err.New(mp4err.InvalidData, "stsc has no entries but stco/co64 has %d chunks", t.chunkCount)
	}
	if len(stsc.Entries) > 0 && stsc.Entries[0].FirstChunk != 1 {
		return nil, mp4err.New(mp4err.InvalidData, "stsc first entry covers chunk %d, must start at 1", stsc.Entries[0].FirstChunk)
	}
	t.chunkOfSample = make([]uint32, sampleCount)
	t.firstSampleOfChunk = make([]uint32, t.chunkCount+1)
	t.samplesInChunk = make([]uint32, t.chunkCount+1)
	t.sampleDescOfChunk = make([]uint32, t.chunkCount+1)

	var sampleIdx uint64
	for i, e := range stsc.Entries {
		if e.FirstChunk == 0 {
			return nil, mp4err.New(mp4err.InvalidData, "stsc first_chunk is 1-based, got 0")
		}
		end := t.chunkCount + 1
		if i+1 < len(stsc.Entries) {
			end = stsc.Entries[i+1].FirstChunk
		}
		if end < e.FirstChunk {
			return nil, mp4err.New(mp4err.InvalidData, "stsc entries not monotonic")
		}
		for chunk := e.FirstChunk; chunk < end; chunk++ {
			if chunk > t.chunkCount {
				return nil, mp4err.New(mp4err.InvalidData, "stsc references chunk %d beyond stco/co64 count %d", chunk, t.chunkCount)
			}
			t.firstSampleOfChunk[chunk] = uint32(sampleIdx) + 1
			t.samplesInChunk[chunk] = e.SamplesPerChunk
			t.sampleDescOfChunk[chunk] = e.SampleDescriptionIndex
			for s := uint32(0); s < e.SamplesPerChunk; s++ {
				if sampleIdx >= sampleCount {
					return nil, mp4err.New(mp4err.InvalidData, "stsc describes more samples than stts/stsz declare")
				}
				t.chunkOfSample[sampleIdx] = chunk
				sampleIdx++
			}
		}
	}
	if sampleIdx != sampleCount {
		return nil, mp4err.New(mp4err.InvalidData, "stsc covers %d samples, stts/stsz declare %d", sampleIdx, sampleCount)
	}

	// stss (invariant 5: sample numbers in range, already checked strictly
	// increasing at decode time).
	if s.Stss != nil && s.Stss.Stss != nil {
		t.syncSamples = make(map[uint32]bool, len(s.Stss.Stss.SampleNumbers))
		for _, n := range s.Stss.Stss.SampleNumbers {
			if uint64(n) == 0 || uint64(n) > sampleCount {
				return nil, mp4err.New(mp4err.InvalidData, "stss sample number %d out of range [1,%d]", n, sampleCount)
			}
			t.syncSamples[n] = true
		}
	}

	// ctts (invariant 6: total sample count must equal stts/stsz count).
	if s.Ctts != nil && s.Ctts.Ctts != nil {
		var cttsTotal uint64
		t.cttsOffsets = make([]int32, 0, sampleCount)
		for _, e := range s.Ctts.Ctts.Entries {
			cttsTotal += uint64(e.SampleCount)
			for i := uint32(0); i < e.SampleCount; i++ {
				t.cttsOffsets = append(t.cttsOffsets, e.SampleOffset)
			}
		}
		if cttsTotal != sampleCount {
			return nil, mp4err.New(mp4err.InvalidData, "InconsistentSampleCount: ctts has %d samples, stts has %d", cttsTotal, sampleCount)
		}
	}

	// stsd (invariant 7: every sample description index referenced by
	// stsc must exist in stsd).
	if s.Stsd != nil && s.Stsd.Stsd != nil {
		n := uint32(len(s.Stsd.Stsd.Entries))
		for chunk := uint32(1); chunk <= t.chunkCount; chunk++ {
			idx := t.sampleDescOfChunk[chunk]
			if idx == 0 || idx > n {
				return nil, mp4err.New(mp4err.InvalidData, "stsc references sample description %d, stsd has %d entries", idx, n)
			}
		}
	}

	return t, nil
}

// SampleCount returns the total number of samples.
func (t *Table) SampleCount() uint32 { return t.sampleCount }

// ChunkCount returns the total number of chunks.
func (t *Table) ChunkCount() uint32 { return t.chunkCount }

// timestampForSample returns the decode timestamp and duration of the
// 0-based sample index.
func (t *Table) timestampForSample(idx uint64) (ts uint64, delta uint32) {
	run := sort.Search(len(t.sttsPrefix)-1, func(i int) bool { return t.sttsPrefix[i+1] > idx })
	within := idx - t.sttsPrefix[run]
	if run < len(t.stbl.Stts.Stts.Entries) {
		delta = t.stbl.Stts.Stts.Entries[run].SampleDelta
	}
	return t.sttsTime[run] + within*uint64(delta), delta
}

// GetSample returns the 1-based sample's accessor.
func (t *Table) GetSample(number uint32) (SampleAccessor, error) {
	if number == 0 || number > t.sampleCount {
		return SampleAccessor{}, mp4err.New(mp4err.InvalidInput, "sample number %d out of range [1,%d]", number, t.sampleCount)
	}
	idx := number - 1
	ts, delta := t.timestampForSample(uint64(idx))
	sa := SampleAccessor{
		Number:    number,
		Timestamp: ts,
		Duration:  delta,
		Size:      t.sampleSizes[idx],
		ChunkNumber: t.chunkOfSample[idx],
		Sync:      t.syncSamples == nil || t.syncSamples[number],
	}
	sa.SampleDescriptionIndex = t.sampleDescOfChunk[sa.ChunkNumber]
	if t.cttsOffsets != nil {
		sa.CompositionOffset = t.cttsOffsets[idx]
	}
	return sa, nil
}

// DataOffset returns the byte offset of a sample's data within the file.
func (t *Table) DataOffset(number uint32) (uint64, error) {
	sa, err := t.GetSample(number)
	if err != nil {
		return 0, err
	}
	chunkOff := t.chunkOffsets[sa.ChunkNumber-1]
	first := t.firstSampleOfChunk[sa.ChunkNumber]
	var off uint64
	for n := first; n < number; n++ {
		off += uint64(t.sampleSizes[n-1])
	}
	return chunkOff + off, nil
}

// GetChunk returns the 1-based chunk's accessor.
func (t *Table) GetChunk(number uint32) (ChunkAccessor, error) {
	if number == 0 || number > t.chunkCount {
		return ChunkAccessor{}, mp4err.New(mp4err.InvalidInput, "chunk number %d out of range [1,%d]", number, t.chunkCount)
	}
	return ChunkAccessor{
		Number:                 number,
		Offset:                 t.chunkOffsets[number-1],
		FirstSampleNumber:      t.firstSampleOfChunk[number],
		SampleCount:            t.samplesInChunk[number],
		SampleDescriptionIndex: t.sampleDescOfChunk[number],
	}, nil
}

// Samples returns every sample in ascending order; it is a convenience
// wrapper over repeated GetSample calls for callers that want the whole
// track at once.
func (t *Table) Samples() ([]SampleAccessor, error) {
	out := make([]SampleAccessor, t.sampleCount)
	for i := range out {
		sa, err := t.GetSample(uint32(i) + 1)
		if err != nil {
			return nil, err
		}
		out[i] = sa
	}
	return out, nil
}

// Chunks returns every chunk in ascending order.
func (t *Table) Chunks() ([]ChunkAccessor, error) {
	out := make([]ChunkAccessor, t.chunkCount)
	for i := range out {
		ca, err := t.GetChunk(uint32(i) + 1)
		if err != nil {
			return nil, err
		}
		out[i] = ca
	}
	return out, nil
}

// SampleEntry returns the stsd entry addressed by a 1-based sample
// description index (as carried on ChunkAccessor/SampleAccessor), or
// nil when the index is out of range or the table has no stsd.
func (t *Table) SampleEntry(index uint32) *bmff.Box {
	if t.stbl.Stsd == nil || t.stbl.Stsd.Stsd == nil {
		return nil
	}
	entries := t.stbl.Stsd.Stsd.Entries
	if index == 0 || int(index) > len(entries) {
		return nil
	}
	return entries[index-1]
}

// GetSampleByTimestamp returns the number of the sample whose
// [timestamp, timestamp+duration) interval contains ts, via binary
// search over the stts run prefix sums. A timestamp at or beyond the
// track's total duration yields a NoMoreSamples error; one before the
// first sample is InvalidInput.
func (t *Table) GetSampleByTimestamp(ts uint64) (uint32, error) {
	if t.sampleCount == 0 {
		return 0, mp4err.New(mp4err.InvalidState, "empty sample table")
	}
	if ts < t.sttsTime[0] {
		return 0, mp4err.New(mp4err.InvalidInput, "timestamp %d before first sample", ts)
	}
	if ts >= t.sttsTime[len(t.sttsTime)-1] {
		return 0, mp4err.New(mp4err.NoMoreSamples, "timestamp %d at or beyond total duration %d", ts, t.sttsTime[len(t.sttsTime)-1])
	}
	run := sort.Search(len(t.sttsTime)-1, func(i int) bool { return t.sttsTime[i+1] > ts })
	entries := t.stbl.Stts.Stts.Entries
	delta := uint64(0)
	if run < len(entries) {
		delta = uint64(entries[run].SampleDelta)
	}
	var within uint64
	if delta > 0 {
		within = (ts - t.sttsTime[run]) / delta
	}
	maxWithin := t.sttsPrefix[run+1] - t.sttsPrefix[run] - 1
	if within > maxWithin {
		within = maxWithin
	}
	return uint32(t.sttsPrefix[run] + within + 1), nil
}
