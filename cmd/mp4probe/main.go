// Command mp4probe prints track and keyframe-distribution information
// for an MP4 file, driven through the sample table index.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/go-bmff/isobox/demux"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <file.mp4>\n", os.Args[0])
		os.Exit(1)
	}

	f, err := os.Open(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	d := demux.New()
	for {
		req, ok := d.RequiredInput()
		if !ok {
			break
		}
		buf := make([]byte, req.Size)
		if _, err := f.ReadAt(buf, req.Position); err != nil && err != io.EOF {
			fmt.Fprintf(os.Stderr, "error reading at %d: %v\n", req.Position, err)
			os.Exit(1)
		}
		if err := d.HandleInput(demux.Input{Position: req.Position, Data: buf}); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}

	for i, track := range d.Tracks() {
		fmt.Printf("Track %d: id=%d kind=%s timescale=%d\n", i, track.TrackID, track.Kind, track.Timescale)

		samples, err := track.Table.Samples()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error indexing track %d: %v\n", track.TrackID, err)
			continue
		}
		fmt.Printf("  Total samples: %d\n", len(samples))
		if len(samples) > 0 {
			last := samples[len(samples)-1]
			duration := last.Timestamp + uint64(last.Duration)
			fmt.Printf("  Duration: %.2fs\n", float64(duration)/float64(track.Timescale))
		}

		keyframes := 0
		var prevKfTime float64
		var intervals []float64

		fmt.Println("  Keyframes:")
		for j, s := range samples {
			if !s.Sync {
				continue
			}
			pts := float64(int64(s.Timestamp)+int64(s.CompositionOffset)) / float64(track.Timescale)
			if keyframes < 20 {
				fmt.Printf("    [%5d] %.3fs", j, pts)
				if keyframes > 0 {
					interval := pts - prevKfTime
					intervals = append(intervals, interval)
					fmt.Printf(" (%.3fs since last)", interval)
				}
				fmt.Println()
			}
			prevKfTime = pts
			keyframes++
		}
		if keyframes > 20 {
			fmt.Printf("    ... (%d more keyframes)\n", keyframes-20)
		}

		fmt.Printf("\n  Total keyframes: %d\n", keyframes)
		if len(intervals) > 0 {
			fmt.Printf("  Keyframe interval: avg=%.3fs min=%.3fs max=%.3fs\n", average(intervals), minimum(intervals), maximum(intervals))
		}
		fmt.Println()
	}
}

func average(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func minimum(vals []float64) float64 {
	min := vals[0]
	for _, v := range vals {
		if v < min {
			min = v
		}
	}
	return min
}

func maximum(vals []float64) float64 {
	max := vals[0]
	for _, v := range vals {
		if v > max {
			max = v
		}
	}
	return max
}
