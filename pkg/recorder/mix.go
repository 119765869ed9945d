package recorder

import (
	"math"

	"github.com/harunnryd/callrelay/pkg/codec"
)

// headroomSamples is appended after the last chunk of every recording.
const headroomSamples = codec.SampleRate

// Mix sums all chunks onto one timeline and clamps the result to int16.
//
// The output spans the latest-starting chunk (the longest one on a tie) plus
// one second, and never less than the furthest chunk end, so every sample of
// every chunk is kept. The result does not depend on chunk order.
func Mix(chunks []Chunk) []int16 {
	if len(chunks) == 0 {
		return nil
	}
	last := chunks[0]
	var maxEnd int64
	for _, c := range chunks {
		if c.TimestampMS > last.TimestampMS ||
			(c.TimestampMS == last.TimestampMS && len(c.Samples) > len(last.Samples)) {
			last = c
		}
		if end := codec.SampleOffset(c.TimestampMS) + int64(len(c.Samples)); end > maxEnd {
			maxEnd = end
		}
	}
	total := codec.SampleOffset(last.TimestampMS+codec.DurationMS(len(last.Samples))) + headroomSamples
	if maxEnd > total {
		total = maxEnd
	}

	acc := make([]int32, total)
	for _, c := range chunks {
		start := codec.SampleOffset(c.TimestampMS)
		for i, s := range c.Samples {
			idx := start + int64(i)
			if idx < 0 {
				continue
			}
			acc[idx] += int32(s)
		}
	}

	out := make([]int16, total)
	for i, v := range acc {
		switch {
		case v > math.MaxInt16:
			out[i] = math.MaxInt16
		case v < math.MinInt16:
			out[i] = math.MinInt16
		default:
			out[i] = int16(v)
		}
	}
	return out
}
