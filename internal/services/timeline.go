package services

import "github.com/castforge/castforge-backend/internal/types"

const (
	coverHoldSeconds = 1.0
	minSlideSeconds  = 0.5
	// Trailing silence appended to the voice track; the slideshow covers it.
	tailPadSeconds = 2.0
)

// ImageDurations splits the audio timeline across numImages slides. When
// there are at least as many voice segments as slides, each slide covers a
// contiguous group of segments and holds from the group's first spoken word to
// its last. Otherwise the padded audio length is divided evenly.
func ImageDurations(audioDuration float64, segments []types.VoiceSegment, numImages int) []float64 {
	if numImages <= 0 {
		return nil
	}

	if len(segments) >= numImages && len(segments) > 0 {
		durations := make([]float64, 0, numImages)
		perImage := float64(len(segments)) / float64(numImages)

		// Groups partition the segment index space: group i holds indices
		// [i*perImage, (i+1)*perImage), so no segment is counted twice.
		for i := 0; i < numImages; i++ {
			startIdx := int(float64(i) * perImage)
			endIdx := int(float64(i+1)*perImage) - 1
			if i == numImages-1 {
				endIdx = len(segments) - 1
			}
			if endIdx < startIdx {
				endIdx = startIdx
			}

			d := segments[endIdx].EndTimeSeconds - segments[startIdx].StartTimeSeconds
			if d < minSlideSeconds {
				d = minSlideSeconds
			}
			durations = append(durations, d)
		}

		durations[len(durations)-1] += tailPadSeconds
		return durations
	}

	base := (audioDuration + tailPadSeconds) / float64(numImages)
	durations := make([]float64, numImages)
	for i := range durations {
		durations[i] = base
	}
	return durations
}

// CoverTiming carves the cover's hold out of the first slide so prepending the
// cover does not stretch the total runtime. The cover stays a separate opening
// frame rather than a slide, so only the durations change.
func CoverTiming(durations []float64) (float64, []float64) {
	if len(durations) == 0 {
		return coverHoldSeconds, nil
	}

	first := durations[0] - coverHoldSeconds
	if first < minSlideSeconds {
		first = minSlideSeconds
	}

	adjusted := make([]float64, 0, len(durations))
	adjusted = append(adjusted, first)
	adjusted = append(adjusted, durations[1:]...)
	return coverHoldSeconds, adjusted
}
