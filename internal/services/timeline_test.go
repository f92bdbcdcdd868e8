package services

import (
	"math"
	"testing"

	"github.com/castforge/castforge-backend/internal/types"
)

func seg(start, end float64) types.VoiceSegment {
	return types.VoiceSegment{StartTimeSeconds: start, EndTimeSeconds: end}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestImageDurations(t *testing.T) {
	sixSegments := []types.VoiceSegment{
		seg(0, 3), seg(3, 6), seg(6, 10), seg(10, 13), seg(13, 17), seg(17, 20),
	}

	cases := []struct {
		name     string
		audio    float64
		segments []types.VoiceSegment
		n        int
		want     []float64
	}{
		{
			name:     "zero_images",
			audio:    20,
			segments: sixSegments,
			n:        0,
			want:     nil,
		},
		{
			name:     "negative_images",
			audio:    20,
			segments: sixSegments,
			n:        -2,
			want:     nil,
		},
		{
			name:     "segment_groups_with_tail_pad",
			audio:    20,
			segments: sixSegments,
			n:        3,
			want:     []float64{6, 7, 9},
		},
		{
			name:     "one_image_spans_everything",
			audio:    20,
			segments: sixSegments,
			n:        1,
			want:     []float64{22},
		},
		{
			name:     "uniform_fallback_without_segments",
			audio:    18,
			segments: nil,
			n:        4,
			want:     []float64{5, 5, 5, 5},
		},
		{
			name:     "uniform_fallback_more_images_than_segments",
			audio:    10,
			segments: []types.VoiceSegment{seg(0, 10)},
			n:        3,
			want:     []float64{4, 4, 4},
		},
		{
			name:     "tiny_group_floored",
			audio:    0.4,
			segments: []types.VoiceSegment{seg(0, 0.1), seg(0.1, 0.2)},
			n:        2,
			want:     []float64{0.5, 0.5 + 2.0},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ImageDurations(tc.audio, tc.segments, tc.n)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d durations, want %d: %v", len(got), len(tc.want), got)
			}
			for i := range got {
				if !almostEqual(got[i], tc.want[i]) {
					t.Fatalf("duration[%d]=%v, want %v (all: %v)", i, got[i], tc.want[i], got)
				}
			}
		})
	}
}

func TestImageDurationsInvariants(t *testing.T) {
	segments := []types.VoiceSegment{
		seg(0, 2.5), seg(2.5, 7), seg(7, 9), seg(9, 14.5), seg(14.5, 21), seg(21, 26), seg(26, 30),
	}
	audio := 30.0

	for n := 1; n <= len(segments); n++ {
		got := ImageDurations(audio, segments, n)
		if len(got) != n {
			t.Fatalf("n=%d: got %d durations", n, len(got))
		}
		sum := 0.0
		for i, d := range got {
			if d < 0.5 {
				t.Fatalf("n=%d: duration[%d]=%v below floor", n, i, d)
			}
			sum += d
		}
		if sum < audio+2.0-1e-9 {
			t.Fatalf("n=%d: sum(durations)=%v below audio+pad %v", n, sum, audio+2.0)
		}
	}
}

func TestCoverTiming(t *testing.T) {
	t.Run("borrows_hold_time_from_first_slide", func(t *testing.T) {
		coverDur, durations := CoverTiming([]float64{6, 7})
		if !almostEqual(coverDur, 1.0) {
			t.Fatalf("coverDur=%v, want 1.0", coverDur)
		}
		wantDurations := []float64{5.0, 7.0}
		if len(durations) != len(wantDurations) {
			t.Fatalf("got %v", durations)
		}
		for i := range wantDurations {
			if !almostEqual(durations[i], wantDurations[i]) {
				t.Fatalf("durations=%v, want %v", durations, wantDurations)
			}
		}
	})

	t.Run("first_slide_never_below_floor", func(t *testing.T) {
		_, durations := CoverTiming([]float64{1.2})
		if !almostEqual(durations[0], 0.5) {
			t.Fatalf("durations=%v, want first slide floored at 0.5", durations)
		}
	})

	t.Run("cover_only_when_no_slides", func(t *testing.T) {
		coverDur, durations := CoverTiming(nil)
		if !almostEqual(coverDur, 1.0) {
			t.Fatalf("coverDur=%v", coverDur)
		}
		if len(durations) != 0 {
			t.Fatalf("durations=%v", durations)
		}
	})
}
