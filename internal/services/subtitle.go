package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/castforge/castforge-backend/internal/types"
)

var stageDirectionRe = regexp.MustCompile(`\[.*?\]`)

const subtitleFadeFloor = 0.3

// BuildSRT renders one subtitle entry per dialogue line, timed by the
// matching voice segment. Lines and segments must align 1:1; callers skip
// subtitles entirely when they do not.
func BuildSRT(dialogue []types.DialogueLine, segments []types.VoiceSegment) (string, error) {
	if len(dialogue) != len(segments) {
		return "", fmt.Errorf("dialogue/segment count mismatch: %d vs %d", len(dialogue), len(segments))
	}

	var b strings.Builder
	for i, line := range dialogue {
		start := segments[i].StartTimeSeconds
		end := segments[i].EndTimeSeconds
		if i == 0 && start < subtitleFadeFloor {
			start = subtitleFadeFloor
		}

		text := strings.TrimSpace(stageDirectionRe.ReplaceAllString(line.Text, ""))

		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", formatSRTTime(start), formatSRTTime(end))
		fmt.Fprintf(&b, "%s\n\n", text)
	}
	return b.String(), nil
}

func formatSRTTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := int(seconds) / 3600
	minutes := (int(seconds) % 3600) / 60
	secs := int(seconds) % 60
	millis := int((seconds - float64(int(seconds))) * 1000)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}
