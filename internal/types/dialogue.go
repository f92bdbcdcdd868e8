package types

// DialogueLine is one utterance of the generated script. Order is speech
// order and is meaningful everywhere the slice appears.
type DialogueLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// VoiceSegment is the timestamped span of synthesized speech matching one
// dialogue line, as reported by the TTS provider.
type VoiceSegment struct {
	StartTimeSeconds float64 `json:"start_time_seconds"`
	EndTimeSeconds   float64 `json:"end_time_seconds"`
	VoiceID          string  `json:"voice_id,omitempty"`
}

// DialoguePayload is the full parsed LLM response persisted alongside the
// generation as dialogue_<id>.json.
type DialoguePayload struct {
	Dialogue   []DialogueLine `json:"dialogue"`
	References []string       `json:"references"`
	Summary    string         `json:"summary"`
	Title      string         `json:"title"`
}

// SpeechDuration returns the maximum segment end time, which defines the
// total spoken duration.
func SpeechDuration(segments []VoiceSegment) float64 {
	max := 0.0
	for _, s := range segments {
		if s.EndTimeSeconds > max {
			max = s.EndTimeSeconds
		}
	}
	return max
}
