package stream

// Server→client event types. All events are JSON text frames; the client
// correlates follow-up events with their transcript via SegmentID.
const (
	typeVADStart            = "vad_start"
	typeVADCommit           = "vad_commit"
	typeTranscript          = "transcript"
	typeTranscriptCorrected = "transcript_corrected"
	typeTranslation         = "translation"
)

// vadStartEvent announces that speech has begun.
type vadStartEvent struct {
	Type string `json:"type"`
}

// vadCommitEvent announces a finished utterance and its total duration.
type vadCommitEvent struct {
	Type       string  `json:"type"`
	DurationMs float64 `json:"duration_ms"`
}

// segmentEvent carries a transcript, a corrected transcript, or a
// translation. SourceText is set only on the follow-up events. DurationMs
// is the whole utterance's duration, not the span of this segment.
type segmentEvent struct {
	Type       string  `json:"type"`
	SegmentID  uint64  `json:"segment_id"`
	Text       string  `json:"text"`
	SourceText string  `json:"source_text,omitempty"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	DurationMs float64 `json:"duration_ms"`
}

// configMessage is the client→server configuration frame. Pointer fields
// distinguish "absent" from "set to empty": any subset may be present and
// missing fields retain their prior values.
type configMessage struct {
	Type           string  `json:"type"`
	Language       *string `json:"language"`
	TargetLanguage *string `json:"target_language"`
	ExtraContext   *string `json:"extra_context"`
}
