package types

// TranscriptionResult represents the output of a transcription engine run.
type TranscriptionResult struct {
	Text                string       `json:"text"`
	Language            string       `json:"language"`
	LanguageProbability float64      `json:"language_probability,omitempty"`
	Duration            float64      `json:"duration"`
	Segments            []Segment    `json:"segments"`
	Model               string       `json:"model,omitempty"`
	ProcessingTime      float64      `json:"processing_time,omitempty"`
	WordCount           int          `json:"word_count,omitempty"`
	Diarization         *Diarization `json:"diarization,omitempty"`
}

// Segment represents a timestamped segment of transcription
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Diarization summarises the speaker labels assigned to segments.
type Diarization struct {
	Speakers []string `json:"speakers"`
}
