package asr

import "encoding/json"

// ResultKind tags what GetResults delivered
type ResultKind int

const (
	ResultPartial ResultKind = iota + 1
	ResultFinal
	ResultNoInput
	ResultStartOfSpeech
)

func (k ResultKind) String() string {
	switch k {
	case ResultPartial:
		return "partial"
	case ResultFinal:
		return "final"
	case ResultNoInput:
		return "no_input"
	case ResultStartOfSpeech:
		return "start_of_speech"
	default:
		return "unknown"
	}
}

// Result is one deliverable pulled from a session.
// Payload is empty for start-of-speech notifications.
type Result struct {
	Kind    ResultKind
	Payload string
}

// More reports whether the caller should expect further results for this segment
func (r Result) More() bool {
	return r.Kind == ResultPartial || r.Kind == ResultStartOfSpeech
}

type transcriptPayload struct {
	Grammar    string  `json:"grammar"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type noInputPayload struct {
	Grammar    string  `json:"grammar"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error"`
}

func formatTranscript(asJSON bool, grammar, text string, confidence float64) string {
	if !asJSON {
		return text
	}
	data, err := json.Marshal(transcriptPayload{Grammar: grammar, Text: text, Confidence: confidence})
	if err != nil {
		return text
	}
	return string(data)
}

func formatNoInput(asJSON bool, grammar string) string {
	if !asJSON {
		return ""
	}
	data, err := json.Marshal(noInputPayload{Grammar: grammar, Error: "no_input"})
	if err != nil {
		return ""
	}
	return string(data)
}
