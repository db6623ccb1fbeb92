package asr

import (
	"strconv"
	"strings"
)

// Parameter names understood by SetParameter
const (
	ParamNoInputTimeout   = "no-input-timeout"
	ParamSpeechTimeout    = "speech-timeout"
	ParamStartInputTimers = "start-input-timers"
	ParamVADMode          = "vad-mode"
	ParamVADVoiceMs       = "vad-voice-ms"
	ParamVADSilenceMs     = "vad-silence-ms"
	ParamVADThresh        = "vad-thresh"
	ParamChannelUUID      = "channel-uuid"
	ParamResult           = "result"
	ParamConfidence       = "confidence"
	ParamPartial          = "partial"
)

// SetParameter tunes the session at runtime. Names are case-insensitive;
// unknown names, empty values and out-of-range values are ignored. Only a
// closed session yields an error.
func (s *Session) SetParameter(name, value string) error {
	if s.closed.Load() {
		s.log().Error().Str("name", name).Msg("set_parameter attempt on closed session")
		return ErrClosed
	}
	if name == "" || value == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nval := atoi(value)

	switch strings.ToLower(name) {
	case ParamNoInputTimeout:
		if !isNumber(value) {
			return nil
		}
		s.noInputTimeout = nval
		s.log().Debug().Int(ParamNoInputTimeout, nval).Msg("Parameter set")

	case ParamSpeechTimeout:
		if !isNumber(value) {
			return nil
		}
		s.speechTimeout = nval
		s.log().Debug().Int(ParamSpeechTimeout, nval).Msg("Parameter set")

	case ParamStartInputTimers:
		s.startInputTimers = isTrue(value)
		s.inputTimers = s.startInputTimers
		s.log().Debug().Bool(ParamStartInputTimers, s.startInputTimers).Msg("Parameter set")

	case ParamVADMode:
		if s.vad != nil {
			s.vad.SetMode(nval)
		}
		s.log().Debug().Str(ParamVADMode, value).Msg("Parameter set")

	case ParamVADVoiceMs:
		if nval <= 0 {
			return nil
		}
		s.voiceMs = nval
		s.tuneDetector("voice_ms", nval)

	case ParamVADSilenceMs:
		if nval <= 0 {
			return nil
		}
		s.silenceMs = nval
		s.tuneDetector("silence_ms", nval)

	case ParamVADThresh:
		if nval <= 0 {
			return nil
		}
		s.thresh = nval
		s.tuneDetector("thresh", nval)

	case ParamChannelUUID:
		s.setChannelID(value)
		s.log().Debug().Msg("Parameter set")

	case ParamResult:
		s.resultText = value
		s.log().Debug().Str(ParamResult, value).Msg("Parameter set")

	case ParamConfidence:
		fval, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || fval < 0 {
			return nil
		}
		s.resultConfidence = fval
		s.log().Debug().Float64(ParamConfidence, fval).Msg("Parameter set")

	case ParamPartial:
		if !isTrue(value) {
			return nil
		}
		s.partialBudget = s.partialCount
		s.log().Debug().Int(ParamPartial, s.partialBudget).Msg("Parameter set")
	}
	return nil
}

func (s *Session) tuneDetector(name string, value int) {
	if s.vad != nil {
		s.vad.SetParam(name, value)
	}
	s.log().Debug().Int(name, value).Msg("Detector parameter set")
}

// isNumber accepts an optionally signed decimal number
func isNumber(value string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	return err == nil
}

// atoi parses the leading integer of value, returning 0 when there is none
func atoi(value string) int {
	value = strings.TrimSpace(value)
	end := 0
	if end < len(value) && (value[end] == '-' || value[end] == '+') {
		end++
	}
	for end < len(value) && value[end] >= '0' && value[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(value[:end])
	if err != nil {
		return 0
	}
	return n
}

// isTrue reports whether value reads as an affirmative switch
func isTrue(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "on", "true", "t", "enabled", "active", "allow":
		return true
	}
	return atoi(value) != 0
}
