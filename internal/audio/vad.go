package audio

// VADState is the speech/silence transition reported for a frame
type VADState int

const (
	VADStateNone         VADState = iota // Silence, no transition
	VADStateStartTalking                 // Speech just started
	VADStateTalking                      // Speech continues
	VADStateStopTalking                  // Speech just ended
)

func (s VADState) String() string {
	switch s {
	case VADStateStartTalking:
		return "start_talking"
	case VADStateTalking:
		return "talking"
	case VADStateStopTalking:
		return "stop_talking"
	default:
		return "none"
	}
}

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	SampleRate int // Samples per second of the incoming audio
	Thresh     int // RMS energy threshold for a voiced frame
	SilenceMs  int // Consecutive silence needed to end speech
	VoiceMs    int // Consecutive voice needed to start speech
	Mode       int // -1 for energy only, 0-3 raise the threshold
}

// DefaultVADConfig returns a default VAD configuration for the given rate
func DefaultVADConfig(sampleRate int) *VADConfig {
	return &VADConfig{
		SampleRate: sampleRate,
		Thresh:     400,
		SilenceMs:  700,
		VoiceMs:    60,
		Mode:       -1,
	}
}

// EnergyVAD performs Voice Activity Detection on frame RMS energy
type EnergyVAD struct {
	config    VADConfig
	talking   bool
	voiceMs   float64
	silenceMs float64
}

// NewEnergyVAD creates a new energy based detector
func NewEnergyVAD(config *VADConfig) *EnergyVAD {
	if config == nil {
		config = DefaultVADConfig(8000)
	}
	cfg := *config
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 8000
	}
	return &EnergyVAD{config: cfg}
}

// Process classifies one frame of samples
func (v *EnergyVAD) Process(samples []int16) VADState {
	if len(samples) == 0 {
		if v.talking {
			return VADStateTalking
		}
		return VADStateNone
	}

	frameMs := float64(len(samples)) * 1000 / float64(v.config.SampleRate)
	voiced := CalculateRMS(samples) > v.threshold()

	if !v.talking {
		if !voiced {
			v.voiceMs = 0
			return VADStateNone
		}
		v.voiceMs += frameMs
		if v.voiceMs >= float64(v.config.VoiceMs) {
			v.talking = true
			v.voiceMs = 0
			v.silenceMs = 0
			return VADStateStartTalking
		}
		return VADStateNone
	}

	if voiced {
		v.silenceMs = 0
		return VADStateTalking
	}

	v.silenceMs += frameMs
	if v.silenceMs >= float64(v.config.SilenceMs) {
		v.talking = false
		v.silenceMs = 0
		v.voiceMs = 0
		return VADStateStopTalking
	}
	return VADStateTalking
}

// threshold applies the aggressiveness mode to the energy threshold
func (v *EnergyVAD) threshold() float64 {
	t := float64(v.config.Thresh)
	if v.config.Mode > 0 {
		mode := v.config.Mode
		if mode > 3 {
			mode = 3
		}
		t *= 1 + 0.25*float64(mode)
	}
	return t
}

// SetMode sets the detector aggressiveness
func (v *EnergyVAD) SetMode(mode int) {
	v.config.Mode = mode
}

// SetParam updates a tuning parameter by name. Unknown names are ignored.
func (v *EnergyVAD) SetParam(name string, value int) {
	switch name {
	case "thresh":
		v.config.Thresh = value
	case "silence_ms":
		v.config.SilenceMs = value
	case "voice_ms":
		v.config.VoiceMs = value
	}
}

// Config returns a copy of the current configuration
func (v *EnergyVAD) Config() VADConfig {
	return v.config
}

// Reset resets the detector state
func (v *EnergyVAD) Reset() {
	v.talking = false
	v.voiceMs = 0
	v.silenceMs = 0
}

// IsTalking returns whether speech is currently detected
func (v *EnergyVAD) IsTalking() bool {
	return v.talking
}
