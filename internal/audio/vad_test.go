package audio

import (
	"testing"
)

// 20ms at 16kHz
func frame(amplitude int16) []int16 {
	samples := make([]int16, 320)
	for i := range samples {
		samples[i] = amplitude
	}
	return samples
}

func testVAD() *EnergyVAD {
	return NewEnergyVAD(&VADConfig{
		SampleRate: 16000,
		Thresh:     400,
		SilenceMs:  100,
		VoiceMs:    60,
		Mode:       -1,
	})
}

func TestEnergyVAD_StartTalkingAfterVoiceMs(t *testing.T) {
	vad := testVAD()
	loud := frame(5000)

	// 60ms of voice needs three 20ms frames
	for i := 0; i < 2; i++ {
		if state := vad.Process(loud); state != VADStateNone {
			t.Errorf("Expected none on frame %d, got %s", i, state)
		}
	}
	if state := vad.Process(loud); state != VADStateStartTalking {
		t.Fatalf("Expected start_talking, got %s", state)
	}
	if state := vad.Process(loud); state != VADStateTalking {
		t.Errorf("Expected talking, got %s", state)
	}
	if !vad.IsTalking() {
		t.Error("Expected detector to report talking")
	}
}

func TestEnergyVAD_Silence(t *testing.T) {
	vad := testVAD()
	quiet := frame(10)

	for i := 0; i < 50; i++ {
		if state := vad.Process(quiet); state != VADStateNone {
			t.Errorf("Expected none on frame %d, got %s", i, state)
		}
	}
}

func TestEnergyVAD_StopTalkingAfterSilenceMs(t *testing.T) {
	vad := testVAD()
	for i := 0; i < 3; i++ {
		vad.Process(frame(5000))
	}

	quiet := frame(10)
	// 100ms of silence needs five 20ms frames, the first four still count as talking
	for i := 0; i < 4; i++ {
		if state := vad.Process(quiet); state != VADStateTalking {
			t.Errorf("Expected talking on silent frame %d, got %s", i, state)
		}
	}
	if state := vad.Process(quiet); state != VADStateStopTalking {
		t.Fatalf("Expected stop_talking, got %s", state)
	}
	if state := vad.Process(quiet); state != VADStateNone {
		t.Errorf("Expected none after stop, got %s", state)
	}
}

func TestEnergyVAD_InterruptedVoiceDoesNotStart(t *testing.T) {
	vad := testVAD()

	vad.Process(frame(5000))
	vad.Process(frame(5000))
	vad.Process(frame(10))
	if state := vad.Process(frame(5000)); state != VADStateNone {
		t.Errorf("Expected voice counter to restart after silence, got %s", state)
	}
}

func TestEnergyVAD_SetParamAndMode(t *testing.T) {
	vad := testVAD()
	vad.SetParam("thresh", 2000)
	vad.SetParam("voice_ms", 20)
	vad.SetParam("unknown", 1)

	if state := vad.Process(frame(1000)); state != VADStateNone {
		t.Errorf("Expected raised threshold to reject frame, got %s", state)
	}
	if state := vad.Process(frame(2400)); state != VADStateStartTalking {
		t.Errorf("Expected start_talking with 20ms voice_ms, got %s", state)
	}

	vad.Reset()
	vad.SetMode(3)
	// 2000 * 1.75 = 3500
	if state := vad.Process(frame(3000)); state != VADStateNone {
		t.Errorf("Expected mode 3 to reject frame, got %s", state)
	}

	cfg := vad.Config()
	if cfg.Thresh != 2000 || cfg.VoiceMs != 20 || cfg.Mode != 3 {
		t.Errorf("Unexpected config %+v", cfg)
	}
}

func TestEnergyVAD_Reset(t *testing.T) {
	vad := testVAD()
	for i := 0; i < 3; i++ {
		vad.Process(frame(5000))
	}
	if !vad.IsTalking() {
		t.Fatal("Expected speech to be detected")
	}

	vad.Reset()
	if vad.IsTalking() {
		t.Error("Expected speech state to be false after reset")
	}
}

func TestDefaultVADConfig(t *testing.T) {
	config := DefaultVADConfig(16000)
	if config.Thresh != 400 {
		t.Errorf("Expected default Thresh 400, got %d", config.Thresh)
	}
	if config.SilenceMs != 700 {
		t.Errorf("Expected default SilenceMs 700, got %d", config.SilenceMs)
	}
	if config.VoiceMs != 60 {
		t.Errorf("Expected default VoiceMs 60, got %d", config.VoiceMs)
	}
	if config.Mode != -1 {
		t.Errorf("Expected default Mode -1, got %d", config.Mode)
	}
}

func TestVADState_String(t *testing.T) {
	tests := []struct {
		state    VADState
		expected string
	}{
		{VADStateNone, "none"},
		{VADStateStartTalking, "start_talking"},
		{VADStateTalking, "talking"},
		{VADStateStopTalking, "stop_talking"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if tt.state.String() != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, tt.state.String())
			}
		})
	}
}
