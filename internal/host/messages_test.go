package host

import (
	"testing"
)

func TestDecodeControl(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		check   func(t *testing.T, msg *ControlMessage)
		wantErr bool
	}{
		{
			name:  "open weakly typed",
			input: `{"type":"OPEN","codec":"PCMU","rate":"16000","auto-resume":"true","channel_uuid":"abc","params":{"vad-thresh":300,"partial":true}}`,
			check: func(t *testing.T, msg *ControlMessage) {
				if msg.Type != MsgOpen {
					t.Errorf("Expected type open, got %s", msg.Type)
				}
				if msg.Rate != 16000 {
					t.Errorf("Expected rate 16000, got %d", msg.Rate)
				}
				if !msg.AutoResume {
					t.Error("Expected auto resume")
				}
				if msg.ChannelUUID != "abc" {
					t.Errorf("Expected channel abc, got %s", msg.ChannelUUID)
				}
				if msg.Params["vad-thresh"] != "300" {
					t.Errorf("Expected vad-thresh '300', got %q", msg.Params["vad-thresh"])
				}
				if msg.Params["partial"] != "1" {
					t.Errorf("Expected partial '1', got %q", msg.Params["partial"])
				}
			},
		},
		{
			name:  "param numeric value",
			input: `{"type":"param","name":"speech-timeout","value":100}`,
			check: func(t *testing.T, msg *ControlMessage) {
				if msg.Name != "speech-timeout" || msg.Value != "100" {
					t.Errorf("Expected speech-timeout=100, got %s=%s", msg.Name, msg.Value)
				}
			},
		},
		{name: "missing type", input: `{"name":"x"}`, wantErr: true},
		{name: "not json", input: `hello`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeControl([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeControl failed: %v", err)
			}
			tt.check(t, msg)
		})
	}
}
