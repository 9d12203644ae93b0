package live

import (
	"encoding/json"
	"strings"
	"testing"

	"warmcall/codec"
	"warmcall/tuning"
)

func TestBuildSetup(t *testing.T) {
	data, err := buildSetup(handshake{
		Model:    DefaultModel,
		Voice:    "Puck",
		Language: "ko-KR",
		Prompt:   "You are a warm companion.",
		Memory:   "Likes hiking.",
		Tuning:   tuning.DefaultConfig(),
	})
	if err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	setup := got["setup"].(map[string]any)
	if setup["model"] != DefaultModel {
		t.Errorf("model = %v", setup["model"])
	}
	gen := setup["generationConfig"].(map[string]any)
	if mods := gen["responseModalities"].([]any); len(mods) != 1 || mods[0] != "AUDIO" {
		t.Errorf("modalities = %v", mods)
	}
	speech := gen["speechConfig"].(map[string]any)
	if speech["languageCode"] != "ko-KR" {
		t.Errorf("language = %v", speech["languageCode"])
	}
	voice := speech["voiceConfig"].(map[string]any)["prebuiltVoiceConfig"].(map[string]any)["voiceName"]
	if voice != "Puck" {
		t.Errorf("voice = %v", voice)
	}
	text := setup["systemInstruction"].(map[string]any)["parts"].([]any)[0].(map[string]any)["text"].(string)
	if !strings.HasPrefix(text, "You are a warm companion.") || !strings.Contains(text, "Likes hiking.") {
		t.Errorf("instruction = %q", text)
	}
	if !strings.HasSuffix(text, callModeInstructions) {
		t.Error("call mode instructions missing")
	}
	for _, k := range []string{"inputAudioTranscription", "outputAudioTranscription"} {
		if _, ok := setup[k]; !ok {
			t.Errorf("%s not requested", k)
		}
	}
	if _, ok := setup["realtimeInputConfig"]; ok {
		t.Error("activity detection sent with default tuning")
	}
}

func TestBuildSetupDetection(t *testing.T) {
	cfg := tuning.DefaultConfig()
	cfg.StartSensitivity = tuning.SensitivityLow
	cfg.SilenceDurationMs = 1200
	data, err := buildSetup(handshake{Model: DefaultModel, Tuning: cfg, Detection: true})
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, want := range []string{
		`"startOfSpeechSensitivity":"START_SENSITIVITY_LOW"`,
		`"endOfSpeechSensitivity":"END_SENSITIVITY_HIGH"`,
		`"silenceDurationMs":1200`,
		`"prefixPaddingMs":20`,
		`"disabled":false`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("setup missing %s:\n%s", want, s)
		}
	}
}

func TestSystemInstructionWithoutMemory(t *testing.T) {
	got := systemInstruction("Be kind.", "  ")
	if strings.Contains(got, memoryHeading) {
		t.Errorf("empty memory added a heading: %q", got)
	}
	if got != "Be kind."+callModeInstructions {
		t.Errorf("got %q", got)
	}
}

func TestBuildRealtimeInput(t *testing.T) {
	pcm := []byte{1, 0, 2, 0}
	data, err := buildRealtimeInput(pcm)
	if err != nil {
		t.Fatal(err)
	}
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	chunks := msg.RealtimeInput.MediaChunks
	if len(chunks) != 1 || chunks[0].MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("chunks = %+v", chunks)
	}
	if got, _ := codec.Decode(chunks[0].Data); string(got) != string(pcm) {
		t.Errorf("payload = %v", got)
	}
}

func TestParseServerMessage(t *testing.T) {
	msg, err := parseServerMessage([]byte(`{"setupComplete":{}}`))
	if err != nil || msg.SetupComplete == nil {
		t.Errorf("setupComplete not recognized: %+v %v", msg, err)
	}

	msg, err = parseServerMessage([]byte(`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AAA="}},{"text":"hi"}]},"inputTranscription":{"text":"hello"},"turnComplete":true}}`))
	if err != nil {
		t.Fatal(err)
	}
	sc := msg.ServerContent
	if sc == nil || len(sc.ModelTurn.Parts) != 2 || !sc.TurnComplete || sc.InputTranscription.Text != "hello" {
		t.Errorf("serverContent = %+v", sc)
	}
	if sc.ModelTurn.Parts[1].Text != "hi" || sc.ModelTurn.Parts[0].InlineData.MIMEType != "audio/pcm;rate=24000" {
		t.Errorf("parts = %+v", sc.ModelTurn.Parts)
	}

	msg, err = parseServerMessage([]byte(`{"goAway":{"timeLeft":"10s"}}`))
	if err != nil || msg.GoAway == nil || msg.GoAway.TimeLeft != "10s" {
		t.Errorf("goAway = %+v %v", msg.GoAway, err)
	}

	if _, err := parseServerMessage([]byte(`{oops`)); err == nil {
		t.Error("expected error for malformed json")
	}
}
