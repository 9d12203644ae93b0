package live

import (
	"encoding/json"
	"fmt"
	"strings"

	"warmcall/codec"
	"warmcall/tuning"
)

const callModeInstructions = "\n\n## Call mode\n" +
	"- You are on a phone call right now. Speak briefly and naturally.\n" +
	"- Answer in two or three sentences at most.\n" +
	"- When the other person speaks, react right away."

const memoryHeading = "\n\n## What you know about the user\n"

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Parts []part `json:"parts"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type speechConfig struct {
	VoiceConfig  voiceConfig `json:"voiceConfig"`
	LanguageCode string      `json:"languageCode,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities"`
	SpeechConfig       speechConfig `json:"speechConfig"`
}

type automaticActivityDetection struct {
	Disabled                 bool   `json:"disabled"`
	StartOfSpeechSensitivity string `json:"startOfSpeechSensitivity,omitempty"`
	EndOfSpeechSensitivity   string `json:"endOfSpeechSensitivity,omitempty"`
	PrefixPaddingMs          uint32 `json:"prefixPaddingMs,omitempty"`
	SilenceDurationMs        uint32 `json:"silenceDurationMs,omitempty"`
}

type realtimeInputConfig struct {
	AutomaticActivityDetection automaticActivityDetection `json:"automaticActivityDetection"`
}

type emptyObject struct{}

type setup struct {
	Model                    string               `json:"model"`
	GenerationConfig         generationConfig     `json:"generationConfig"`
	SystemInstruction        *content             `json:"systemInstruction,omitempty"`
	RealtimeInputConfig      *realtimeInputConfig `json:"realtimeInputConfig,omitempty"`
	InputAudioTranscription  *emptyObject         `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *emptyObject         `json:"outputAudioTranscription,omitempty"`
}

type clientMessage struct {
	Setup         *setup         `json:"setup,omitempty"`
	RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

type transcription struct {
	Text string `json:"text"`
}

type serverContent struct {
	Interrupted         bool           `json:"interrupted"`
	ModelTurn           *content       `json:"modelTurn"`
	TurnComplete        bool           `json:"turnComplete"`
	InputTranscription  *transcription `json:"inputTranscription"`
	OutputTranscription *transcription `json:"outputTranscription"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete"`
	GoAway        *goAway          `json:"goAway"`
	ServerContent *serverContent   `json:"serverContent"`
}

// handshake is everything the setup message is built from.
type handshake struct {
	Model    string
	Voice    string
	Language string
	Prompt   string
	Memory   string
	Tuning   tuning.Config
	// Detection sends explicit activity-detection thresholds.
	Detection bool
}

func systemInstruction(prompt, memory string) string {
	var b strings.Builder
	b.WriteString(prompt)
	if m := strings.TrimSpace(memory); m != "" {
		b.WriteString(memoryHeading)
		b.WriteString(m)
	}
	b.WriteString(callModeInstructions)
	return b.String()
}

func buildSetup(h handshake) ([]byte, error) {
	s := &setup{
		Model: h.Model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: speechConfig{
				VoiceConfig:  voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: h.Voice}},
				LanguageCode: h.Language,
			},
		},
		SystemInstruction:        &content{Parts: []part{{Text: systemInstruction(h.Prompt, h.Memory)}}},
		InputAudioTranscription:  &emptyObject{},
		OutputAudioTranscription: &emptyObject{},
	}
	if h.Detection {
		s.RealtimeInputConfig = &realtimeInputConfig{
			AutomaticActivityDetection: automaticActivityDetection{
				StartOfSpeechSensitivity: "START_SENSITIVITY_" + string(h.Tuning.StartSensitivity),
				EndOfSpeechSensitivity:   "END_SENSITIVITY_" + string(h.Tuning.EndSensitivity),
				PrefixPaddingMs:          h.Tuning.PrefixPaddingMs,
				SilenceDurationMs:        h.Tuning.SilenceDurationMs,
			},
		}
	}
	data, err := json.Marshal(clientMessage{Setup: s})
	if err != nil {
		return nil, fmt.Errorf("encoding setup: %w", err)
	}
	return data, nil
}

// buildRealtimeInput wraps one block of 16 kHz mono PCM16.
func buildRealtimeInput(pcm []byte) ([]byte, error) {
	msg := clientMessage{RealtimeInput: &realtimeInput{
		MediaChunks: []inlineData{{MIMEType: codec.InputMIMEType, Data: codec.Encode(pcm)}},
	}}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding realtime input: %w", err)
	}
	return data, nil
}

func parseServerMessage(data []byte) (serverMessage, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return serverMessage{}, fmt.Errorf("decoding server message: %w", err)
	}
	return msg, nil
}
