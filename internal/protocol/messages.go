// Package protocol defines the JSON frames exchanged on the call stream
// websocket.
package protocol

import (
	"bytes"
	"embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeCallStart  MessageType = "call_start"
	TypeAudioChunk MessageType = "audio_chunk"
	TypeCallStop   MessageType = "call_stop"

	TypeCallAccepted      MessageType = "call_accepted"
	TypeCallRejected      MessageType = "call_rejected"
	TypeTranscript        MessageType = "transcript"
	TypeAssistantAudio    MessageType = "assistant_audio"
	TypeAssistantText     MessageType = "assistant_text"
	TypeTurnSkipped       MessageType = "turn_skipped"
	TypeTransferRequested MessageType = "transfer_requested"
	TypeCallEnded         MessageType = "call_ended"
	TypeErrorEvent        MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	callStartSchema  = mustCompile("call_start.json")
	audioChunkSchema = mustCompile("audio_chunk.json")
)

func mustCompile(name string) *jsonschema.Schema {
	raw, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		panic(fmt.Sprintf("read schema %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return schema
}

type Envelope struct {
	Type MessageType `json:"type"`
}

type Clinic struct {
	ClinicName string `json:"clinic_name,omitempty"`
	DoctorName string `json:"doctor_name,omitempty"`
	Address    string `json:"address,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Hours      string `json:"hours,omitempty"`
}

// CallStart opens a call. CallID is optional; the server generates one when
// it is empty.
type CallStart struct {
	Type               MessageType `json:"type"`
	CallID             string      `json:"call_id,omitempty"`
	TenantID           string      `json:"tenant_id"`
	Caller             string      `json:"caller,omitempty"`
	Language           string      `json:"language,omitempty"`
	SampleRate         int         `json:"sample_rate,omitempty"`
	CustomInstructions string      `json:"custom_instructions,omitempty"`
	Clinic             Clinic      `json:"clinic,omitempty"`
}

// AudioChunk carries PCM16 audio. Chunks accumulate until one arrives with
// Commit set, which closes the utterance and runs a turn.
type AudioChunk struct {
	Type        MessageType `json:"type"`
	CallID      string      `json:"call_id,omitempty"`
	Seq         int         `json:"seq,omitempty"`
	PCM16Base64 string      `json:"pcm16_base64,omitempty"`
	Commit      bool        `json:"commit,omitempty"`
}

// PCM decodes the chunk payload.
func (c AudioChunk) PCM() ([]byte, error) {
	if c.PCM16Base64 == "" {
		return nil, nil
	}
	pcm, err := base64.StdEncoding.DecodeString(c.PCM16Base64)
	if err != nil {
		return nil, fmt.Errorf("decode pcm16_base64: %w", err)
	}
	return pcm, nil
}

type CallStop struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"call_id,omitempty"`
}

type CallAccepted struct {
	Type       MessageType `json:"type"`
	CallID     string      `json:"call_id"`
	Language   string      `json:"language"`
	SampleRate int         `json:"sample_rate"`
}

type CallRejected struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"call_id,omitempty"`
	Reason string      `json:"reason"`
	Detail string      `json:"detail,omitempty"`
}

type Transcript struct {
	Type         MessageType `json:"type"`
	CallID       string      `json:"call_id"`
	TurnID       string      `json:"turn_id"`
	Text         string      `json:"text"`
	TriageLevel  string      `json:"triage_level"`
	Tier         string      `json:"tier"`
	STTLatencyMS float64     `json:"stt_latency_ms"`
}

type AssistantAudio struct {
	Type        MessageType `json:"type"`
	CallID      string      `json:"call_id"`
	TurnID      string      `json:"turn_id"`
	Seq         int         `json:"seq"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
}

type AssistantText struct {
	Type      MessageType `json:"type"`
	CallID    string      `json:"call_id"`
	TurnID    string      `json:"turn_id"`
	Text      string      `json:"text"`
	LatencyMS float64     `json:"latency_ms"`
}

type TurnSkipped struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"call_id"`
	TurnID string      `json:"turn_id"`
	Reason string      `json:"reason"`
}

type TransferRequested struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"call_id"`
	Reason string      `json:"reason"`
}

type CallEnded struct {
	Type              MessageType `json:"type"`
	CallID            string      `json:"call_id"`
	Reason            string      `json:"reason"`
	DurationSeconds   float64     `json:"duration_seconds"`
	TurnCount         int         `json:"turn_count"`
	TransferRequested bool        `json:"transfer_requested"`
	TransferReason    string      `json:"transfer_reason,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	CallID    string      `json:"call_id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes one inbound frame into CallStart, AudioChunk or
// CallStop. call_start and audio_chunk frames are schema-validated first.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeCallStart:
		if err := validate(callStartSchema, raw); err != nil {
			return nil, fmt.Errorf("invalid call_start: %w", err)
		}
		var msg CallStart
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAudioChunk:
		if err := validate(audioChunkSchema, raw); err != nil {
			return nil, fmt.Errorf("invalid audio_chunk: %w", err)
		}
		var msg AudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if _, err := msg.PCM(); err != nil {
			return nil, fmt.Errorf("invalid audio_chunk: %w", err)
		}
		return msg, nil
	case TypeCallStop:
		var msg CallStop
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

func validate(schema *jsonschema.Schema, raw []byte) error {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return schema.Validate(payload)
}
