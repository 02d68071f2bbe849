package session

import "time"

// ClinicContext is the caller-facing practice information the assistant may
// speak. Empty fields are omitted from the assistant instructions.
type ClinicContext struct {
	ClinicName string `json:"clinic_name"`
	DoctorName string `json:"doctor_name,omitempty"`
	Address    string `json:"address,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Hours      string `json:"hours,omitempty"`
}

// TurnLatency is the per-phase time spent on one completed turn.
type TurnLatency struct {
	STTMS float64
	LLMMS float64
	TTSMS float64
}

// Session is one live phone call.
type Session struct {
	ID                string        `json:"call_id"`
	TenantID          string        `json:"tenant_id"`
	Caller            string        `json:"caller,omitempty"`
	Clinic            ClinicContext `json:"clinic"`
	Language          string        `json:"language"`
	Status            Status        `json:"status"`
	TurnCount         int           `json:"turn_count"`
	STTTotalMS        float64       `json:"stt_total_ms"`
	LLMTotalMS        float64       `json:"llm_total_ms"`
	TTSTotalMS        float64       `json:"tts_total_ms"`
	TransferRequested bool          `json:"transfer_requested"`
	TransferReason    string        `json:"transfer_reason,omitempty"`
	StartedAt         time.Time     `json:"started_at"`
	LastActivityAt    time.Time     `json:"last_activity_at"`
}

func (s *Session) Active() bool {
	return s != nil && s.Status == StatusActive
}
