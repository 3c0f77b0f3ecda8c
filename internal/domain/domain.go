package domain

// MeetingStatus is the lifecycle state of a meeting job.
//
// The state machine is monotonic: once a meeting reaches a terminal status
// (completed, failed, stopped) it never returns to running.
type MeetingStatus string

const (
	StatusPending   MeetingStatus = "pending"
	StatusRunning   MeetingStatus = "running"
	StatusCompleted MeetingStatus = "completed"
	StatusFailed    MeetingStatus = "failed"
	StatusStopped   MeetingStatus = "stopped"
)

// Terminal reports whether the status is an end state.
func (s MeetingStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// Meeting is one agent job: a worker container joined to a single meeting URL.
type Meeting struct {
	ID            string        `json:"id"`
	MeetingURL    string        `json:"meeting_url"`
	Status        MeetingStatus `json:"status" enum:"pending,running,completed,failed,stopped"`
	ContainerID   *string       `json:"container_id,omitempty"`
	ConfigJSON    string        `json:"config_json,omitempty"`
	OwnerID       string        `json:"owner_id"`
	STTProvider   string        `json:"stt_provider,omitempty"`
	TTSProvider   string        `json:"tts_provider,omitempty"`
	TTSVoice      string        `json:"tts_voice,omitempty"`
	Language      string        `json:"language,omitempty"`
	StopRequested bool          `json:"stop_requested"`
	Summary       *string       `json:"summary,omitempty"`
	Transcript    *string       `json:"transcript,omitempty"`
	CreatedAt     string        `json:"created_at" format:"date-time"`
	EndedAt       *string       `json:"ended_at,omitempty" format:"date-time"`
}

// ToolBinding is one integration a worker may be given for a meeting.
// Env values may be empty strings, which means "not configured yet".
type ToolBinding struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Command        string            `json:"command"`
	Args           []string          `json:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	DefaultEnabled bool              `json:"default_enabled"`
	Enabled        bool              `json:"enabled"`
	CreatedAt      string            `json:"created_at" format:"date-time"`
	UpdatedAt      string            `json:"updated_at" format:"date-time"`
}

// SegmentKind distinguishes agent speech from human speech.
type SegmentKind string

const (
	SegmentAgent SegmentKind = "agent"
	SegmentHuman SegmentKind = "human"
)

// TranscriptSegment is one utterance reconstructed from worker logs.
type TranscriptSegment struct {
	Timestamp string      `json:"timestamp"`
	Speaker   string      `json:"speaker"`
	Text      string      `json:"text"`
	Kind      SegmentKind `json:"kind" enum:"agent,human"`
}

// Event is one audit entry for a meeting state change.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	MeetingID  string `json:"meeting_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
