package server

import (
	"sort"

	"huddle/internal/domain"
)

type SpawnMeetingRequest struct {
	MeetingURL  string   `json:"meeting_url" example:"https://meet.google.com/abc-defg-hij"`
	OwnerID     string   `json:"owner_id" example:"user-1"`
	STTProvider string   `json:"stt_provider,omitempty" example:"deepgram"`
	TTSProvider string   `json:"tts_provider,omitempty" example:"elevenlabs"`
	TTSVoice    string   `json:"tts_voice,omitempty"`
	Language    string   `json:"language,omitempty" example:"en"`
	ToolIDs     []string `json:"tool_ids,omitempty"`
}

type MeetingResponse struct {
	ID          string  `json:"id"`
	MeetingURL  string  `json:"meeting_url"`
	Status      string  `json:"status"`
	ContainerID *string `json:"container_id,omitempty"`
	OwnerID     string  `json:"owner_id"`
	STTProvider string  `json:"stt_provider,omitempty"`
	TTSProvider string  `json:"tts_provider,omitempty"`
	TTSVoice    string  `json:"tts_voice,omitempty"`
	Language    string  `json:"language,omitempty"`
	Summary     *string `json:"summary,omitempty"`
	CreatedAt   string  `json:"created_at"`
	EndedAt     *string `json:"ended_at,omitempty"`
}

func meetingResponse(m domain.Meeting) MeetingResponse {
	return MeetingResponse{
		ID:          m.ID,
		MeetingURL:  m.MeetingURL,
		Status:      string(m.Status),
		ContainerID: m.ContainerID,
		OwnerID:     m.OwnerID,
		STTProvider: m.STTProvider,
		TTSProvider: m.TTSProvider,
		TTSVoice:    m.TTSVoice,
		Language:    m.Language,
		Summary:     m.Summary,
		CreatedAt:   m.CreatedAt,
		EndedAt:     m.EndedAt,
	}
}

func meetingResponses(items []domain.Meeting) []MeetingResponse {
	res := make([]MeetingResponse, 0, len(items))
	for _, m := range items {
		res = append(res, meetingResponse(m))
	}
	return res
}

type TranscriptResponse struct {
	Segments  []domain.TranscriptSegment `json:"segments"`
	ToolUsage map[string]int             `json:"tool_usage"`
}

type ReportTranscriptRequest struct {
	Transcript *string `json:"transcript,omitempty"`
	Summary    *string `json:"summary,omitempty"`
}

type EventResponse struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts"`
	Type      string `json:"type"`
	MeetingID string `json:"meeting_id,omitempty"`
	ActorID   string `json:"actor_id"`
	Payload   string `json:"payload_json"`
}

func eventResponses(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, EventResponse{
			ID:        e.ID,
			TS:        e.TS,
			Type:      e.Type,
			MeetingID: e.MeetingID,
			ActorID:   e.ActorID,
			Payload:   e.Payload,
		})
	}
	return res
}

type CreateToolRequest struct {
	Name           string            `json:"name" example:"Brave Search"`
	Command        string            `json:"command" example:"npx"`
	Args           []string          `json:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	DefaultEnabled bool              `json:"default_enabled,omitempty"`
}

type ToolResponse struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Command        string   `json:"command"`
	Args           []string `json:"args,omitempty"`
	EnvKeys        []string `json:"env_keys,omitempty"`
	DefaultEnabled bool     `json:"default_enabled"`
	Enabled        bool     `json:"enabled"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

// toolResponse exposes env keys only; values are secrets and never leave
// the store through the API.
func toolResponse(tb domain.ToolBinding) ToolResponse {
	keys := make([]string, 0, len(tb.Env))
	for k := range tb.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return ToolResponse{
		ID:             tb.ID,
		Name:           tb.Name,
		Command:        tb.Command,
		Args:           tb.Args,
		EnvKeys:        keys,
		DefaultEnabled: tb.DefaultEnabled,
		Enabled:        tb.Enabled,
		CreatedAt:      tb.CreatedAt,
		UpdatedAt:      tb.UpdatedAt,
	}
}
