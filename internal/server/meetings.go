package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"huddle/internal/engine"
)

func registerMeetings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "spawn-meeting",
		Method:        http.MethodPost,
		Path:          "/meetings",
		Summary:       "Spawn a meeting agent",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusBadGateway,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body SpawnMeetingRequest `json:"body"`
	}) (*struct {
		Body MeetingResponse `json:"body"`
	}, error) {
		m, err := e.Spawn(ctx, engine.SpawnOptions{
			MeetingURL:  input.Body.MeetingURL,
			OwnerID:     input.Body.OwnerID,
			STTProvider: input.Body.STTProvider,
			TTSProvider: input.Body.TTSProvider,
			TTSVoice:    input.Body.TTSVoice,
			Language:    input.Body.Language,
			ToolIDs:     input.Body.ToolIDs,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MeetingResponse `json:"body"`
		}{Body: meetingResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-meetings",
		Method:      http.MethodGet,
		Path:        "/meetings",
		Summary:     "List meetings, reconciled against the runtime",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		OwnerID string `query:"owner_id" example:"user-1"`
	}) (*struct {
		Body []MeetingResponse `json:"body"`
	}, error) {
		items, err := e.ReconcileAndList(ctx, input.OwnerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []MeetingResponse `json:"body"`
		}{Body: meetingResponses(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-meeting",
		Method:      http.MethodGet,
		Path:        "/meetings/{meeting_id}",
		Summary:     "Get one meeting",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		MeetingID string `path:"meeting_id"`
	}) (*struct {
		Body MeetingResponse `json:"body"`
	}, error) {
		m, err := e.Get(ctx, input.MeetingID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MeetingResponse `json:"body"`
		}{Body: meetingResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stop-meeting",
		Method:      http.MethodPost,
		Path:        "/meetings/{meeting_id}/stop",
		Summary:     "Stop a running meeting agent",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		MeetingID string `path:"meeting_id"`
		Body      struct {
			ActorID string `json:"actor_id,omitempty"`
		} `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body MeetingResponse `json:"body"`
	}, error) {
		actor := input.Body.ActorID
		if actor == "" {
			actor = "api"
		}
		m, err := e.Stop(ctx, input.MeetingID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MeetingResponse `json:"body"`
		}{Body: meetingResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "meeting-logs",
		Method:      http.MethodGet,
		Path:        "/meetings/{meeting_id}/logs",
		Summary:     "Raw worker logs",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		MeetingID string `path:"meeting_id"`
	}) (*struct {
		Body struct {
			Logs string `json:"logs"`
		} `json:"body"`
	}, error) {
		text, err := e.FetchLogs(ctx, input.MeetingID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Logs string `json:"logs"`
			} `json:"body"`
		}{}
		resp.Body.Logs = text
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "meeting-transcript",
		Method:      http.MethodGet,
		Path:        "/meetings/{meeting_id}/transcript",
		Summary:     "Structured transcript and tool usage",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		MeetingID string `path:"meeting_id"`
	}) (*struct {
		Body TranscriptResponse `json:"body"`
	}, error) {
		segments, usage, err := e.FetchTranscript(ctx, input.MeetingID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TranscriptResponse `json:"body"`
		}{Body: TranscriptResponse{Segments: segments, ToolUsage: usage}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "meeting-events",
		Method:      http.MethodGet,
		Path:        "/meetings/{meeting_id}/events",
		Summary:     "Audit events for a meeting",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		MeetingID string `path:"meeting_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetMeeting(ctx, input.MeetingID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListEvents(ctx, input.MeetingID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: eventResponses(items)}, nil
	})
}

// registerTranscriptCallback is the endpoint workers post their results to
// when the meeting ends. It is authenticated by the per-meeting token the
// launcher minted, not by user auth.
func registerTranscriptCallback(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "report-transcript",
		Method:      http.MethodPost,
		Path:        "/meetings/{meeting_id}/transcript",
		Summary:     "Worker callback: store transcript and summary",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		MeetingID     string `path:"meeting_id"`
		Authorization string `header:"Authorization"`
		Body          ReportTranscriptRequest `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := verifyCallbackToken(input.Authorization, e.Config.Auth.CallbackSecret, input.MeetingID); err != nil {
			return nil, handleError(err)
		}
		if err := e.ReportResults(ctx, input.MeetingID, input.Body.Transcript, input.Body.Summary); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "stored"}}, nil
	})
}
