// Package engine implements the meeting-job operations: spawning workers,
// reconciling their lifecycle against the container runtime, stopping them,
// and turning their logs into transcripts.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"huddle/internal/config"
	"huddle/internal/domain"
	"huddle/internal/events"
	"huddle/internal/launcher"
	"huddle/internal/logs"
	"huddle/internal/repo"
	"huddle/internal/runtime"
	"huddle/internal/sandbox"
	"huddle/internal/transcript"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Runtime  runtime.Runtime
	Logs     logs.Searcher
	Launcher launcher.Launcher
	Log      *zap.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, rt runtime.Runtime, searcher logs.Searcher, log *zap.Logger) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Runtime:  rt,
		Logs:     searcher,
		Launcher: launcher.Launcher{Cfg: cfg},
		Log:      log,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

// SpawnOptions are the parameters for starting one meeting job.
type SpawnOptions struct {
	MeetingURL  string
	OwnerID     string
	STTProvider string
	TTSProvider string
	TTSVoice    string
	Language    string
	// ToolIDs restricts the sandbox to specific bindings. Empty means
	// every globally enabled binding.
	ToolIDs []string
}

// Spawn materializes a sandbox, launches a worker container, and persists
// the meeting as running. If anything up to container start fails, no
// meeting row exists afterwards.
func (e Engine) Spawn(ctx context.Context, opts SpawnOptions) (domain.Meeting, error) {
	if strings.TrimSpace(opts.MeetingURL) == "" {
		return domain.Meeting{}, fmt.Errorf("meeting url is required")
	}
	if opts.OwnerID == "" {
		return domain.Meeting{}, fmt.Errorf("owner id is required")
	}
	if opts.STTProvider == "" {
		opts.STTProvider = e.Config.Worker.DefaultSTT
	}
	if opts.TTSProvider == "" {
		opts.TTSProvider = e.Config.Worker.DefaultTTS
	}
	if opts.Language == "" {
		opts.Language = e.Config.Worker.DefaultLang
	}

	id := uuid.NewString()

	bindings, err := e.selectBindings(ctx, opts.ToolIDs)
	if err != nil {
		return domain.Meeting{}, err
	}

	token, err := e.Launcher.Token(id)
	if err != nil {
		return domain.Meeting{}, fmt.Errorf("mint callback token: %w", err)
	}
	sb, err := sandbox.Materialize(e.Config.Sandbox.Root, id, bindings, map[string]string{
		"MEETING_ID":    id,
		"DASHBOARD_URL": e.Config.Worker.CallbackURL,
		"MEETING_TOKEN": token,
	})
	if err != nil {
		return domain.Meeting{}, fmt.Errorf("materialize sandbox: %w", err)
	}

	spec, err := e.Launcher.Spec(launcher.Request{
		MeetingID:     id,
		MeetingURL:    opts.MeetingURL,
		STTProvider:   opts.STTProvider,
		TTSProvider:   opts.TTSProvider,
		TTSVoice:      opts.TTSVoice,
		Language:      opts.Language,
		CallbackToken: token,
	}, sb)
	if err != nil {
		return domain.Meeting{}, err
	}

	containerID, err := e.Runtime.Create(ctx, spec)
	if err != nil {
		return domain.Meeting{}, fmt.Errorf("launch worker: %w", err)
	}
	if err := e.Runtime.Start(ctx, containerID); err != nil {
		return domain.Meeting{}, fmt.Errorf("launch worker: %w", err)
	}

	m := domain.Meeting{
		ID:          id,
		MeetingURL:  opts.MeetingURL,
		Status:      domain.StatusRunning,
		ContainerID: &containerID,
		ConfigJSON:  sb.ConfigJSON,
		OwnerID:     opts.OwnerID,
		STTProvider: opts.STTProvider,
		TTSProvider: opts.TTSProvider,
		TTSVoice:    opts.TTSVoice,
		Language:    opts.Language,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertMeeting(ctx, m); err != nil {
		return domain.Meeting{}, fmt.Errorf("persist meeting: %w", err)
	}
	e.appendEvent(ctx, "meeting.spawn", id, opts.OwnerID, events.EventPayload{
		"meeting_url": opts.MeetingURL,
		"container":   containerID,
	})
	e.logger().Info("meeting spawned",
		zap.String("meeting_id", id),
		zap.String("container_id", containerID),
		zap.String("owner_id", opts.OwnerID))
	return m, nil
}

// selectBindings resolves which tool bindings go into the sandbox.
func (e Engine) selectBindings(ctx context.Context, toolIDs []string) ([]domain.ToolBinding, error) {
	if len(toolIDs) == 0 {
		return e.Repo.ListToolBindings(ctx, true)
	}
	var res []domain.ToolBinding
	for _, id := range toolIDs {
		tb, err := e.Repo.GetToolBinding(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("tool binding %s: %w", id, err)
		}
		res = append(res, tb)
	}
	return res, nil
}

// Reconcile maps the true container state onto the persisted meeting status
// and returns the current row. Safe to call concurrently for the same
// meeting; once terminal it is a no-op.
func (e Engine) Reconcile(ctx context.Context, m domain.Meeting) (domain.Meeting, error) {
	if m.Status != domain.StatusRunning || m.ContainerID == nil {
		return m, nil
	}

	status := domain.StatusStopped
	st, err := e.Runtime.Inspect(ctx, *m.ContainerID)
	switch {
	case err != nil:
		// Container unknown or runtime unreachable. Treating the job as
		// over keeps it from being stuck in running forever.
		e.logger().Warn("container inspect failed, finalizing as stopped",
			zap.String("meeting_id", m.ID), zap.Error(err))
	case st.Running:
		return m, nil
	case m.StopRequested:
		status = domain.StatusStopped
	case st.ExitCode == 0:
		status = domain.StatusCompleted
	default:
		status = domain.StatusFailed
	}

	endedAt := e.now().UTC().Format(time.RFC3339)
	applied, err := e.Repo.FinishMeeting(ctx, m.ID, status, endedAt)
	if err != nil {
		return m, fmt.Errorf("finalize meeting %s: %w", m.ID, err)
	}
	if applied {
		e.appendEvent(ctx, "meeting.finished", m.ID, "system", events.EventPayload{"status": string(status)})
		e.logger().Info("meeting finalized",
			zap.String("meeting_id", m.ID),
			zap.String("status", string(status)))
	}
	return e.Repo.GetMeeting(ctx, m.ID)
}

// Get returns one meeting, reconciled against the runtime first.
func (e Engine) Get(ctx context.Context, id string) (domain.Meeting, error) {
	m, err := e.Repo.GetMeeting(ctx, id)
	if err != nil {
		return domain.Meeting{}, err
	}
	return e.Reconcile(ctx, m)
}

// ReconcileAndList finalizes any of the owner's meetings whose containers
// have exited, then returns the current rows.
func (e Engine) ReconcileAndList(ctx context.Context, ownerID string) ([]domain.Meeting, error) {
	meetings, err := e.Repo.ListMeetings(ctx, repo.MeetingFilter{OwnerID: ownerID})
	if err != nil {
		return nil, err
	}
	for i, m := range meetings {
		if m.Status != domain.StatusRunning {
			continue
		}
		updated, err := e.Reconcile(ctx, m)
		if err != nil {
			return nil, err
		}
		meetings[i] = updated
	}
	return meetings, nil
}

// Stop requests termination of a running meeting. Stopping a meeting that
// already ended, or whose container is gone, succeeds.
func (e Engine) Stop(ctx context.Context, id, actorID string) (domain.Meeting, error) {
	m, err := e.Repo.GetMeeting(ctx, id)
	if err != nil {
		return domain.Meeting{}, err
	}
	if m.Status.Terminal() {
		return m, nil
	}
	// Recorded before touching the runtime so a racing reconciler sees the
	// stop intent.
	if err := e.Repo.SetStopRequested(ctx, id); err != nil {
		return domain.Meeting{}, err
	}
	m.StopRequested = true
	if m.ContainerID != nil {
		if err := e.Runtime.Stop(ctx, *m.ContainerID); err != nil {
			e.logger().Warn("container stop failed",
				zap.String("meeting_id", id), zap.Error(err))
		}
	}
	e.appendEvent(ctx, "meeting.stop", id, actorID, nil)
	return e.Reconcile(ctx, m)
}

// FetchLogs returns the raw worker log text for a meeting. Log service
// problems come back as a readable placeholder, never as an error: a
// meeting stays usable even when its logs are not.
func (e Engine) FetchLogs(ctx context.Context, id string) (string, error) {
	if _, err := e.Repo.GetMeeting(ctx, id); err != nil {
		return "", err
	}
	lines, err := e.fetchLines(ctx, id)
	if err != nil {
		if errors.Is(err, logs.ErrNoCredentials) {
			return "Log search is not configured: Datadog credentials are missing.", nil
		}
		e.logger().Warn("log fetch failed", zap.String("meeting_id", id), zap.Error(err))
		return fmt.Sprintf("Log fetch failed: %v", err), nil
	}
	if len(lines) == 0 {
		return "No logs found for this meeting yet.", nil
	}
	return strings.Join(lines, "\n"), nil
}

// FetchTranscript recomputes the structured transcript and tool-usage
// counts from the meeting's logs. When the log service is unavailable it
// falls back to the transcript text the worker reported at shutdown.
func (e Engine) FetchTranscript(ctx context.Context, id string) ([]domain.TranscriptSegment, map[string]int, error) {
	m, err := e.Repo.GetMeeting(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	lines, err := e.fetchLines(ctx, id)
	if err != nil {
		if m.Transcript == nil {
			segments, usage := transcript.Extract(nil)
			return segments, usage, nil
		}
		lines = strings.Split(*m.Transcript, "\n")
	}
	segments, usage := transcript.Extract(lines)
	return segments, usage, nil
}

func (e Engine) fetchLines(ctx context.Context, id string) ([]string, error) {
	if e.Logs == nil {
		return nil, logs.ErrNoCredentials
	}
	return e.Logs.Search(ctx, id, e.Config.Datadog.LineLimit)
}

// ReportResults stores the transcript and summary a worker posts back when
// its meeting ends.
func (e Engine) ReportResults(ctx context.Context, id string, transcriptText, summary *string) error {
	if err := e.Repo.UpdateMeetingReport(ctx, id, transcriptText, summary); err != nil {
		return err
	}
	e.appendEvent(ctx, "meeting.report", id, "worker", nil)
	return nil
}

// appendEvent writes an audit event; the event log is best effort.
func (e Engine) appendEvent(ctx context.Context, evtType, meetingID, actorID string, payload events.EventPayload) {
	if err := e.Events.Append(ctx, evtType, meetingID, "meeting", meetingID, actorID, payload); err != nil {
		e.logger().Warn("append event failed", zap.String("type", evtType), zap.Error(err))
	}
}
