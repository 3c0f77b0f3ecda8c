package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"huddle/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const meetingColumns = `id,meeting_url,status,container_id,config_json,owner_id,stt_provider,tts_provider,tts_voice,language,stop_requested,summary,transcript,created_at,ended_at`

func scanMeeting(scan func(dest ...any) error) (domain.Meeting, error) {
	var m domain.Meeting
	var containerID, summary, transcript, endedAt sql.NullString
	var stopRequested int
	err := scan(&m.ID, &m.MeetingURL, &m.Status, &containerID, &m.ConfigJSON, &m.OwnerID,
		&m.STTProvider, &m.TTSProvider, &m.TTSVoice, &m.Language, &stopRequested,
		&summary, &transcript, &m.CreatedAt, &endedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.StopRequested = stopRequested != 0
	if containerID.Valid {
		m.ContainerID = &containerID.String
	}
	if summary.Valid {
		m.Summary = &summary.String
	}
	if transcript.Valid {
		m.Transcript = &transcript.String
	}
	if endedAt.Valid {
		m.EndedAt = &endedAt.String
	}
	return m, nil
}

func (r Repo) InsertMeeting(ctx context.Context, m domain.Meeting) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO meetings(`+meetingColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.MeetingURL, m.Status, nullableStringPtr(m.ContainerID), m.ConfigJSON, m.OwnerID,
		m.STTProvider, m.TTSProvider, m.TTSVoice, m.Language, boolToInt(m.StopRequested),
		nullableStringPtr(m.Summary), nullableStringPtr(m.Transcript), m.CreatedAt, nullableStringPtr(m.EndedAt))
	return err
}

func (r Repo) GetMeeting(ctx context.Context, id string) (domain.Meeting, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id=?`, id)
	return scanMeeting(row.Scan)
}

type MeetingFilter struct {
	OwnerID string
	Status  string
}

func (r Repo) ListMeetings(ctx context.Context, f MeetingFilter) ([]domain.Meeting, error) {
	q := `SELECT ` + meetingColumns + ` FROM meetings WHERE 1=1`
	var args []any
	if f.OwnerID != "" {
		q += ` AND owner_id=?`
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		q += ` AND status=?`
		args = append(args, f.Status)
	}
	q += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// FinishMeeting moves a meeting into a terminal status. The update is
// conditional on the row still being running, so concurrent reconcilers and
// a racing stop request cannot overwrite each other's terminal state. It
// reports whether this call performed the transition.
func (r Repo) FinishMeeting(ctx context.Context, id string, status domain.MeetingStatus, endedAt string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE meetings SET status=?, ended_at=? WHERE id=? AND status=?`,
		status, endedAt, id, domain.StatusRunning)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) SetStopRequested(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE meetings SET stop_requested=1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (r Repo) UpdateMeetingReport(ctx context.Context, id string, transcript, summary *string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE meetings SET transcript=COALESCE(?,transcript), summary=COALESCE(?,summary) WHERE id=?`,
		nullableStringPtr(transcript), nullableStringPtr(summary), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func scanToolBinding(scan func(dest ...any) error) (domain.ToolBinding, error) {
	var tb domain.ToolBinding
	var argsJSON, envJSON string
	var defaultEnabled, enabled int
	err := scan(&tb.ID, &tb.Name, &tb.Command, &argsJSON, &envJSON, &defaultEnabled, &enabled, &tb.CreatedAt, &tb.UpdatedAt)
	if err == sql.ErrNoRows {
		return tb, ErrNotFound
	}
	if err != nil {
		return tb, err
	}
	tb.DefaultEnabled = defaultEnabled != 0
	tb.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(argsJSON), &tb.Args); err != nil {
		return tb, err
	}
	if err := json.Unmarshal([]byte(envJSON), &tb.Env); err != nil {
		return tb, err
	}
	return tb, nil
}

const toolBindingColumns = `id,name,command,args_json,env_json,default_enabled,enabled,created_at,updated_at`

func (r Repo) InsertToolBinding(ctx context.Context, tb domain.ToolBinding) error {
	argsJSON, err := json.Marshal(tb.Args)
	if err != nil {
		return err
	}
	envJSON, err := json.Marshal(tb.Env)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO tool_bindings(`+toolBindingColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		tb.ID, tb.Name, tb.Command, string(argsJSON), string(envJSON), boolToInt(tb.DefaultEnabled), boolToInt(tb.Enabled), tb.CreatedAt, tb.UpdatedAt)
	return err
}

func (r Repo) GetToolBinding(ctx context.Context, id string) (domain.ToolBinding, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+toolBindingColumns+` FROM tool_bindings WHERE id=?`, id)
	return scanToolBinding(row.Scan)
}

func (r Repo) ListToolBindings(ctx context.Context, onlyEnabled bool) ([]domain.ToolBinding, error) {
	q := `SELECT ` + toolBindingColumns + ` FROM tool_bindings`
	if onlyEnabled {
		q += ` WHERE enabled=1`
	}
	q += ` ORDER BY name`
	rows, err := r.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ToolBinding
	for rows.Next() {
		tb, err := scanToolBinding(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, tb)
	}
	return res, rows.Err()
}

func (r Repo) SetToolBindingEnabled(ctx context.Context, id string, enabled bool, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tool_bindings SET enabled=?, updated_at=? WHERE id=?`,
		boolToInt(enabled), updatedAt, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (r Repo) InsertEvent(ctx context.Context, e domain.Event) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO events(ts,type,meeting_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		e.TS, e.Type, e.MeetingID, e.EntityKind, e.EntityID, e.ActorID, e.Payload)
	return err
}

func (r Repo) ListEvents(ctx context.Context, meetingID string) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,meeting_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE meeting_id=? ORDER BY id`, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.MeetingID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
