// Package launcher turns a spawn request plus a materialized sandbox into
// the container specification for one worker.
package launcher

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"huddle/internal/config"
	"huddle/internal/runtime"
	"huddle/internal/sandbox"
)

// In-container mount points the worker image expects.
const (
	containerEnvFile     = "/app/agent.env"
	containerToolConfig  = "/app/config/tools.json"
	containerDataDir     = "/app/data"
	containerCredentials = "/app/credentials.json"
)

// Request carries the per-meeting choices that shape the worker invocation.
type Request struct {
	MeetingID   string
	MeetingURL  string
	STTProvider string
	TTSProvider string
	TTSVoice    string
	Language    string
	// CallbackToken is the credential for reporting results back. When
	// empty, Spec mints one.
	CallbackToken string
}

type Launcher struct {
	Cfg *config.Config
	Now func() time.Time
}

// Token mints the short-lived credential the worker presents when posting
// its transcript back. It is scoped to one meeting id.
func (l Launcher) Token(meetingID string) (string, error) {
	now := l.now()
	claims := jwt.MapClaims{
		"sub": meetingID,
		"iat": now.Unix(),
		"exp": now.Add(24 * time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(l.Cfg.Auth.CallbackSecret))
}

func (l Launcher) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Spec builds the container specification for one worker. Provider secrets
// travel in the environment, never in argv, since argv leaks into process
// listings. The meeting URL is always the final argument.
func (l Launcher) Spec(req Request, sb sandbox.Sandbox) (runtime.Spec, error) {
	token := req.CallbackToken
	if token == "" {
		var err error
		token, err = l.Token(req.MeetingID)
		if err != nil {
			return runtime.Spec{}, fmt.Errorf("mint callback token: %w", err)
		}
	}

	cmd := []string{
		"--stt", req.STTProvider,
		"--tts", req.TTSProvider,
	}
	if req.TTSVoice != "" {
		cmd = append(cmd, "--tts-arg", "voice="+req.TTSVoice)
	}
	cmd = append(cmd,
		"--lang", req.Language,
		"--mcp-config", containerToolConfig,
		req.MeetingURL,
	)

	env := []string{
		"MEETING_ID=" + req.MeetingID,
		"DASHBOARD_URL=" + l.Cfg.Worker.CallbackURL,
		"MEETING_TOKEN=" + token,
	}
	if k := l.Cfg.Providers.DeepgramAPIKey; k != "" {
		env = append(env, "DEEPGRAM_API_KEY="+k)
	}
	if k := l.Cfg.Providers.ElevenLabsAPIKey; k != "" {
		env = append(env, "ELEVENLABS_API_KEY="+k)
	}

	binds := []string{
		sandbox.RuntimePath(sb.EnvPath) + ":" + containerEnvFile,
		sandbox.RuntimePath(sb.ConfigPath) + ":" + containerToolConfig,
		sandbox.RuntimePath(sb.DataDir) + ":" + containerDataDir,
	}
	// The credentials file is optional host state; a worker without it
	// still runs, just without the integrations that need it.
	if creds := l.Cfg.Sandbox.CredentialsFile; creds != "" {
		if _, err := os.Stat(creds); err == nil {
			binds = append(binds, sandbox.RuntimePath(creds)+":"+containerCredentials)
		}
	}

	return runtime.Spec{
		Name:   "huddle-" + req.MeetingID,
		Image:  l.Cfg.Worker.Image,
		Cmd:    cmd,
		Env:    env,
		Binds:  binds,
		Labels: map[string]string{"huddle.meeting_id": req.MeetingID},
	}, nil
}
