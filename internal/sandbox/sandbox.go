// Package sandbox materializes the per-meeting configuration directory a
// worker container is given: the tool configuration document, a writable
// data directory, and the environment file with resolved secrets.
package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"huddle/internal/domain"
)

// serverEntry is one tool in the worker's configuration document.
type serverEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

type configDoc struct {
	MCPServers map[string]serverEntry `json:"mcpServers"`
}

// Sandbox is the materialized on-disk layout for one meeting.
type Sandbox struct {
	Root       string
	ConfigPath string
	DataDir    string
	EnvPath    string
	ConfigJSON string
}

// NormalizeName maps a display name to the key used in the configuration
// document: lower-cased, spaces replaced with dashes.
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "-")
}

// usable reports whether a binding can be handed to a worker. A binding
// carrying an empty env value is unconfigured and is excluded entirely
// rather than shipped with a blank secret.
func usable(tb domain.ToolBinding) bool {
	for _, v := range tb.Env {
		if v == "" {
			return false
		}
	}
	return true
}

// Materialize builds the sandbox directory for one meeting under root.
// The directory is keyed by meeting id so concurrent spawns never collide.
// workerEnv is written verbatim into the environment file the container
// mounts at startup.
func Materialize(root, meetingID string, bindings []domain.ToolBinding, workerEnv map[string]string) (Sandbox, error) {
	var sb Sandbox
	sb.Root = filepath.Join(root, meetingID)
	sb.DataDir = filepath.Join(sb.Root, "data")
	if err := os.MkdirAll(sb.DataDir, 0o755); err != nil {
		return Sandbox{}, fmt.Errorf("create sandbox %s: %w", sb.Root, err)
	}

	doc := configDoc{MCPServers: map[string]serverEntry{}}
	for _, tb := range bindings {
		if !usable(tb) {
			continue
		}
		doc.MCPServers[NormalizeName(tb.Name)] = serverEntry{
			Command: tb.Command,
			Args:    tb.Args,
			Env:     tb.Env,
		}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Sandbox{}, err
	}
	sb.ConfigJSON = string(data)
	sb.ConfigPath = filepath.Join(sb.Root, "tools.json")
	if err := os.WriteFile(sb.ConfigPath, data, 0o644); err != nil {
		return Sandbox{}, fmt.Errorf("write tool config: %w", err)
	}

	sb.EnvPath = filepath.Join(sb.Root, "agent.env")
	var envFile strings.Builder
	for _, k := range sortedKeys(workerEnv) {
		fmt.Fprintf(&envFile, "%s=%s\n", k, workerEnv[k])
	}
	if err := os.WriteFile(sb.EnvPath, []byte(envFile.String()), 0o600); err != nil {
		return Sandbox{}, fmt.Errorf("write env file: %w", err)
	}
	return sb, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
