package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"huddle/internal/config"
	"huddle/internal/db"
	"huddle/internal/engine"
	"huddle/internal/logs"
	"huddle/internal/migrate"
	"huddle/internal/observability"
	"huddle/internal/runtime"
	"huddle/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "hud",
	Short: "Huddle CLI",
	Long: `Huddle spawns sandboxed meeting agents into video calls and tracks them.
Each meeting runs in its own worker container with a per-meeting tool sandbox.
Lifecycle is reconciled against the container runtime; transcripts and tool
usage are reconstructed from the worker's logs.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("HUDDLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("verbose", false, "debug logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(meetingCmd())
	rootCmd.AddCommand(toolCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default huddle.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	return cfg
}

func meetingCmd() *cobra.Command {
	m := &cobra.Command{Use: "meeting", Short: "Manage meeting agents"}
	m.AddCommand(meetingSpawnCmd())
	m.AddCommand(meetingListCmd())
	m.AddCommand(meetingShowCmd())
	m.AddCommand(meetingStopCmd())
	m.AddCommand(meetingLogsCmd())
	m.AddCommand(meetingTranscriptCmd())
	return m
}

func meetingSpawnCmd() *cobra.Command {
	var stt, tts, voice, lang string
	var toolIDs []string
	cmd := &cobra.Command{
		Use:   "spawn MEETING_URL",
		Short: "Spawn an agent into a meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				meeting, err := e.Spawn(ctx, engine.SpawnOptions{
					MeetingURL:  args[0],
					OwnerID:     viper.GetString("actor-id"),
					STTProvider: stt,
					TTSProvider: tts,
					TTSVoice:    voice,
					Language:    lang,
					ToolIDs:     toolIDs,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(meeting)
			})
		},
	}
	cmd.Flags().StringVar(&stt, "stt", "", "speech-to-text provider")
	cmd.Flags().StringVar(&tts, "tts", "", "text-to-speech provider")
	cmd.Flags().StringVar(&voice, "voice", "", "text-to-speech voice")
	cmd.Flags().StringVar(&lang, "lang", "", "language code")
	cmd.Flags().StringSliceVar(&toolIDs, "tool", nil, "tool binding id (repeatable)")
	return cmd
}

func meetingListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List meetings, reconciled against the runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if owner == "" {
					owner = viper.GetString("actor-id")
				}
				items, err := e.ReconcileAndList(ctx, owner)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "URL", "Status", "Created", "Ended"})
				for _, m := range items {
					ended := ""
					if m.EndedAt != nil {
						ended = *m.EndedAt
					}
					tw.AppendRow(table.Row{m.ID, m.MeetingURL, m.Status, m.CreatedAt, ended})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (defaults to --actor-id)")
	return cmd
}

func meetingShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show MEETING_ID",
		Short: "Show one meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func meetingStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop MEETING_ID",
		Short: "Stop a running agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Stop(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func meetingLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs MEETING_ID",
		Short: "Raw worker logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				text, err := e.FetchLogs(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(text)
				return nil
			})
		},
	}
}

func meetingTranscriptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transcript MEETING_ID",
		Short: "Structured transcript and tool usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				segments, usage, err := e.FetchTranscript(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"segments": segments, "tool_usage": usage})
				}
				for _, s := range segments {
					fmt.Printf("[%s] %s: %s\n", s.Timestamp, s.Speaker, s.Text)
				}
				if len(usage) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Tool", "Calls"})
					for name, n := range usage {
						tw.AppendRow(table.Row{name, n})
					}
					tw.Render()
				}
				return nil
			})
		},
	}
}

func toolCmd() *cobra.Command {
	tc := &cobra.Command{Use: "tool", Short: "Manage tool bindings"}
	tc.AddCommand(toolListCmd())
	tc.AddCommand(toolAddCmd())
	tc.AddCommand(toolEnableCmd())
	return tc
}

func toolListCmd() *cobra.Command {
	var enabledOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tool bindings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListToolBindings(ctx, enabledOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Command", "Enabled"})
				for _, tb := range items {
					tw.AppendRow(table.Row{tb.ID, tb.Name, tb.Command, tb.Enabled})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only enabled bindings")
	return cmd
}

func toolAddCmd() *cobra.Command {
	var name, command string
	var cmdArgs, envPairs []string
	var defaultEnabled bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a tool binding",
		RunE: func(cmd *cobra.Command, args []string) error {
			env := map[string]string{}
			for _, pair := range envPairs {
				k, v, found := strings.Cut(pair, "=")
				if !found {
					return fmt.Errorf("--env %q is not KEY=VALUE", pair)
				}
				env[k] = v
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tb, err := e.CreateToolBinding(ctx, engine.ToolCreateOptions{
					Name:           name,
					Command:        command,
					Args:           cmdArgs,
					Env:            env,
					DefaultEnabled: defaultEnabled,
					ActorID:        viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(tb)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "tool name")
	cmd.Flags().StringVar(&command, "command", "", "invocation command")
	cmd.Flags().StringSliceVar(&cmdArgs, "arg", nil, "command argument (repeatable)")
	cmd.Flags().StringSliceVar(&envPairs, "env", nil, "KEY=VALUE environment entry (repeatable)")
	cmd.Flags().BoolVar(&defaultEnabled, "default-enabled", false, "enabled for new meetings by default")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("command")
	return cmd
}

func toolEnableCmd() *cobra.Command {
	var disable bool
	cmd := &cobra.Command{
		Use:   "enable TOOL_ID",
		Short: "Enable or disable a tool binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tb, err := e.SetToolBindingEnabled(ctx, args[0], !disable, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(tb)
			})
		},
	}
	cmd.Flags().BoolVar(&disable, "disable", false, "disable instead of enable")
	return cmd
}

func logCmd() *cobra.Command {
	lc := &cobra.Command{Use: "log", Short: "Event log"}
	var meetingID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show events for a meeting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListEvents(ctx, meetingID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	tail.Flags().StringVar(&meetingID, "meeting", "", "meeting id")
	_ = tail.MarkFlagRequired("meeting")
	lc.AddCommand(tail)
	return lc
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if addr == "" {
					addr = e.Config.Server.Addr
				}
				if basePath == "" {
					basePath = e.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Huddle API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	rt, err := runtime.NewDocker()
	if err != nil {
		return err
	}
	var searcher logs.Searcher
	if cfg.Datadog.APIKey != "" && cfg.Datadog.AppKey != "" {
		searcher = logs.NewDatadog(cfg.Datadog.APIKey, cfg.Datadog.AppKey, cfg.Datadog.Site, cfg.Datadog.QueryDays)
	}
	logger, err := observability.NewLogger(viper.GetBool("verbose"))
	if err != nil {
		return err
	}
	defer logger.Sync()
	e := engine.New(conn, cfg, rt, searcher, logger.With(zap.String("component", "engine")))
	return fn(ctx, e)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
