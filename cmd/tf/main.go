package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stibe881/traumfunke/internal/config"
	"github.com/stibe881/traumfunke/internal/db"
	"github.com/stibe881/traumfunke/internal/domain"
	"github.com/stibe881/traumfunke/internal/engine"
	"github.com/stibe881/traumfunke/internal/generator"
	"github.com/stibe881/traumfunke/internal/migrate"
	"github.com/stibe881/traumfunke/internal/notify"
	"github.com/stibe881/traumfunke/internal/repo"
	"github.com/stibe881/traumfunke/internal/server"
	"github.com/stibe881/traumfunke/internal/tracker"
)

var rootCmd = &cobra.Command{
	Use:   "tf",
	Short: "Traumfunke CLI",
	Long: `Traumfunke tracks bedtime story generation requests.
- Workspace: your .traumfunke directory holding the request database.
- Requests: story orders that move queued -> processing -> generating_text ->
  generating_images -> rendering_clips -> finished (failed exits from any
  non-terminal status).
- Coins: spent when a request is created; cancelling does not refund.
- Tracker: 'tf watch' keeps a live view reconciled against the store.
- Event log: diary of changes, view with 'tf log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
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
	_ = godotenv.Load()
	viper.SetEnvPrefix("TRAUMFUNKE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "user identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(storyCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(coinsCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cfg, err := resolveConfig(ctx, r)
				if err != nil {
					return err
				}
				return printJSON(cfg)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config into the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.UpsertAppConfig(ctx, cfg)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config yaml path")
	return cmd
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				path = config.Path(viper.GetString("workspace"))
			}
			if _, err := config.FromFile(path); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"valid": true, "path": path})
			}
			fmt.Println("config valid:", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config yaml path")
	return cmd
}

func requestCmd() *cobra.Command {
	req := &cobra.Command{Use: "request", Short: "Manage story requests"}
	req.AddCommand(requestCreateCmd())
	req.AddCommand(requestListCmd())
	req.AddCommand(requestPendingCmd())
	req.AddCommand(requestGetCmd())
	req.AddCommand(requestCancelCmd())
	req.AddCommand(requestStartCmd())
	return req
}

func requestCreateCmd() *cobra.Command {
	var id, profileID, title, theme, language, seriesID string
	var episode bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create story request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req, err := e.CreateRequest(ctx, engine.CreateRequestInput{
					ID:        id,
					UserID:    viper.GetString("user-id"),
					ProfileID: profileID,
					Title:     title,
					Theme:     theme,
					Language:  language,
					IsEpisode: episode,
					SeriesID:  seriesID,
				})
				if err != nil {
					return err
				}
				return printJSON(req)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "request id (generated if empty)")
	cmd.Flags().StringVar(&profileID, "profile", "", "child profile id")
	cmd.Flags().StringVar(&title, "title", "", "story title")
	cmd.Flags().StringVar(&theme, "theme", "", "story theme")
	cmd.Flags().StringVar(&language, "language", "", "story language")
	cmd.Flags().BoolVar(&episode, "episode", false, "create a series episode")
	cmd.Flags().StringVar(&seriesID, "series", "", "series id (required for episodes)")
	return cmd
}

func requestListCmd() *cobra.Command {
	var status, seriesID string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListRequests(ctx, repo.RequestFilters{
					UserID:   viper.GetString("user-id"),
					Status:   status,
					SeriesID: seriesID,
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				return printRequests(items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&seriesID, "series", "", "series filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func requestPendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List pending requests inside the visibility window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListPending(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printRequests(items)
			})
		},
	}
	return cmd
}

func requestGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				req, err := r.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(req)
			})
		},
	}
	return cmd
}

func requestCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel request (coins are not refunded)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.CancelRequest(ctx, args[0], viper.GetString("user-id"))
			})
		},
	}
	return cmd
}

func requestStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start generation at most once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t := newLocalTracker(e)
				if err := t.Reconcile(ctx); err != nil {
					return err
				}
				if err := t.MaybeStartGeneration(ctx, args[0]); err != nil {
					return err
				}
				req, err := e.Repo.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(req)
			})
		},
	}
	return cmd
}

func storyCmd() *cobra.Command {
	st := &cobra.Command{Use: "story", Short: "Browse finished stories"}
	st.AddCommand(storyListCmd())
	st.AddCommand(storyShowCmd())
	return st
}

func storyListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListStories(ctx, viper.GetString("user-id"), limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Language", "Episode", "Created"})
				for _, s := range items {
					episode := ""
					if s.EpisodeNumber != nil {
						episode = fmt.Sprintf("%d", *s.EpisodeNumber)
					}
					tw.AppendRow(table.Row{s.ID, s.Title, s.Language, episode, s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func storyShowCmd() *cobra.Command {
	var byRequest bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				var (
					s   domain.Story
					err error
				)
				if byRequest {
					s, err = r.GetStoryByRequest(ctx, args[0])
				} else {
					s, err = r.GetStory(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().BoolVar(&byRequest, "by-request", false, "look up by request id")
	return cmd
}

func profileCmd() *cobra.Command {
	p := &cobra.Command{Use: "profile", Short: "Manage child profiles"}
	p.AddCommand(profileCreateCmd())
	p.AddCommand(profileListCmd())
	p.AddCommand(profileDeleteCmd())
	return p
}

func profileCreateCmd() *cobra.Command {
	var name, language string
	var age int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create child profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProfile(ctx, engine.CreateProfileInput{
					UserID:   viper.GetString("user-id"),
					Name:     name,
					Age:      age,
					Language: language,
				})
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "child name")
	cmd.Flags().IntVar(&age, "age", 0, "child age")
	cmd.Flags().StringVar(&language, "language", "", "preferred language")
	return cmd
}

func profileListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List child profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProfiles(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	return cmd
}

func profileDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete child profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteProfile(ctx, args[0], viper.GetString("user-id"))
			})
		},
	}
	return cmd
}

func coinsCmd() *cobra.Command {
	c := &cobra.Command{Use: "coins", Short: "Coin balance and ledger"}
	c.AddCommand(coinsShowCmd())
	c.AddCommand(coinsLedgerCmd())
	c.AddCommand(coinsGrantCmd())
	return c
}

func coinsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show coin balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				userID := viper.GetString("user-id")
				balance, err := e.CoinBalance(ctx, userID)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"user_id": userID, "balance": balance})
			})
		},
	}
	return cmd
}

func coinsLedgerCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListCoinEntries(ctx, viper.GetString("user-id"), limit)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func coinsGrantCmd() *cobra.Command {
	var amount int
	var reason string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant coins to the user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.GrantCoins(ctx, viper.GetString("user-id"), amount, reason)
			})
		},
	}
	cmd.Flags().IntVar(&amount, "amount", 0, "coins to grant")
	cmd.Flags().StringVar(&reason, "reason", "", "ledger reason")
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyRevokeCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (secret is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := uuid.NewString() + uuid.NewString()
				key := domain.APIKey{
					ID:        uuid.NewString(),
					UserID:    viper.GetString("user-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				return printJSON(map[string]any{"id": key.ID, "name": key.Name, "secret": secret})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, viper.GetString("user-id"), evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSON(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// watchCmd runs the request tracker against the local store. The notify
// pump feeds it change events; each reconcile redraws the table.
func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live view of pending requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				logger := newLogger()
				hub := notify.NewHub()
				pump := notify.Pump{Repo: e.Repo, Hub: hub, Logger: logger}
				t := newLocalTracker(e)
				t.Logger = logger
				t.SetOnChange(func(items []domain.StoryRequest) {
					renderRequests(items)
				})

				userID := viper.GetString("user-id")
				events, cancel := hub.Subscribe(userID)
				defer cancel()

				go func() {
					for ev := range events {
						t.OnRemoteChange(ev)
					}
				}()
				go func() {
					if err := pump.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						logger.Error("notify pump stopped", "err", err)
					}
				}()

				err := t.Run(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			cfg, err := resolveConfig(cmd.Context(), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			logger := newLogger()

			jwtSecret := os.Getenv("TRAUMFUNKE_JWT_SECRET")
			if jwtSecret == "" {
				return fmt.Errorf("TRAUMFUNKE_JWT_SECRET is required for bearer auth")
			}
			hub := notify.NewHub()
			handler, err := server.New(server.Config{
				Engine: e,
				Generator: generator.Client{
					Endpoint: cfg.Generator.Endpoint,
					Secret:   cfg.Generator.Secret,
					Timeout:  cfg.GeneratorTimeout(),
				},
				Hub:      hub,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:       jwtSecret,
					GeneratorSecret: cfg.Generator.Secret,
					Logger:          logger,
				},
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			pump := notify.Pump{Repo: r, Hub: hub, Logger: logger}
			go func() {
				if err := pump.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("notify pump stopped", "err", err)
				}
			}()

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving Traumfunke API", "addr", addr, "base_path", basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func newLocalTracker(e engine.Engine) *tracker.Tracker {
	userID := viper.GetString("user-id")
	store := tracker.EngineStore{Engine: e, UserID: userID}
	starter := generator.Starter{Client: generator.Client{
		Endpoint: e.Config.Generator.Endpoint,
		Secret:   e.Config.Generator.Secret,
		Timeout:  e.Config.GeneratorTimeout(),
	}}
	return tracker.New(userID, store, starter, newLogger())
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		cfg, err := resolveConfig(ctx, r)
		if err != nil {
			return err
		}
		return fn(ctx, engine.New(r.DB, cfg))
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

// resolveConfig prefers traumfunke.yml, then the imported database config,
// then defaults.
func resolveConfig(ctx context.Context, r repo.Repo) (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	cfg, err = r.GetAppConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return config.Default(), nil
	}
	return nil, err
}

func printRequests(items []domain.StoryRequest) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	renderRequests(items)
	return nil
}

func renderRequests(items []domain.StoryRequest) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Theme", "Status", "Created"})
	for _, r := range items {
		title := r.Title
		if title == "" {
			title = "-"
		}
		tw.AppendRow(table.Row{r.ID, title, r.Theme, r.Status, r.CreatedAt})
	}
	tw.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
