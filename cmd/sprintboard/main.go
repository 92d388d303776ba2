package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sprintboard/internal/app"
	"sprintboard/internal/bridge"
	"sprintboard/internal/config"
	"sprintboard/internal/db"
	"sprintboard/internal/mirror"
	"sprintboard/internal/remote"
	"sprintboard/internal/server"
	"sprintboard/internal/storage"
)

var v = config.NewViper()

var rootCmd = &cobra.Command{
	Use:   "sprintboard",
	Short: "Sprintboard CLI",
	Long: `Sprintboard keeps a sprint task board either on this machine or in a shared database.
- Local mode: tasks live in a key/value store, one JSON array per room code.
- Remote mode: once signed in, tasks live in rooms you own or joined with a room code.
- auto (default) picks remote when a saved session exists, local otherwise.
- migrate-local copies every local room into your remote rooms.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(v.GetString("workspace"))
		return err
	},
}

func main() {
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.StringP("room", "r", "", "room code")
	flags.String("mode", "", "backend mode: auto, local or remote")
	flags.String("log-level", "", "log level")
	_ = v.BindPFlag("workspace", flags.Lookup("workspace"))
	_ = v.BindPFlag("json", flags.Lookup("json"))
	_ = v.BindPFlag("room", flags.Lookup("room"))
	_ = v.BindPFlag("backend.mode", flags.Lookup("mode"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(roomCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(settingCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(migrateLocalCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default sprintboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(v.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(v.GetString("workspace"), v)
			if err != nil {
				return err
			}
			if c.Auth.JWTSecret != "" {
				c.Auth.JWTSecret = "********"
			}
			return printJSON(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate sprintboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(v.GetString("workspace"), v); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cfg
}

func authCmd() *cobra.Command {
	a := &cobra.Command{Use: "auth", Short: "Sign up, sign in and manage API keys"}
	a.AddCommand(authCredentialsCmd("signup", "Register an account and sign in"))
	a.AddCommand(authCredentialsCmd("signin", "Sign in"))
	a.AddCommand(&cobra.Command{
		Use:   "signout",
		Short: "Forget the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.ClearSession()
			})
		},
	})
	a.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the signed-in user and selected backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				st := a.Auth.State()
				return printJSONOrTable(map[string]any{
					"isAuthenticated": st.IsAuthenticated,
					"user":            st.User,
					"mode":            app.SelectMode(a.Config.Backend.Mode, st),
				})
			})
		},
	})
	var keyName string
	apikey := &cobra.Command{
		Use:   "apikey",
		Short: "Create an API key for the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, ok := a.Auth.CurrentUser()
				if !ok {
					return storage.ErrUnauthenticated
				}
				key, raw, err := a.Auth.CreateAPIKey(ctx, u.ID, keyName)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": key.ID, "name": key.Name, "key": raw})
			})
		},
	}
	apikey.Flags().StringVar(&keyName, "name", "", "key name")
	a.AddCommand(apikey)
	return a
}

func authCredentialsCmd(use, short string) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("SPRINTBOARD_PASSWORD")
			}
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password (or SPRINTBOARD_PASSWORD) are required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var err error
				if use == "signup" {
					_, err = a.Auth.SignUp(ctx, email, password)
				} else {
					_, err = a.Auth.SignIn(ctx, email, password)
				}
				if err != nil {
					return err
				}
				if err := a.SaveSession(); err != nil {
					return err
				}
				u, _ := a.Auth.CurrentUser()
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}

func migrateLocalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-local",
		Short: "Copy every local room and its tasks into remote rooms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				svc, err := a.Remote(ctx)
				if err != nil {
					return err
				}
				rep, err := bridge.Bridge{Local: a.Rooms(), Remote: svc, Logger: a.Log}.Migrate(ctx)
				if err != nil {
					return err
				}
				if v.GetBool("json") {
					return printJSON(rep)
				}
				fmt.Printf("rooms created: %d, tasks migrated: %d\n", rep.RoomsCreated, rep.TasksMigrated)
				for _, e := range rep.Errors {
					fmt.Println("  failed:", e.Error())
				}
				return nil
			})
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the selected backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, svc storage.DataService) error {
				h := svc.HealthCheck(ctx)
				if err := printJSONOrTable(h); err != nil {
					return err
				}
				if h.Status != storage.Healthy {
					return errors.New(h.Error)
				}
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event journal",
		Long:  "Every room, task and config change made through the remote backend is journaled.",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				roomID := ""
				if code := v.GetString("room"); code != "" {
					svc, err := a.Remote(ctx)
					if err != nil {
						return err
					}
					if err := app.SelectRoom(ctx, svc, code); err != nil {
						return err
					}
					roomID = svc.CurrentRoom()
				}
				entries, err := a.Repo.LatestEvents(ctx, n, roomID, evtType)
				if err != nil {
					return err
				}
				if v.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "Actor"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cfg := a.Config
				if cfg.Auth.JWTSecret == "" {
					return fmt.Errorf("auth.jwt_secret (SPRINTBOARD_AUTH_JWT_SECRET) is required to serve")
				}
				ttl, _ := cfg.TokenTTL()
				hooks := mirror.New(cfg.Mirror.Webhooks, mirror.Options{Logger: a.Log})
				hooks.Start(ctx)
				defer hooks.Stop()
				handler, err := server.New(server.Config{
					Repo:      a.Repo,
					Rooms:     a.Rooms(),
					JWTSecret: cfg.Auth.JWTSecret,
					TokenTTL:  ttl,
					BasePath:  cfg.Server.BasePath,
					Logger:    a.Log,
					JoinRate:  cfg.Server.JoinRate,
					JoinBurst: cfg.Server.JoinBurst,
					OnBackend: func(svc *remote.Service) { hooks.Attach(svc) },
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Log.Info("serving sprintboard API",
					zap.String("addr", cfg.Server.Addr),
					zap.String("base_path", cfg.Server.BasePath),
					zap.Int("webhooks", len(cfg.Mirror.Webhooks)))
				fmt.Printf("Serving Sprintboard API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address")
	cmd.Flags().String("base-path", "", "API base path")
	_ = v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("server.base_path", cmd.Flags().Lookup("base-path"))
	return cmd
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	workspace := v.GetString("workspace")
	cfg, err := config.Load(workspace, v)
	if err != nil {
		return err
	}
	log, err := app.NewLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer log.Sync()
	a, err := app.Open(ctx, workspace, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.RestoreSession(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

func withBackend(ctx context.Context, fn func(context.Context, storage.DataService) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		svc, err := a.Backend(ctx, v.GetString("room"))
		if err != nil {
			return err
		}
		return fn(ctx, svc)
	})
}

func printJSONOrTable(val any) error {
	if jsonOutput() {
		return printJSON(val)
	}
	b, _ := json.MarshalIndent(val, "", "  ")
	fmt.Println(string(b))
	return nil
}

func jsonOutput() bool {
	return v.GetBool("json")
}

func printJSON(val any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(val)
}
