package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/renameio/v2"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"armory/internal/app"
	"armory/internal/armor"
	"armory/internal/config"
	"armory/internal/db"
	"armory/internal/domain"
	"armory/internal/engine"
	"armory/internal/repo"
	"armory/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "armory",
	Short: "Armory CLI",
	Long: `Armory keeps suits of armor and the components stacked onto them.
- Suit: a named stack of armor records with a version number.
- Armor: one component (helmet, thrusters, repulsors, chest piece, missiles, arc reactor, wifi) tagged with the version it was built for.
- Push/pop: armor is added and removed at the head; the newest record is always on top.
- Check: a suit is compatible when every record matches the suit version.
- Repair: damaged thrusters, repulsors and chest pieces are restored to full power.
- Event log: every change is recorded, view with 'armory log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ARMORY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(suitCmd())
	rootCmd.AddCommand(armorCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func suitCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "suit", Short: "Manage suits"}
	cmd.AddCommand(suitCreateCmd())
	cmd.AddCommand(suitListCmd())
	cmd.AddCommand(suitShowCmd())
	cmd.AddCommand(suitDeleteCmd())
	cmd.AddCommand(suitCheckCmd())
	cmd.AddCommand(suitRepairCmd())
	return cmd
}

func suitCreateCmd() *cobra.Command {
	var id, name string
	var version int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a suit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.SuitCreateOptions{ID: id, Name: name, ActorID: viper.GetString("actor-id")}
				if cmd.Flags().Changed("version") {
					opts.Version = &version
				}
				s, err := e.CreateSuit(ctx, opts)
				if err != nil {
					return err
				}
				return printSuit(s)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "suit id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().IntVar(&version, "version", 0, "suit version (defaults to suits.default_version)")
	return cmd
}

func suitListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List suits",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				suits, err := e.ListSuits(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(suits)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Version", "Size", "Updated"})
				for _, s := range suits {
					tw.AppendRow(table.Row{s.ID, s.Name, s.Version, s.Size, s.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func suitShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <suit-id>",
		Short: "Show a suit and its armor, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.GetSuit(ctx, args[0])
				if err != nil {
					return err
				}
				return printSuit(s)
			})
		},
	}
}

func suitDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <suit-id>",
		Short: "Delete a suit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteSuit(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": args[0]})
				}
				fmt.Printf("deleted suit %s\n", args[0])
				return nil
			})
		},
	}
}

func suitCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <suit-id>",
		Short: "Check every armor record against the suit version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.CheckCompatibility(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				verdict := "compatible"
				if !report.Compatible {
					verdict = "INCOMPATIBLE"
				}
				fmt.Printf("suit %s (version %d, %d records): %s\n", report.SuitID, report.Version, report.Size, verdict)
				return nil
			})
		},
	}
}

func suitRepairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair <suit-id>",
		Short: "Repair damaged thrusters, repulsors and chest pieces",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.RepairSuit(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				fmt.Printf("repaired %d component(s)\n", report.Repaired)
				return printSuit(report.Suit)
			})
		},
	}
}

func armorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "armor",
		Short: "Push, pop and peek armor on a suit",
		Long:  "Kinds: " + kindList() + ".",
	}
	cmd.AddCommand(armorPushCmd())
	cmd.AddCommand(armorPopCmd())
	cmd.AddCommand(armorPeekCmd())
	return cmd
}

func armorPushCmd() *cobra.Command {
	var kind string
	var c armor.Component
	var version int
	cmd := &cobra.Command{
		Use:   "push <suit-id>",
		Short: "Push armor onto a suit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := armor.ParseKind(kind)
			if err != nil {
				return fmt.Errorf("--kind: %w (one of %s)", err, kindList())
			}
			c.Kind = k
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if !cmd.Flags().Changed("version") {
					s, err := e.GetSuit(ctx, args[0])
					if err != nil {
						return err
					}
					version = s.Version
				}
				s, err := e.PushArmor(ctx, args[0], armor.Armor{Component: c, Version: version}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printSuit(s)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "component kind")
	cmd.Flags().BoolVar(&c.Damaged, "damaged", false, "component is damaged")
	cmd.Flags().IntVar(&c.PowerRemaining, "power", 0, "power remaining")
	cmd.Flags().IntVar(&c.Count, "count", 0, "missile count")
	cmd.Flags().BoolVar(&c.Connected, "connected", false, "wifi connected")
	cmd.Flags().IntVar(&version, "version", 0, "armor version (defaults to the suit version)")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func armorPopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pop <suit-id>",
		Short: "Remove the newest armor from a suit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, found, err := e.PopArmor(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printHead(a, found)
			})
		},
	}
}

func armorPeekCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peek <suit-id>",
		Short: "Show the newest armor on a suit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, found, err := e.PeekArmor(ctx, args[0])
				if err != nil {
					return err
				}
				return printHead(a, found)
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Workspace config",
		Long:  "armory.yml holds the armory id, the default suit version, server settings and webhooks.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var id string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default armory.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if id == "" {
				cfg, err := app.ResolveConfig(workspace)
				if err != nil && !force {
					return err
				}
				if cfg != nil {
					id = cfg.Armory.ID
				}
			}
			if id == "" {
				id = "armory"
			}
			if err := renameio.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "armory id (defaults to the workspace directory name)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing armory.yml")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate armory.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every suit change is recorded: creation, pushes, pops, repairs and deletes.",
	}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Suit", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.SuitID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.SuitID, "suit", "", "suit id filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for the HTTP server",
	}
	cmd.AddCommand(apiKeyCreateCmd())
	cmd.AddCommand(apiKeyListCmd())
	cmd.AddCommand(apiKeyRevokeCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, plaintext, err := e.Repo.CreateAPIKey(ctx, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": plaintext})
				}
				fmt.Printf("api key %s for %s (shown once):\n%s\n", key.ID, key.ActorID, plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				if all {
					actor = ""
				}
				keys, err := e.Repo.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list keys of every actor")
	return cmd
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("revoked %s\n", args[0])
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, allowActorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if !cmd.Flags().Changed("addr") && e.Config.Server.Addr != "" {
					addr = e.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && e.Config.Server.BasePath != "" {
					basePath = e.Config.Server.BasePath
				}
				logger := log.New(os.Stderr, "armory ", log.LstdFlags)
				e.Logger = logger
				authCfg := server.AuthConfig{
					JWTSecret:              viper.GetString("jwt_secret"),
					AllowLegacyActorHeader: allowActorHeader,
					EnableDevLogin:         devLogin,
					Logger:                 logger,
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("ARMORY_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				stopWebhooks := server.StartWebhooks(ctx, e, server.WebhookOptions{Logger: logger})
				defer func() {
					if err := stopWebhooks(); err != nil {
						logger.Printf("webhooks: %v", err)
					}
				}()
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Armory API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path (defaults to server.base_path)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login for local testing")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "accept unauthenticated X-Actor-Id headers")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, conn, err := app.OpenEngine(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func kindList() string {
	names := make([]string, 0, len(armor.Kinds))
	for _, k := range armor.Kinds {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

func printSuit(s domain.Suit) error {
	if viper.GetBool("json") {
		return printJSON(s)
	}
	fmt.Printf("suit %s %q version %d, %d record(s)\n", s.ID, s.Name, s.Version, s.Size)
	if len(s.Armor) == 0 {
		return nil
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Component", "Version"})
	for i, rec := range s.Armor {
		label := rec.Kind
		if a, err := rec.Armor(); err == nil {
			label = a.Component.String()
		}
		tw.AppendRow(table.Row{i, label, rec.Version})
	}
	tw.Render()
	return nil
}

func printHead(a armor.Armor, found bool) error {
	if viper.GetBool("json") {
		if !found {
			return printJSON(map[string]any{"found": false})
		}
		return printJSON(map[string]any{"found": true, "armor": domain.RecordFromArmor(a)})
	}
	if !found {
		fmt.Println("suit is empty")
		return nil
	}
	fmt.Printf("%s (version %d)\n", a.Component, a.Version)
	return nil
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
