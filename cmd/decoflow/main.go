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

	"decoflow/internal/config"
	"decoflow/internal/domain"
	"decoflow/internal/engine"
	"decoflow/internal/hub"
	"decoflow/internal/journal"
	"decoflow/internal/orders"
	"decoflow/internal/sequence"
	"decoflow/internal/server"
	"decoflow/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "decoflow",
	Short: "Decoration workflow coordinator",
	Long: `Decoflow coordinates multi-team decoration work on production orders.
Each component carries a decoration sequence (for example coating_printing_foiling);
teams dispatch their stage in order and decoflow routes the handoff notification
to the next team, gating the first team on vehicle approval when sample vehicles
are attached. State lives in the orders service; decoflow keeps a local journal
of every notification batch it emits.`,
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
	viper.SetEnvPrefix("DECOFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("team", "", "acting team token")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("team", rootCmd.PersistentFlags().Lookup("team"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(seqCmd())
	rootCmd.AddCommand(componentCmd())
	rootCmd.AddCommand(logCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the decoflow HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if secret := os.Getenv("DECOFLOW_JWT_SECRET"); secret != "" {
				cfg.Auth.JWTSecret = secret
			}
			if cfg.Auth.JWTSecret == "" && !cfg.Auth.AllowTeamHeader {
				return fmt.Errorf("auth.jwt_secret (or DECOFLOW_JWT_SECRET) is required unless auth.allow_team_header is enabled")
			}
			if basePath == "" {
				basePath = cfg.Service.BasePath
			}

			conn, err := journal.Open(journal.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := journal.Migrate(conn); err != nil {
				return err
			}

			local := hub.New()
			var pub hub.Publisher = local
			if cfg.Redis.Addr != "" {
				bridge := hub.NewBridge(local, cfg.Redis.Addr, cfg.Redis.Password)
				defer bridge.Close()
				go func() {
					if err := bridge.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
						fmt.Println("redis bridge stopped:", err)
					}
				}()
				pub = bridge
			}

			client := orders.New(cfg.Orders.BaseURL, cfg.Orders.Username)
			client.Timeout = time.Duration(cfg.Orders.TimeoutSeconds) * time.Second
			eng := engine.New(client, pub, journal.Writer{DB: conn}, cfg)

			handler, err := server.New(server.Config{
				Engine:   eng,
				Hub:      local,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:       cfg.Auth.JWTSecret,
					AllowTeamHeader: cfg.Auth.AllowTeamHeader,
				},
			})
			if err != nil {
				return err
			}
			server.StartWebhookForwarder(journal.Repo{DB: conn}, cfg.Webhooks)

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving decoflow API on http://%s%s (stream at %s/stream, OpenAPI at %s/openapi.json)\n", addr, basePath, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8090", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to service.base_path)")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var ordersURL string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default decoflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(ordersURL)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&ordersURL, "orders-url", "http://127.0.0.1:3000", "orders service base URL")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the resolved workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
	return cmd
}

func seqCmd() *cobra.Command {
	seq := &cobra.Command{Use: "seq", Short: "Inspect decoration sequences"}
	seq.AddCommand(seqShowCmd())
	seq.AddCommand(seqCheckCmd())
	return seq
}

func seqShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <sequence>",
		Short: "Show the teams of a sequence in handoff order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			teams := sequence.Parse(args[0])
			if viper.GetBool("json") {
				return printJSON(teams)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"#", "Team", "Previous", "Next"})
			for i, team := range teams {
				prev, next := "", ""
				if i > 0 {
					prev = teams[i-1]
				}
				if i < len(teams)-1 {
					next = teams[i+1]
				}
				tw.AppendRow(table.Row{i + 1, team, prev, next})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func seqCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <order> <item> <component>",
		Short: "Check whether a team can work on a component now",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			team := viper.GetString("team")
			if team == "" {
				return fmt.Errorf("--team is required")
			}
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			client := newOrdersClient(cfg)
			comp, err := client.GetComponent(cmd.Context(), domain.Ref{
				OrderNumber: args[0], ItemID: args[1], ComponentID: args[2],
			})
			if err != nil {
				return err
			}
			res := workflow.CanWork(comp, team)
			if viper.GetBool("json") {
				return printJSON(map[string]any{
					"team":        team,
					"can_work":    res.CanWork,
					"reason":      res.Reason,
					"waiting_for": res.WaitingFor,
				})
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Team", "Can Work", "Reason", "Waiting For"})
			tw.AppendRow(table.Row{team, res.CanWork, res.Reason, res.WaitingFor})
			tw.Render()
			if !res.CanWork {
				fmt.Println(workflow.WaitingMessage(comp, team))
			}
			return nil
		},
	}
	return cmd
}

func componentCmd() *cobra.Command {
	comp := &cobra.Command{Use: "component", Short: "Inspect components"}
	comp.AddCommand(componentShowCmd())
	return comp
}

func componentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <order> <item> <component>",
		Short: "Fetch a component snapshot from the orders service",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			client := newOrdersClient(cfg)
			comp, err := client.GetComponent(cmd.Context(), domain.Ref{
				OrderNumber: args[0], ItemID: args[1], ComponentID: args[2],
			})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(comp)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Stage", "Status", "Dispatched By"})
			for _, team := range sequence.Parse(comp.DecoSequence) {
				stage := comp.Decorations[team]
				tw.AppendRow(table.Row{team, workflow.StageStatusFor(comp, team), stage.DispatchedBy})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Notification journal",
		Long:  "The local diary of every notification batch decoflow emitted, including failed actions.",
	}
	log.AddCommand(logTailCmd())
	log.AddCommand(logHistoryCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent journal events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(func(repo journal.Repo) error {
				events, err := repo.Tail(cmd.Context(), n)
				if err != nil {
					return err
				}
				return renderEvents(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func logHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <order> <item> <component>",
		Short: "Show every journal event for one component",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(func(repo journal.Repo) error {
				events, err := repo.ComponentHistory(cmd.Context(), args[0], args[1], args[2])
				if err != nil {
					return err
				}
				return renderEvents(events)
			})
		},
	}
	return cmd
}

// --- helpers ---

func newOrdersClient(cfg *config.Config) *orders.Client {
	client := orders.New(cfg.Orders.BaseURL, cfg.Orders.Username)
	client.Timeout = time.Duration(cfg.Orders.TimeoutSeconds) * time.Second
	return client
}

func withRepo(fn func(journal.Repo) error) error {
	conn, err := journal.Open(journal.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := journal.Migrate(conn); err != nil {
		return err
	}
	return fn(journal.Repo{DB: conn})
}

func renderEvents(events []journal.Event) error {
	if viper.GetBool("json") {
		return printJSON(events)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "TS", "Type", "Room", "Actor", "Component"})
	for _, e := range events {
		tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.Room, e.Actor, e.ComponentID})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
