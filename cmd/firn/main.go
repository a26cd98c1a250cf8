package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/firnlabs/firn/pkg/config"
	"github.com/firnlabs/firn/pkg/datagen"
	"github.com/firnlabs/firn/pkg/engine"
	"github.com/firnlabs/firn/pkg/log"
	"github.com/firnlabs/firn/pkg/orchestrator"
	"github.com/firnlabs/firn/pkg/registry"
	"github.com/firnlabs/firn/pkg/types"
	"github.com/firnlabs/firn/pkg/worker"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "firn",
	Short: "Firn - Small distributed analytical query engine",
	Long: `Firn is a sharded analytical warehouse: an orchestrator parses
SQL-subset statements, compiles aggregation queries into
map/partial-reduce/final-reduce plans, and drives a fleet of workers
that execute plan statements against parquet shards on a shared
filesystem.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Firn version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", defaultLogLevel(), "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(orchestratorCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(genCmd)
}

func defaultLogLevel() string {
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		return strings.ToLower(lvl)
	}
	return "info"
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var orchestratorCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Run the Firn orchestrator",
	Long: `Run the orchestrator control plane: worker registration and
heartbeats, the registry inspection endpoint, and the external query
endpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultOrchestrator()

		if path, _ := cmd.Flags().GetString("config"); path != "" {
			var err error
			cfg, err = config.LoadOrchestratorFile(path, cfg)
			if err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("listen") {
			cfg.ListenAddr, _ = cmd.Flags().GetString("listen")
		}
		if cmd.Flags().Changed("worker-ttl") {
			cfg.WorkerTTL, _ = cmd.Flags().GetDuration("worker-ttl")
		}
		if cmd.Flags().Changed("wait-timeout") {
			cfg.WaitTimeout, _ = cmd.Flags().GetDuration("wait-timeout")
		}
		if cmd.Flags().Changed("rpc-timeout") {
			cfg.RPCTimeout, _ = cmd.Flags().GetDuration("rpc-timeout")
		}

		reg := registry.New(cfg.WorkerTTL)
		orch := orchestrator.New(reg, orchestrator.NewWorkerClient(cfg.RPCTimeout), cfg.WaitTimeout)
		server := orchestrator.NewServer(orch, reg)

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start(cfg.ListenAddr) }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			log.Logger.Info().Str("signal", sig.String()).Msg("Shutting down orchestrator")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Stop(ctx)
		}
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a Firn worker",
	Long: `Run a compute worker: registers with the orchestrator, keeps a
heartbeat alive, and executes dispatched tasks against the local shard
files through the embedded engine.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.WorkerFromEnv()

		if path, _ := cmd.Flags().GetString("config"); path != "" {
			var err error
			cfg, err = config.LoadWorkerFile(path, cfg)
			if err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("id") {
			cfg.WorkerID, _ = cmd.Flags().GetString("id")
		}
		if cmd.Flags().Changed("listen") {
			cfg.ListenAddr, _ = cmd.Flags().GetString("listen")
		}
		if cmd.Flags().Changed("orchestrator") {
			cfg.OrchestratorURL, _ = cmd.Flags().GetString("orchestrator")
		}
		if cmd.Flags().Changed("base-url") {
			cfg.BaseURL, _ = cmd.Flags().GetString("base-url")
		}
		if cmd.Flags().Changed("heartbeat") {
			cfg.HeartbeatInterval, _ = cmd.Flags().GetDuration("heartbeat")
		}
		if cmd.Flags().Changed("threads") {
			cfg.EngineThreads, _ = cmd.Flags().GetInt("threads")
		}

		w, err := worker.New(cfg)
		if err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() { errCh <- w.Start() }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			log.Logger.Info().Str("signal", sig.String()).Msg("Shutting down worker")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return w.Stop(ctx)
		}
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <db-path> <statement>",
	Short: "Submit a query to the orchestrator",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		orchURL, _ := cmd.Flags().GetString("orchestrator")

		body, err := json.Marshal(types.ExternalQueryRequest{Path: args[0], Query: args[1]})
		if err != nil {
			return err
		}

		resp, err := http.Post(strings.TrimRight(orchURL, "/")+"/query", "application/json", strings.NewReader(string(body)))
		if err != nil {
			return fmt.Errorf("failed to reach orchestrator: %w", err)
		}
		defer resp.Body.Close()

		var out types.ExternalQueryResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("invalid orchestrator response: %w", err)
		}

		if !out.OK {
			fmt.Printf("Query failed (%s): %s\n", out.Kind, out.Error)
			os.Exit(1)
		}
		fmt.Printf("OK (%s): %s\n", out.Kind, out.Result)
		return nil
	},
}

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List active workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		orchURL, _ := cmd.Flags().GetString("orchestrator")

		resp, err := http.Get(strings.TrimRight(orchURL, "/") + "/workers")
		if err != nil {
			return fmt.Errorf("failed to reach orchestrator: %w", err)
		}
		defer resp.Body.Close()

		var out types.WorkersResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("invalid orchestrator response: %w", err)
		}

		if len(out.Active) == 0 {
			fmt.Println("No active workers")
			return nil
		}
		for _, w := range out.Active {
			fmt.Printf("%s  %s  last_seen=%s  load=%.2f\n", w.WorkerID, w.BaseURL, w.LastSeen.Format(time.RFC3339), w.Load)
		}
		return nil
	},
}

var genCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate synthetic table data",
	Long: `Create a table from the configured DDL and fill it with synthetic
shards through the real insert path.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		threads, _ := cmd.Flags().GetInt("threads")

		cfg, err := datagen.LoadConfig(path)
		if err != nil {
			return err
		}

		eng, err := engine.Open(threads)
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := datagen.Run(cmd.Context(), cfg, worker.NewExecutor(eng)); err != nil {
			return err
		}

		fmt.Printf("Generated %d shards of %d rows into %s\n", cfg.NumShards, cfg.RowsPerShard, cfg.DBPath)
		return nil
	},
}

func init() {
	orchestratorCmd.Flags().String("listen", ":8000", "Address to serve the orchestrator API on")
	orchestratorCmd.Flags().Duration("worker-ttl", 45*time.Second, "Worker liveness TTL")
	orchestratorCmd.Flags().Duration("wait-timeout", 60*time.Second, "How long a query waits for a live worker")
	orchestratorCmd.Flags().Duration("rpc-timeout", 15*time.Second, "Per-request worker RPC timeout")
	orchestratorCmd.Flags().String("config", "", "Optional YAML config file")

	workerCmd.Flags().String("id", "", "Worker ID (default: WORKER_ID env or hostname)")
	workerCmd.Flags().String("listen", ":8100", "Address to serve the worker API on")
	workerCmd.Flags().String("orchestrator", "", "Orchestrator base URL (default: ORCHESTRATOR_URL env)")
	workerCmd.Flags().String("base-url", "", "Externally reachable base URL (default: BASE_URL env)")
	workerCmd.Flags().Duration("heartbeat", 5*time.Second, "Heartbeat period")
	workerCmd.Flags().Int("threads", 4, "Embedded engine threads")
	workerCmd.Flags().String("config", "", "Optional YAML config file")

	queryCmd.Flags().String("orchestrator", "http://localhost:8000", "Orchestrator base URL")
	workersCmd.Flags().String("orchestrator", "http://localhost:8000", "Orchestrator base URL")

	genCmd.Flags().String("config", "datagen.yml", "Generator YAML config file")
	genCmd.Flags().Int("threads", 4, "Embedded engine threads")
}
