// Package main provides the tdcore CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cortexa-labs/tdcore/pkg/audit"
	"github.com/cortexa-labs/tdcore/pkg/config"
	"github.com/cortexa-labs/tdcore/pkg/graph"
	"github.com/cortexa-labs/tdcore/pkg/store"
	"github.com/cortexa-labs/tdcore/pkg/tdc"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tdcore",
		Short: "Temporal Decision Core - causal edge gating for event streams",
		Long: `tdcore decides whether time-separated events form causal edges.

Features:
  • Dual-circuit gating (promoter vs suppressor) with confidence scores
  • Adaptive temporal window, widened under threat and narrowed under load
  • Durable event and edge storage (in-memory or Badger)
  • Bounded temporal graph queries
  • Tamper-evident append-only decision trail`,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("data-dir", "", "Override storage data directory")
	rootCmd.PersistentFlags().String("backend", "", "Storage backend: memory or badger")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tdcore v%s (%s)\n", version, commit)
		},
	})

	// Init command
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a tdcore data directory",
		RunE:  runInit,
	}
	initCmd.Flags().String("dir", "./data", "Directory to initialize")
	rootCmd.AddCommand(initCmd)

	// Eval command
	evalCmd := &cobra.Command{
		Use:   "eval [source-event-id] [target-event-id]",
		Short: "Evaluate a causal edge between two recorded events",
		Args:  cobra.ExactArgs(2),
		RunE:  runEval,
	}
	evalCmd.Flags().String("actor", "", "Agent id to attribute the decision to")
	rootCmd.AddCommand(evalCmd)

	// Replay command
	replayCmd := &cobra.Command{
		Use:   "replay [batch.yaml]",
		Short: "Replay a YAML batch of events and evaluations",
		Args:  cobra.ExactArgs(1),
		RunE:  runReplay,
	}
	replayCmd.Flags().String("actor", "replay", "Agent id to attribute decisions to")
	rootCmd.AddCommand(replayCmd)

	// Query command
	queryCmd := &cobra.Command{
		Use:   "query [start-event-id]",
		Short: "Traverse the temporal graph from an event",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery,
	}
	queryCmd.Flags().Int("depth", 3, "Maximum traversal depth in hops")
	queryCmd.Flags().Float64("min-confidence", 0, "Minimum edge confidence")
	rootCmd.AddCommand(queryCmd)

	// Audit commands
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Decision trail operations",
	}
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize gating activity from the decision trail",
		RunE:  runAuditReport,
	}
	reportCmd.Flags().Duration("window", 24*time.Hour, "Reporting period ending now")
	auditCmd.AddCommand(reportCmd)
	auditCmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Verify the decision trail hash chain",
		RunE:  runAuditVerify,
	})
	rootCmd.AddCommand(auditCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig assembles configuration in precedence order: defaults, env,
// config file, CLI flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.LoadFromEnv()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Storage.Backend = backend
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("dir")

	fmt.Printf("📂 Initializing tdcore data directory in %s\n", dir)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0750); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}

	configPath := filepath.Join(dir, "tdcore.yaml")
	configContent := `# tdcore configuration
storage:
  backend: badger
  dataDir: ./data
  syncWrites: true

gate:
  threatLevel: 0.0
  loadCapacityPerSec: 100

audit:
  enabled: true
  logPath: ./data/logs/decisions.log
  syncWrites: true
  async: false

query:
  maxDepth: 10
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Println("✅ Data directory initialized")
	fmt.Printf("   Config: %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Replay a batch:   tdcore replay batch.yaml --config", configPath)
	fmt.Println("  2. Query the graph:  tdcore query <event-id> --config", configPath)

	return nil
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	actor, _ := cmd.Flags().GetString("actor")

	db, err := tdc.Open(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	result, err := db.EvaluateEdge(ctx, store.EventID(args[0]), store.EventID(args[1]), actor)
	if err != nil {
		return err
	}

	printDecision(result)
	return nil
}

// batchFile is the YAML format replay consumes: events are recorded
// first, then window adjustments applied, then pairs evaluated in order.
type batchFile struct {
	Events []struct {
		ID            string            `yaml:"id"`
		Timestamp     time.Time         `yaml:"timestamp"`
		Salience      float64           `yaml:"salience"`
		SourceAgentID string            `yaml:"sourceAgentId"`
		Context       map[string]string `yaml:"context"`
	} `yaml:"events"`

	Adjust *struct {
		ThreatLevel float64 `yaml:"threatLevel"`
		LoadFactor  float64 `yaml:"loadFactor"`
	} `yaml:"adjust"`

	Evaluations []struct {
		Source string `yaml:"source"`
		Target string `yaml:"target"`
		Actor  string `yaml:"actor"`
	} `yaml:"evaluations"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defaultActor, _ := cmd.Flags().GetString("actor")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading batch file: %w", err)
	}
	var batch batchFile
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return fmt.Errorf("parsing batch file: %w", err)
	}

	db, err := tdc.Open(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()

	fmt.Printf("📥 Replaying %d events, %d evaluations from %s\n",
		len(batch.Events), len(batch.Evaluations), args[0])

	for _, e := range batch.Events {
		err := db.RecordEvent(ctx, &store.Event{
			ID:            store.EventID(e.ID),
			Timestamp:     e.Timestamp,
			Salience:      e.Salience,
			SourceAgentID: e.SourceAgentID,
			Context:       e.Context,
		})
		if err != nil {
			return fmt.Errorf("recording event %s: %w", e.ID, err)
		}
	}

	if batch.Adjust != nil {
		w := db.AdjustWindow(batch.Adjust.ThreatLevel, batch.Adjust.LoadFactor)
		fmt.Printf("🪟 Window adjusted: maxGap=%.0fms threat=%.2f load=%.2f\n",
			w.MaxGapMs, w.ThreatMultiplier, w.LoadFactor)
	}

	linked := 0
	for _, ev := range batch.Evaluations {
		actor := ev.Actor
		if actor == "" {
			actor = defaultActor
		}
		result, err := db.EvaluateEdge(ctx, store.EventID(ev.Source), store.EventID(ev.Target), actor)
		if err != nil {
			return fmt.Errorf("evaluating %s -> %s: %w", ev.Source, ev.Target, err)
		}
		if result.Decision.ShouldLink {
			linked++
		}
	}

	stats := db.Stats()
	fmt.Printf("✅ Replay complete: %d/%d pairs linked, mean confidence %.2f\n",
		linked, len(batch.Evaluations), stats.MeanConfidence)
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	depth, _ := cmd.Flags().GetInt("depth")
	minConfidence, _ := cmd.Flags().GetFloat64("min-confidence")

	db, err := tdc.Open(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := db.QueryTemporalGraph(context.Background(), graph.Query{
		StartEventID:  store.EventID(args[0]),
		MaxDepth:      depth,
		MinConfidence: minConfidence,
	})
	if err != nil {
		return err
	}

	fmt.Printf("🔍 %d nodes, %d edges (%.1fms)\n",
		result.NodeCount, result.EdgeCount, result.QueryDurationMs)
	for _, edge := range result.Edges {
		fmt.Printf("   %s -> %s  confidence=%.2f  %s\n",
			edge.SourceEventID, edge.TargetEventID, edge.Confidence,
			edge.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func runAuditReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	window, _ := cmd.Flags().GetDuration("window")

	end := time.Now().UTC()
	start := end.Add(-window)

	reader := audit.NewReader(cfg.Audit.LogPath)
	report, err := reader.GenerateDecisionReport(start, end, window.String())
	if err != nil {
		return err
	}

	fmt.Printf("📊 Decision report (last %s)\n", report.Period)
	fmt.Printf("   Total decisions: %d\n", report.TotalDecisions)
	fmt.Printf("   Edges created:   %d\n", report.EdgesCreated)
	fmt.Printf("   Rejections:      %d\n", report.Rejections)
	fmt.Printf("   Accept rate:     %.1f%%\n", report.AcceptRate*100)
	fmt.Printf("   Mean confidence: %.2f\n", report.MeanConfidence)
	fmt.Printf("   Unique agents:   %d\n", report.UniqueAgents)
	return nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	reader := audit.NewReader(cfg.Audit.LogPath)
	count, err := reader.VerifyChain()
	if err != nil {
		return fmt.Errorf("chain verification failed after %d entries: %w", count, err)
	}

	fmt.Printf("✅ Decision trail intact: %d entries verified\n", count)
	return nil
}

func printDecision(result *tdc.EvaluationResult) {
	d := result.Decision
	verdict := "❌ rejected"
	if d.ShouldLink {
		verdict = "✅ linked"
	}
	fmt.Printf("%s  promoter=%.2f suppressor=%.2f confidence=%.2f gap=%.0fms\n",
		verdict, d.PromoterScore, d.SuppressorScore, d.Confidence, d.GapMs)
	fmt.Printf("   %s\n", d.Rationale)
	if result.Edge != nil {
		fmt.Printf("   edge: %s\n", result.Edge.ID)
	}
	fmt.Printf("   audit: %s\n", result.AuditID)
}
