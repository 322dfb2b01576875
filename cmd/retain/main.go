package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftwoodlabs/retain/internal/config"
	"github.com/driftwoodlabs/retain/internal/gateway"
	"github.com/driftwoodlabs/retain/internal/memory"
	"github.com/driftwoodlabs/retain/internal/store"
)

// ScoreOptions for running the score command with custom dependencies
type ScoreOptions struct {
	Store  memory.Store
	Stdin  io.Reader
	Stdout io.Writer
}

var rootCmd = &cobra.Command{
	Use:   "retain",
	Short: "retain - importance scoring and memory lifecycle engine",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway (HTTP API + lifecycle cron)",
	RunE:  runServe,
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a conversation from a flag or stdin",
	RunE:  runScore,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show retain status",
	RunE:  runStatus,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config directory",
	RunE:  runOnboard,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run one expiry/reinforcement pass and exit",
	RunE:  runCleanup,
}

var messageFlag string

func init() {
	scoreCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to score")
	rootCmd.AddCommand(serveCmd, scoreCmd, statusCmd, onboardCmd, cleanupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

// runScore is the command handler that uses default options
func runScore(cmd *cobra.Command, args []string) error {
	return runScoreWithOptions(ScoreOptions{})
}

// runScoreWithOptions scores a transcript with injectable dependencies
// for testing. Each stdin line becomes one user segment.
func runScoreWithOptions(opts ScoreOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	segments, err := readSegments(stdin)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return fmt.Errorf("nothing to score: pass -m or pipe a transcript")
	}

	st := opts.Store
	if st == nil {
		sq := store.New(cfg.Store.DBPath, cfg.Scoring.DefaultSilentDays)
		if err := sq.Initialize(context.Background()); err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer sq.Shutdown(context.Background())
		st = sq
	}

	var model memory.ModelScorer
	if cfg.Model.Enabled {
		model = memory.NewModelScorer(cfg.Model)
	}

	scorer, err := memory.NewScorer(cfg.Scoring, st, model)
	if err != nil {
		return fmt.Errorf("create scorer: %w", err)
	}

	result := scorer.Score(context.Background(), segments)
	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Fprintln(stdout, string(data))
	return nil
}

// readSegments builds the transcript: the -m flag wins, otherwise each
// non-empty stdin line is one user segment.
func readSegments(stdin io.Reader) ([]memory.Segment, error) {
	now := time.Now().UTC()

	if messageFlag != "" {
		return []memory.Segment{{Role: "user", Content: messageFlag, Timestamp: now}}, nil
	}

	var segments []memory.Segment
	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		segments = append(segments, memory.Segment{Role: "user", Content: line, Timestamp: now})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return segments, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Scoring: enabled=%v thresholds=%d/%d defaultTier=%s\n",
		cfg.Scoring.Enabled, cfg.Scoring.ExplicitThreshold, cfg.Scoring.EphemeralThreshold, cfg.Scoring.DefaultTier)
	fmt.Printf("Model: enabled=%v\n", cfg.Model.Enabled)
	if cfg.Model.APIKey != "" && len(cfg.Model.APIKey) > 8 {
		masked := cfg.Model.APIKey[:4] + "..." + cfg.Model.APIKey[len(cfg.Model.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Model.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Store: %s (%s)\n", cfg.Store.Backend, cfg.Store.DBPath)
	fmt.Printf("Gateway: %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)

	if _, err := os.Stat(cfg.Store.DBPath); err != nil {
		fmt.Println("Memories: no database yet (run 'retain serve' or 'retain score')")
		return nil
	}

	sq := store.New(cfg.Store.DBPath, cfg.Scoring.DefaultSilentDays)
	ctx := context.Background()
	if err := sq.Initialize(ctx); err != nil {
		fmt.Printf("Memories: error (%v)\n", err)
		return nil
	}
	defer sq.Shutdown(ctx)

	for _, tier := range []memory.Tier{memory.TierExplicit, memory.TierSilent, memory.TierEphemeral} {
		n, err := sq.Count(ctx, tier)
		if err != nil {
			continue
		}
		fmt.Printf("Memories (%s): %d\n", tier, n)
	}
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to tune thresholds or enable the model scorer\n", cfgPath)
	fmt.Println("  2. Or set RETAIN_MODEL_API_KEY / OPENAI_API_KEY to enable model scoring")
	fmt.Println("  3. Run 'retain score -m \"remember this forever\"' to test")

	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sq := store.New(cfg.Store.DBPath, cfg.Scoring.DefaultSilentDays)
	ctx := context.Background()
	if err := sq.Initialize(ctx); err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer sq.Shutdown(ctx)

	lc := memory.NewLifecycle(sq, func() config.ScoringConfig { return cfg.Scoring })

	cleaned := lc.CleanupExpired(ctx)
	fmt.Printf("Cleanup: deleted=%d upgraded=%d\n", cleaned.Deleted, cleaned.Upgraded)

	reinforced := lc.ProcessReinforcements(ctx)
	fmt.Printf("Reinforcement: upgraded=%d\n", reinforced.Upgraded)

	return nil
}
