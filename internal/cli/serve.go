package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/synapse/internal/config"
	"github.com/lazypower/synapse/internal/engine"
	"github.com/lazypower/synapse/internal/logging"
	"github.com/lazypower/synapse/internal/metrics"
	"github.com/lazypower/synapse/internal/server"
	"github.com/lazypower/synapse/internal/store"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to config file (default $SYNAPSE_CONFIG)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Logging.Env, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	collector := metrics.New("synapse")

	embedder, err := buildEmbedder(cfg, collector, log)
	if err != nil {
		return err
	}

	graph := engine.New(embedder, engineParams(cfg.Engine))
	graph.SetLogger(log)
	graph.SetMetrics(collector)

	// Restore the latest archived snapshot when an archive is configured.
	archivePath := cfg.Archive.Path
	if archivePath == "" {
		archivePath, err = store.DefaultArchivePath()
		if err != nil {
			return fmt.Errorf("resolve archive path: %w", err)
		}
	}
	archive, err := store.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archive.Close()

	if snap, err := archive.LoadLatest(); err != nil {
		log.Warn("archive restore failed", zap.Error(err))
	} else if snap != nil {
		if err := graph.Import(*snap); err != nil {
			log.Warn("archived snapshot rejected", zap.Error(err))
		} else {
			log.Info("restored archived snapshot", zap.Int("nodes", len(snap.Nodes)))
		}
	}

	// Optional scheduled consolidation sweep.
	if cfg.Consolidation.Schedule != "" {
		sweeper := cron.New()
		if _, err := sweeper.AddFunc(cfg.Consolidation.Schedule, func() {
			res := graph.Consolidate()
			log.Info("scheduled consolidation",
				zap.Int("merged", res.Merged),
				zap.Int("decayed", res.Decayed),
				zap.Int("pruned", res.RelationsPruned))
		}); err != nil {
			return fmt.Errorf("invalid consolidation schedule %q: %w", cfg.Consolidation.Schedule, err)
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	srv := server.New(graph, log, collector, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("synapse serving",
			zap.String("addr", addr),
			zap.String("archive", archivePath),
			zap.String("embedder", embedder.Model()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-done
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}

	// Archive the final state so the next boot restores it.
	if _, err := archive.SaveSnapshot(graph.Export()); err != nil {
		return fmt.Errorf("archive final snapshot: %w", err)
	}
	if pruned, err := archive.PruneSnapshots(cfg.Archive.Keep); err != nil {
		log.Warn("snapshot prune failed", zap.Error(err))
	} else if pruned > 0 {
		log.Info("pruned old snapshots", zap.Int("removed", pruned))
	}

	return nil
}

// buildEmbedder probes Ollama and falls back to the deterministic hash
// provider when it is unreachable. Either way the result is wrapped in the
// ristretto embedding cache.
func buildEmbedder(cfg config.Config, collector *metrics.Collector, log *zap.Logger) (engine.Embedder, error) {
	var inner engine.Embedder
	if engine.ProbeOllama(cfg.Embedder.OllamaURL, cfg.Embedder.Model) {
		inner = engine.NewOllamaEmbedder(cfg.Embedder.OllamaURL, cfg.Embedder.Model, 0)
		log.Info("using ollama embedder", zap.String("model", cfg.Embedder.Model))
	} else {
		inner = engine.NewHashEmbedder(cfg.Embedder.Dimensions)
		log.Warn("ollama unreachable, using hash embedder",
			zap.String("url", cfg.Embedder.OllamaURL))
	}
	return engine.NewCachingEmbedder(inner, collector)
}

func engineParams(ec config.EngineConfig) engine.Params {
	return engine.Params{
		RelationThreshold:      ec.RelationThreshold,
		RelevanceThreshold:     ec.RelevanceThreshold,
		ClusterThreshold:       ec.ClusterThreshold,
		DecayRate:              ec.DecayRate,
		ReinforcementBoost:     ec.ReinforcementBoost,
		ImportanceFloor:        ec.ImportanceFloor,
		DecayDeleteImportance:  ec.DecayDeleteImportance,
		DecayDeleteAge:         time.Duration(ec.DecayDeleteAgeDays) * 24 * time.Hour,
		StrongImportance:       ec.StrongImportance,
		RelationBoost:          ec.RelationBoost,
		PruneThreshold:         ec.PruneThreshold,
		ConsolidationThreshold: ec.ConsolidationThreshold,
	}
}
