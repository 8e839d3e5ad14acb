// Package main is the leafid CLI entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/verdantlabs/leafid/internal/catalog"
	"github.com/verdantlabs/leafid/internal/config"
	"github.com/verdantlabs/leafid/internal/embedding"
	"github.com/verdantlabs/leafid/internal/keyword"
	"github.com/verdantlabs/leafid/internal/liveindex"
	"github.com/verdantlabs/leafid/internal/models"
	"github.com/verdantlabs/leafid/internal/records"
	"github.com/verdantlabs/leafid/internal/retrieval"
	"github.com/verdantlabs/leafid/internal/server"
	"github.com/verdantlabs/leafid/internal/store"
	"github.com/verdantlabs/leafid/internal/vector"
	"github.com/verdantlabs/leafid/internal/watcher"
	"github.com/verdantlabs/leafid/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/leafid/config.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "server":
		runServer()
	case "identify":
		runIdentify()
	case "search":
		runSearch()
	case "add":
		runAdd()
	case "sync":
		runSync()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("leafid version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`leafid - plant identification engine

Usage:
  leafid server   [-config path] [-debug]     run the API server
  leafid identify [-config path] <image>      identify a plant photo
  leafid search   [-config path] <query>      full-text record search
  leafid add      [-config path] <record.yaml> add or update a record
  leafid sync     [-config path]              run index maintenance to completion
  leafid status   [-config path]              show record and index counts
  leafid version                              print version
`)
}

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory takes precedence (for development).
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				return config.Load(fallback)
			}
		}
	}
	return config.Load(path)
}

// components bundles the wired engine for a command's lifetime.
type components struct {
	cfg         *config.Config
	logger      *zap.Logger
	store       *store.SQLiteStore
	keywords    keyword.Index
	embedder    embedding.Embedder
	loader      *catalog.Loader
	live        *vector.Index
	coordinator *retrieval.Coordinator
	service     *records.Service
	maintainer  *liveindex.Maintainer
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	st, err := store.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}

	kw, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open keyword index: %w", err)
	}

	emb := newEmbedder(cfg, logger)

	var open func() ([]byte, error)
	if cfg.Storage.CatalogPath != "" {
		artifactPath := cfg.Storage.CatalogPath
		open = func() ([]byte, error) { return os.ReadFile(artifactPath) }
	}
	loader := catalog.NewLoader(cfg.Embedding.Dimensions, open, catalog.WithLogger(logger))
	loader.Start()

	c := &components{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		keywords: kw,
		embedder: emb,
		loader:   loader,
		service:  records.NewService(st, kw, records.WithLogger(logger)),
	}

	if cfg.Index.Name != "" {
		ctx := context.Background()
		if err := st.CreateVectorIndex(ctx, cfg.Index.Name, cfg.Embedding.Dimensions); err != nil {
			c.Close()
			return nil, fmt.Errorf("register vector index: %w", err)
		}
		live, err := vector.NewIndex(cfg.Index.Name, cfg.Embedding.Dimensions)
		if err != nil {
			c.Close()
			return nil, err
		}
		// Hydrate the serving mirror from the durable copy.
		entries, err := st.ListVectors(ctx, cfg.Index.Name)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("load vector index: %w", err)
		}
		for _, e := range entries {
			if err := live.Upsert(ctx, []string{e.RecordID}, [][]float32{e.Vector}); err != nil {
				logger.Warn("skipping stored vector", zap.String("record_id", e.RecordID), zap.Error(err))
			}
		}
		c.live = live
		c.maintainer = liveindex.NewMaintainer(cfg.Index.Name, st, emb,
			liveindex.WithBatchSize(cfg.Index.BatchSize),
			liveindex.WithYieldInterval(cfg.Index.YieldInterval),
			liveindex.WithMirror(live),
			liveindex.WithLogger(logger),
		)
	}

	opts := []retrieval.Option{
		retrieval.WithKeywordIndex(kw),
		retrieval.WithLogger(logger),
	}
	if c.live != nil {
		opts = append(opts, retrieval.WithLiveIndex(c.live))
	}
	c.coordinator = retrieval.New(loader, emb, st, cfg.Identify, cfg.Embedding.ZoomLevels, opts...)
	return c, nil
}

// newEmbedder prefers the configured ONNX model and falls back to the
// deterministic mock so the engine stays usable without a model.
func newEmbedder(cfg *config.Config, logger *zap.Logger) embedding.Embedder {
	if cfg.Embedding.ModelPath != "" {
		emb, err := embedding.NewONNXEmbedder(cfg.Embedding.ModelPath, cfg.Embedding.Dimensions)
		if err == nil {
			return emb
		}
		logger.Warn("ONNX embedder unavailable, using mock embedder", zap.Error(err))
	}
	return embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
}

func (c *components) Close() {
	if c.embedder != nil {
		_ = c.embedder.Close()
	}
	if c.keywords != nil {
		_ = c.keywords.Close()
	}
	if c.store != nil {
		_ = c.store.Close()
	}
}

// setup parses the shared flags, loads config, and wires components for
// one-shot commands.
func setup(args []string, name string) (*components, []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || *debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	c, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Printf("Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return c, fs.Args()
}

func runServer() {
	c, _ := setup(os.Args[2:], "server")
	defer c.Close()
	defer c.logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if c.maintainer != nil {
		c.maintainer.Start(ctx)
	}
	if c.cfg.Watch.Directory != "" {
		w := watcher.NewWatcher(c.cfg.Watch.Directory, c.cfg.Watch.Extensions, c.service, watcher.WithLogger(c.logger))
		if err := w.Start(ctx); err != nil {
			c.logger.Error("watcher failed to start", zap.Error(err))
		} else {
			defer w.Stop()
			go w.SyncExisting(ctx)
		}
	}

	srv := server.NewServer(c.coordinator, c.service, c.store, c.loader, c.cfg.Index.Name, &c.cfg.Server, c.logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		c.logger.Error("server stopped", zap.Error(err))
	case sig := <-sigCh:
		c.logger.Info("shutting down", zap.String("signal", sig.String()))
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Stop(shutdownCtx)
	}
}

func runIdentify() {
	c, args := setup(os.Args[2:], "identify")
	defer c.Close()
	if len(args) < 1 {
		fmt.Println("Usage: leafid identify <image>")
		os.Exit(1)
	}
	f, err := os.Open(args[0])
	if err != nil {
		fmt.Printf("Failed to open image: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		fmt.Printf("Failed to decode image: %v\n", err)
		os.Exit(1)
	}

	resp := c.coordinator.IdentifyByImage(context.Background(), img)
	if len(resp.Matches) == 0 {
		fmt.Println("No confident identification.")
		return
	}
	for _, m := range resp.Matches {
		printRecord(m.Record, m.Distance)
	}
}

func runSearch() {
	c, args := setup(os.Args[2:], "search")
	defer c.Close()
	if len(args) < 1 {
		fmt.Println("Usage: leafid search <query>")
		os.Exit(1)
	}
	resp := c.coordinator.IdentifyByText(context.Background(), args[0], 0)
	if len(resp.Results) == 0 {
		fmt.Println("No results.")
		return
	}
	for _, rec := range resp.Results {
		printRecord(rec, -1)
	}
}

func printRecord(rec *models.Record, distance float64) {
	title := rec.Name
	if rec.SecondaryName != "" {
		title += " (" + rec.SecondaryName + ")"
	}
	if distance >= 0 {
		fmt.Printf("%s  [distance %.3f]\n", title, distance)
	} else {
		fmt.Println(title)
	}
	switch rec.Kind {
	case models.KindPlant:
		if rec.Care != nil {
			if rec.Care.Light != "" {
				fmt.Printf("  light: %s\n", truncate(rec.Care.Light, 120))
			}
			if rec.Care.Water != "" {
				fmt.Printf("  water: %s\n", truncate(rec.Care.Water, 120))
			}
			if rec.Care.Soil != "" {
				fmt.Printf("  soil:  %s\n", truncate(rec.Care.Soil, 120))
			}
			if rec.Care.Notes != "" {
				fmt.Printf("  notes: %s\n", truncate(rec.Care.Notes, 120))
			}
		}
	case models.KindGeneric:
		if rec.Description != "" {
			fmt.Printf("  %s\n", truncate(rec.Description, 200))
		}
	}
}

// truncate caps s at max bytes for terminal output, marking the cut.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func runAdd() {
	c, args := setup(os.Args[2:], "add")
	defer c.Close()
	if len(args) < 1 {
		fmt.Println("Usage: leafid add <record.yaml>")
		os.Exit(1)
	}
	in, err := models.ParseRecordFile(args[0])
	if err != nil {
		fmt.Printf("Failed to parse record: %v\n", err)
		os.Exit(1)
	}
	if in.ImagePath != "" && !filepath.IsAbs(in.ImagePath) {
		in.ImagePath = filepath.Join(filepath.Dir(args[0]), in.ImagePath)
	}
	rec, err := c.service.Upsert(context.Background(), in)
	if err != nil {
		fmt.Printf("Failed to add record: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Added %s (%s)\n", rec.Name, rec.ID)
}

func runSync() {
	c, _ := setup(os.Args[2:], "sync")
	defer c.Close()
	if c.maintainer == nil {
		fmt.Println("No live index configured.")
		return
	}
	ctx := context.Background()
	if err := c.maintainer.Sync(ctx); err != nil {
		fmt.Printf("Sync failed: %v\n", err)
		os.Exit(1)
	}
	n, err := c.store.CountVectors(ctx, c.cfg.Index.Name)
	if err != nil {
		fmt.Printf("Sync finished (count unavailable: %v)\n", err)
		return
	}
	fmt.Printf("Sync finished: %d vectors in %s\n", n, c.cfg.Index.Name)
}

func runStatus() {
	c, _ := setup(os.Args[2:], "status")
	defer c.Close()
	ctx := context.Background()
	recs, err := c.store.CountRecords(ctx)
	if err != nil {
		fmt.Printf("Failed to read status: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Records:         %d\n", recs)
	fmt.Printf("Catalog entries: %d\n", c.loader.Catalog().Len())
	if c.cfg.Index.Name != "" {
		if n, err := c.store.CountVectors(ctx, c.cfg.Index.Name); err == nil {
			fmt.Printf("Live vectors:    %d (%s)\n", n, c.cfg.Index.Name)
		}
	}
}
