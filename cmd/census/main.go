// Package main implements the census binary: a batch tool that folds access
// log files into a durable per-channel distinct-machine estimate.
//
// Usage:
//
//	census --database PATH --log PATH    ingest a log into a SQLite store
//	census --data-file PATH --log PATH   same, with a flat snapshot store
//	census --database PATH --dump        print the daily history
//	census --test                        run the consistency simulator
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/machinecensus/machinecensus/internal/config"
	"github.com/machinecensus/machinecensus/internal/ingest"
	"github.com/machinecensus/machinecensus/internal/simulate"
	"github.com/machinecensus/machinecensus/internal/storage"
	"github.com/machinecensus/machinecensus/internal/store"
)

type flags struct {
	configPath string
	logPath    string
	database   string
	dataFile   string
	dump       bool
	test       bool
	seed       int64
}

func main() {
	f := parseFlags()

	if f.test {
		if err := simulate.NewSimulator(f.seed, log.Default()).Run(); err != nil {
			log.Fatalf("Simulation failed: %v", err)
		}
		log.Printf("Simulation passed")
		return
	}

	cfg := loadConfig(f)
	ctx := context.Background()

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	if cfg.LogPath == "" && !f.dump {
		log.Fatalf("Nothing to do: specify --log to ingest or --dump to print history")
	}

	if cfg.LogPath != "" {
		p := ingest.NewPipeline(st, log.Default())
		state, report, err := p.IngestLog(ctx, cfg.LogPath)
		if err != nil {
			log.Fatalf("Ingestion failed: %v", err)
		}
		log.Printf("Ingested %s: %d updates applied, watermark %s",
			cfg.LogPath, report.UpdatesApplied, report.Watermark.Format("2006-01-02 15:04:05"))
		dumpHistory(state)

		if cfg.Archive.Enabled {
			if err := archiveStore(ctx, cfg); err != nil {
				log.Fatalf("Archival failed: %v", err)
			}
		}
		return
	}

	state, err := st.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load store: %v", err)
	}
	dumpHistory(state)
}

func parseFlags() flags {
	f := flags{}

	flag.StringVar(&f.configPath, "config", "", "Path to YAML or JSON config file")
	flag.StringVar(&f.logPath, "log", "", "Access log file to ingest")
	flag.StringVar(&f.database, "database", "", "Path to SQLite store")
	flag.StringVar(&f.dataFile, "data-file", "", "Path to flat snapshot store")
	flag.BoolVar(&f.dump, "dump", false, "Print per-channel daily history")
	flag.BoolVar(&f.test, "test", false, "Run the consistency simulator and exit")
	flag.Int64Var(&f.seed, "seed", 42, "Random seed for the simulator")

	flag.Parse()

	if f.database != "" && f.dataFile != "" {
		fmt.Fprintln(os.Stderr, "ERROR: --database and --data-file are mutually exclusive")
		os.Exit(2)
	}
	if !f.test && f.configPath == "" && f.database == "" && f.dataFile == "" {
		fmt.Fprintln(os.Stderr, "ERROR: specify a store with --database or --data-file (or --config). See --help")
		os.Exit(2)
	}

	return f
}

// loadConfig merges config file, environment and flags, flags winning.
func loadConfig(f flags) *config.Config {
	cfg := config.DefaultConfig()
	if f.configPath != "" {
		loaded, err := config.LoadFromFile(f.configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)

	if f.database != "" {
		cfg.Store = config.StoreSQLite
		cfg.DatabasePath = f.database
	}
	if f.dataFile != "" {
		cfg.Store = config.StoreSnapshot
		cfg.DataFilePath = f.dataFile
	}
	if f.logPath != "" {
		cfg.LogPath = f.logPath
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("Failed to prepare data directories: %v", err)
	}
	return cfg
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Store == config.StoreSnapshot {
		return store.OpenSnapshot(cfg.DataFilePath), nil
	}
	return store.OpenSQLite(cfg.DatabasePath)
}

// archiveStore copies the published store to the configured archive backend.
func archiveStore(ctx context.Context, cfg *config.Config) error {
	var backend storage.ObjectStorage
	var err error

	switch cfg.Archive.Type {
	case "s3":
		backend, err = storage.NewS3Storage(ctx, cfg.Archive.S3.Bucket, storage.S3Config{
			Region:   cfg.Archive.S3.Region,
			Endpoint: cfg.Archive.S3.Endpoint,
		})
	default:
		backend, err = storage.NewLocalStorage(cfg.Archive.Path)
	}
	if err != nil {
		return err
	}

	objectPath, err := storage.NewArchiver(backend, cfg.Archive.Prefix).ArchiveStore(ctx, cfg.StorePath())
	if err != nil {
		return err
	}
	log.Printf("Archived store to %s", objectPath)
	return nil
}

// dumpHistory prints the per-channel daily history, oldest date first.
func dumpHistory(state *store.State) {
	for _, channel := range state.Channels() {
		keys := state.ChannelHistory(channel)
		if len(keys) == 0 {
			continue
		}
		fmt.Printf("---- channel: %s ----\n", channel)
		for _, key := range keys {
			entry := state.History[key]
			fmt.Printf("%s: %4d updates sent, %4d machines total\n",
				key.Date, entry.UpdatesSeen, entry.DistinctEstimate)
		}
	}
}
