// (C) 2025 GoodData Corporation
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"mockpilot/internal/config"
	"mockpilot/internal/match"
	"mockpilot/internal/server"
	"mockpilot/internal/storage"
	"mockpilot/internal/types"
)

// commonOptions are shared by every subcommand: the config file and the
// storage overrides, so CLI commands operate on the same storage the
// server would use.
type commonOptions struct {
	Config      string `long:"config" short:"c" description:"YAML config file"`
	StorageType string `long:"storage.type" description:"Storage backing (lowdb or sqlite)"`
	StoragePath string `long:"storage.path" description:"Storage path"`
	LogLevel    string `long:"log.level" default:"info" description:"Log level (debug, info, warn, error)"`
}

func (o *commonOptions) load() (*config.Config, error) {
	level, err := log.ParseLevel(o.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q", o.LogLevel)
	}
	log.SetLevel(level)

	cfg, err := config.Load(o.Config)
	if err != nil {
		return nil, err
	}
	if o.StorageType != "" {
		cfg.Storage.Type = o.StorageType
	}
	if o.StoragePath != "" {
		cfg.Storage.Path = o.StoragePath
	}
	return cfg, nil
}

// openStore builds and initializes the configured storage backing.
func openStore(cfg *config.Config) (storage.Store, error) {
	var store storage.Store
	switch cfg.Storage.Type {
	case config.StorageSQLite:
		store = storage.NewSQLiteStore(cfg.Storage.Path)
	case config.StorageLowDB, "":
		store = storage.NewJournalStore(cfg.Storage.Path)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
	if err := store.Init(); err != nil {
		return nil, err
	}
	return store, nil
}

type cmdStart struct {
	commonOptions
	Port     int    `long:"port" short:"p" description:"Listen port"`
	Mode     string `long:"mode" short:"m" description:"Start mode (mock, proxy, intercept)"`
	Target   string `long:"target" short:"t" description:"Upstream target base URL"`
	Strategy string `long:"matching.strategy" description:"Matching strategy (exact, smart, fuzzy)"`
}

func (c *cmdStart) Execute(_ []string) error {
	cfg, err := c.load()
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if c.Mode != "" {
		cfg.Server.Mode = c.Mode
	}
	if c.Target != "" {
		cfg.Target.URL = c.Target
	}
	if c.Strategy != "" {
		cfg.Matching.Strategy = c.Strategy
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	matcher, err := match.New(match.Config{
		Strategy:           match.Strategy(cfg.Matching.Strategy),
		IgnoredHeaders:     cfg.Matching.IgnoreHeaders,
		IgnoredQueryParams: cfg.Matching.IgnoreQueryParams,
	})
	if err != nil {
		store.Close()
		return err
	}

	engine, err := server.New(store, matcher, server.Options{
		Port:          cfg.Server.Port,
		Mode:          server.Mode(cfg.Server.Mode),
		TargetURL:     cfg.Target.URL,
		TargetTimeout: cfg.TargetTimeout(),
		CORSEnabled:   cfg.CORS.Enabled,
		CORSOrigins:   cfg.CORS.Origins,
	})
	if err != nil {
		store.Close()
		return err
	}

	if cfg.Chaos.Enabled {
		engine.Chaos().SetEnabled(true)
		if cfg.Chaos.Latency.Max > 0 {
			if err := engine.Chaos().SetDefaultLatency(&types.LatencyConfig{
				Min: cfg.Chaos.Latency.Min,
				Max: cfg.Chaos.Latency.Max,
			}); err != nil {
				store.Close()
				return err
			}
		}
		if cfg.Chaos.ErrorRate > 0 {
			if err := engine.Chaos().SetDefaultError(&types.ErrorInjectionConfig{
				Rate:    cfg.Chaos.ErrorRate,
				Status:  503,
				Message: "Injected by chaos layer",
			}); err != nil {
				store.Close()
				return err
			}
		}
	}

	printBanner(cfg)

	srv := server.NewServer(engine)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		store.Close()
		return err
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
		return srv.Shutdown()
	}
}

type cmdList struct {
	commonOptions
	Path string `long:"path" description:"Filter by path glob ('*' matches any run)"`
}

func (c *cmdList) Execute(_ []string) error {
	cfg, err := c.load()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var entries []*types.RecordedEntry
	if c.Path != "" {
		entries, err = store.Search("", c.Path)
	} else {
		entries, err = store.List()
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		created := time.UnixMilli(entry.CreatedAt).UTC().Format(time.RFC3339)
		fmt.Printf("%s  %-7s %-40s %d  %s\n",
			entry.ID, entry.Request.Method, entry.Request.Path,
			entry.Response.Status, created)
	}
	fmt.Printf("%d entries\n", len(entries))
	return nil
}

type cmdClear struct {
	commonOptions
}

func (c *cmdClear) Execute(_ []string) error {
	cfg, err := c.load()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Println("All entries cleared")
	return nil
}

type cmdDelete struct {
	commonOptions
	Args struct {
		ID string `positional-arg-name:"id" required:"yes"`
	} `positional-args:"yes"`
}

func (c *cmdDelete) Execute(_ []string) error {
	cfg, err := c.load()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	deleted, err := store.Delete(c.Args.ID)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("no entry with id %s", c.Args.ID)
	}
	fmt.Printf("Deleted %s\n", c.Args.ID)
	return nil
}

// exportDocument matches the file-journal layout, so exports from either
// backing can be re-imported or served directly as a journal.
type exportDocument struct {
	Entries []*types.RecordedEntry `json:"entries"`
}

type cmdExport struct {
	commonOptions
	Args struct {
		File string `positional-arg-name:"file" required:"yes"`
	} `positional-args:"yes"`
}

func (c *cmdExport) Execute(_ []string) error {
	cfg, err := c.load()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	entries, err := store.List()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(exportDocument{Entries: entries}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.Args.File, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("Exported %d entries to %s\n", len(entries), c.Args.File)
	return nil
}

type cmdImport struct {
	commonOptions
	Args struct {
		File string `positional-arg-name:"file" required:"yes"`
	} `positional-args:"yes"`
}

func (c *cmdImport) Execute(_ []string) error {
	cfg, err := c.load()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	data, err := os.ReadFile(c.Args.File)
	if err != nil {
		return err
	}
	var doc exportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing %s: %w", c.Args.File, err)
	}
	// Imported entries get fresh ids; uniqueness is scoped to the storage
	// instance, not the export file.
	for _, entry := range doc.Entries {
		if _, err := store.Save(entry.Request, entry.Response); err != nil {
			return err
		}
	}
	fmt.Printf("Imported %d entries from %s\n", len(doc.Entries), c.Args.File)
	return nil
}

func printBanner(cfg *config.Config) {
	fmt.Println("┌──────────────────────────────────────────────────────────────────────────────┐")
	fmt.Println("|                                                                              |")
	fmt.Printf("|   mockpilot - record/replay mock proxy (fasthttp)                            |\n")
	fmt.Printf("|   Mode: %-69s|\n", cfg.Server.Mode)
	fmt.Printf("|   Port: %-69d|\n", cfg.Server.Port)
	if cfg.Target.URL != "" {
		fmt.Printf("|   Target: %-67s|\n", cfg.Target.URL)
	}
	fmt.Printf("|   Storage: %-66s|\n", cfg.Storage.Type+" "+cfg.Storage.Path)
	fmt.Printf("|   Matching: %-65s|\n", cfg.Matching.Strategy)
	fmt.Println("|                                                                              |")
	fmt.Println("└──────────────────────────────────────────────────────────────────────────────┘")
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	parser := flags.NewParser(nil, flags.HelpFlag|flags.PassDoubleDash)
	addCmd(parser, "start", "Start the mock proxy server", &cmdStart{})
	addCmd(parser, "list", "List recorded entries", &cmdList{})
	addCmd(parser, "clear", "Delete all recorded entries", &cmdClear{})
	addCmd(parser, "delete", "Delete one recorded entry by id", &cmdDelete{})
	addCmd(parser, "export", "Export entries to a journal file", &cmdExport{})
	addCmd(parser, "import", "Import entries from a journal file", &cmdImport{})

	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func addCmd(parser *flags.Parser, name, description string, cmd interface{}) {
	if _, err := parser.AddCommand(name, description, "", cmd); err != nil {
		panic(err)
	}
}
