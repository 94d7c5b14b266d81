package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	fbauth "firebase.google.com/go/v4/auth"

	"github.com/rumor-ml/commons.systems/bankrecon/internal/config"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/ingest"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/scanner"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/server"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/store"
	fsstore "github.com/rumor-ml/commons.systems/bankrecon/internal/store/firestore"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/store/memory"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/store/sqlite"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/ui"
)

const (
	version = "0.1.0"
)

var (
	versionFlag = flag.Bool("version", false, "Show version")
	configFile  = flag.String("config", "", "Configuration file (YAML)")

	// Serve mode
	serveFlag = flag.Bool("serve", false, "Run the reconciliation API server")

	// Batch import mode
	importDir = flag.String("import", "", "Directory of .ofx/.qfx files to import")
	bankID    = flag.String("bank", "", "Bank ID for batch import (required with -import)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, `bankrecon - Bank statement reconciliation for the ledger

Usage:
  bankrecon [flags]

Flags:
`)
		flag.PrintDefaults()
		fmt.Fprint(os.Stderr, `
Examples:
  # Run the API server with the default configuration
  bankrecon -serve

  # Run against a config file
  bankrecon -serve -config bankrecon.yaml

  # Batch-import a directory of statements
  bankrecon -import ~/statements -bank bank-1

`)
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("bankrecon version %s\n", version)
		os.Exit(0)
	}

	if !*serveFlag && *importDir == "" {
		fmt.Fprintf(os.Stderr, "Error: one of -serve or -import is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if *importDir != "" && *bankID == "" {
		fmt.Fprintf(os.Stderr, "Error: -bank is required with -import\n\n")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	stores, authClient, cleanup, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if *importDir != "" {
		return runBatchImport(ctx, stores)
	}
	return runServer(cfg, stores, authClient)
}

func loadConfig() (*config.Config, error) {
	if *configFile != "" {
		return config.LoadFromFile(*configFile)
	}
	return config.LoadEmbedded()
}

// openStores builds the store bundle for the configured backend. The auth
// client is non-nil only for the firestore backend.
func openStores(ctx context.Context, cfg *config.Config) (store.Stores, *fbauth.Client, func(), error) {
	noop := func() {}

	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return memory.New().Stores(), nil, noop, nil

	case config.BackendSQLite:
		db, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return store.Stores{}, nil, noop, fmt.Errorf("opening sqlite store: %w", err)
		}
		return db.Stores(), nil, func() { db.Close() }, nil

	case config.BackendFirestore:
		client, err := fsstore.NewClient(ctx, cfg.Storage.FirestoreProject, "")
		if err != nil {
			return store.Stores{}, nil, noop, fmt.Errorf("opening firestore store: %w", err)
		}
		return client.Stores(), client.Auth, func() { client.Close() }, nil

	default:
		return store.Stores{}, nil, noop, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func runServer(cfg *config.Config, stores store.Stores, authClient *fbauth.Client) error {
	srv := server.New(cfg, stores, authClient)
	log.Printf("INFO: listening on %s (backend: %s)", srv.Addr(), cfg.Storage.Backend)
	return http.ListenAndServe(srv.Addr(), srv.Handler())
}

// runBatchImport ingests every statement file under -import for -bank.
func runBatchImport(ctx context.Context, stores store.Stores) error {
	ui.Header("Importing Bank Statements")
	ui.Step(1, 2, "Scanning directory")

	files, err := scanner.New(*importDir).Scan()
	if err != nil {
		return fmt.Errorf("failed to scan directory %s: %w", *importDir, err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no statement files found in %s (supported extensions: .ofx, .qfx)", *importDir)
	}
	ui.Success(fmt.Sprintf("Found %d statement files", len(files)))

	ui.Step(2, 2, "Importing statements")
	ingestor := ingest.New(stores)

	var totalNew, totalExisting, failed int
	for _, f := range files {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			ui.Error(fmt.Sprintf("%s: %v", f.Path, err))
			failed++
			continue
		}

		res, err := ingestor.Import(ctx, *bankID, filepath.Base(f.Path), data)
		if errors.Is(err, ingest.ErrNoTransactions) || errors.Is(err, ingest.ErrDecode) {
			ui.Warning(fmt.Sprintf("%s: %v", filepath.Base(f.Path), err))
			failed++
			continue
		}
		if err != nil {
			return fmt.Errorf("importing %s: %w", f.Path, err)
		}

		if res.Duplicate {
			ui.Info(fmt.Sprintf("%s: already imported (%d transactions)", filepath.Base(f.Path), res.Total))
		} else {
			ui.Success(fmt.Sprintf("%s: %d transactions (%d new, %d existing)",
				filepath.Base(f.Path), res.Total, res.New, res.Existing))
		}
		totalNew += res.New
		totalExisting += res.Existing
	}

	fmt.Println()
	ui.Info(fmt.Sprintf("Done: %d new, %d existing, %d failed files", totalNew, totalExisting, failed))
	if failed > 0 {
		return fmt.Errorf("%d file(s) could not be imported", failed)
	}
	return nil
}
