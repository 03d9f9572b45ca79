package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/clawdops/outreach-desk/internal/audit"
	"github.com/clawdops/outreach-desk/internal/config"
)

var (
	flags   = flag.NewFlagSet("migrate", flag.ExitOnError)
	backend = flags.String("backend", "", "audit backend (sqlite or postgres); defaults to ODK_AUDIT_BACKEND")
	dsn     = flags.String("dsn", "", "database DSN; defaults to ODK_AUDIT_DSN")
)

func main() {
	flags.Parse(os.Args[1:])
	args := flags.Args()

	if len(args) < 1 {
		log.Fatal("Usage: migrate [-backend sqlite|postgres] [-dsn DSN] COMMAND\n\nCommands:\n  up\n  down\n  status")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	b := cfg.Audit.Backend
	if *backend != "" {
		b = *backend
	}
	d := cfg.Audit.DSN
	if *dsn != "" {
		d = *dsn
	}
	if b == "" || b == "memory" {
		log.Fatal("The memory audit backend has no schema; set ODK_AUDIT_BACKEND to sqlite or postgres")
	}

	dialect := audit.Dialect(b)
	if d == "" && dialect == audit.DialectSQLite {
		d = filepath.Join(cfg.Workspace.OutreachBase, ".audit.db")
	}
	db, err := audit.OpenDB(dialect, d)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	command := args[0]
	if err := audit.Migrate(db, dialect, command, log.Default()); err != nil {
		log.Fatalf("Migration %s failed: %v", command, err)
	}
}
