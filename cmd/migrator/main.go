// Package main provides the database migration CLI tool for the dispatcher.
//
// Migrations are embedded in the binary, one set per database dialect. The dialect and
// connection come from the same environment variables the dispatcher reads.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/monitorhub/dispatcher/migrations"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "migrator"
)

// migrationRunner is the part of *migrations.Runner the commands use.
type migrationRunner interface {
	Up() error
	Down() error
	Status() error
	Version() (uint, bool, error)
	Drop() error
}

func main() {
	var (
		configHelp  = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if *configHelp || flag.NArg() < 1 {
		printUsage(os.Stdout)
		os.Exit(0)
	}

	command := flag.Arg(0)

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Using %s", cfg)

	runner, err := migrations.NewRunner(context.Background(), cfg.RunnerConfig())
	if err != nil {
		log.Fatalf("Failed to create migration runner: %v", err)
	}

	err = executeCommand(command, runner, os.Stdin, os.Stdout)

	if closeErr := runner.Close(); closeErr != nil {
		log.Printf("Failed to close migration runner: %v", closeErr)
	}

	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}

// executeCommand runs the specified migration command.
func executeCommand(command string, runner migrationRunner, in io.Reader, out io.Writer) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	case "version":
		ver, dirty, err := runner.Version()
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintf(out, "%d (dirty: %t)\n", ver, dirty)

		return nil
	case "drop":
		_, _ = fmt.Fprint(out, "WARNING: This will drop all tables. Are you sure? (y/N): ")

		response, _ := bufio.NewReader(in).ReadString('\n')
		if answer := strings.TrimSpace(response); answer == "y" || answer == "Y" {
			return runner.Drop()
		}

		_, _ = fmt.Fprintln(out, "Operation cancelled.")

		return nil
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// printUsage displays usage information.
func printUsage(out io.Writer) {
	_, _ = fmt.Fprintf(out, `%s v%s - Database Migration Tool for the dispatcher

USAGE:
    %s [OPTIONS] COMMAND

COMMANDS:
    up      Apply all pending migrations
    down    Rollback the last migration
    status  Show migration status
    version Show current migration version
    drop    Drop all tables (requires confirmation)

OPTIONS:
    --help     Show this help message
    --version  Show version information

ENVIRONMENT VARIABLES:
    DATABASE_DRIVER  postgres or sqlite (default: postgres)
    DATABASE_URL     PostgreSQL connection string (required for postgres)
    DATABASE_PATH    SQLite database file (default: dispatcher.db)
    MIGRATION_TABLE  Name of migration tracking table (default: schema_migrations)

EXAMPLES:
    %s up        # Apply all pending migrations
    %s status    # Show current migration status
    %s down      # Rollback last migration
`, name, version, name, name, name, name)
}
