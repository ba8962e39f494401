// Package main provides the database migration CLI tool for seriesd.
//
// The migrator applies the schema the metadata store expects (data_series,
// facts) and supports up/down/status/version commands for zero-config
// deployment.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
)

const (
	version = "1.0.0-dev"
	name    = "migrator"
)

func main() {
	showHelp := flag.Bool("help", false, "Show help information")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		return
	}

	if *showHelp || flag.NArg() == 0 {
		printUsage()
		return
	}

	config, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	runner, err := NewRunner(config)
	if err != nil {
		log.Fatalf("Failed to create migration runner: %v", err)
	}
	defer runner.Close()

	if err := run(flag.Arg(0), runner); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}

func run(command string, runner *Runner) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	case "version":
		return runner.Version()
	case "drop":
		if !confirm("This will drop all tables. Are you sure?") {
			fmt.Println("Operation cancelled.")
			return nil
		}
		return runner.Drop()
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func confirm(prompt string) bool {
	fmt.Printf("WARNING: %s (y/N): ", prompt)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(line), "y")
}

func printUsage() {
	fmt.Printf(`%s v%s - database migration tool for seriesd

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
    SERIESD_DATABASE_URL  PostgreSQL connection string (REQUIRED)
                          (DATABASE_URL is accepted as a fallback)
    MIGRATIONS_PATH       Migration files directory (default: ./migrations)
    MIGRATION_TABLE       Migration tracking table (default: schema_migrations)
`, name, version, name)
}
