// Command migrate manages the schema of the dolist databases.
//
// The web client's session store and the resource server's todo store share
// one schema; -target picks which configured database to operate on.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/rjsadow/dolist/internal/config"
	"github.com/rjsadow/dolist/internal/db"
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: migrate [-target web|api] [-type sqlite|postgres] [-dsn DSN] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  up       Apply all pending migrations")
	fmt.Fprintln(w, "  down     Roll back the most recent migration")
	fmt.Fprintln(w, "  version  Show current migration version")
	fmt.Fprintln(w, "  force N  Force migration version to N")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Without -type and -dsn the database comes from DOLIST_DB_TYPE/DOLIST_DB")
	fmt.Fprintln(w, "(target web) or DOLIST_API_DB_TYPE/DOLIST_API_DB (target api).")
}

func main() {
	target := flag.String("target", "web", "Which database to migrate: web (sessions) or api (todos)")
	dbType := flag.String("type", "", "Database type: sqlite or postgres")
	dsn := flag.String("dsn", "", "Database DSN (file path for sqlite, connection string for postgres)")
	flag.Usage = func() { usage(os.Stderr) }
	flag.Parse()

	if flag.NArg() < 1 {
		usage(os.Stderr)
		os.Exit(2)
	}

	typ, conn, err := resolve(*target, *dbType, *dsn)
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}

	m, err := db.NewMigrator(typ, conn)
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	defer m.Close()

	if err := run(m, flag.Args()); err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

// resolve fills in the database type and DSN from configuration when the
// flags leave them empty.
func resolve(target, dbType, dsn string) (string, string, error) {
	if dbType != "" && dsn != "" {
		return dbType, dsn, nil
	}

	var typ, conn string
	switch target {
	case "web":
		cfg, err := config.Load()
		if err != nil {
			return "", "", err
		}
		typ, conn = cfg.DBType, cfg.DB
	case "api":
		cfg, err := config.LoadAPI()
		if err != nil {
			return "", "", err
		}
		typ, conn = cfg.APIDBType, cfg.APIDB
	default:
		return "", "", fmt.Errorf("unknown target %q (must be web or api)", target)
	}
	if dbType != "" {
		typ = dbType
	}
	if dsn != "" {
		conn = dsn
	}
	return typ, conn, nil
}

func run(m *migrate.Migrate, args []string) error {
	switch args[0] {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		fmt.Println("Migrations applied successfully")

	case "down":
		if err := m.Steps(-1); err != nil {
			return err
		}
		fmt.Println("Rolled back one migration")

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("No migrations applied")
			return nil
		}
		if err != nil {
			return err
		}
		suffix := ""
		if dirty {
			suffix = " (dirty)"
		}
		fmt.Printf("Version: %d%s\n", version, suffix)

	case "force":
		if len(args) < 2 {
			return errors.New("force requires a version number: migrate force N")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number: %w", err)
		}
		if err := m.Force(version); err != nil {
			return err
		}
		fmt.Printf("Forced version to %d\n", version)

	default:
		usage(os.Stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}
