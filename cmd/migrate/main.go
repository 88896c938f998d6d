// Command migrate applies the student registry schema out of band:
//
//	DATABASE_URL=postgres://... migrate up
//	DATABASE_URL=sqlite3://students.db migrate version
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/Skryldev/student-registry/config"
	"github.com/Skryldev/student-registry/migrations"
)

type command struct {
	usage string
	help  string
	run   func(m *migrate.Migrate, args []string) error
}

var commands = map[string]command{
	"up": {"up", "apply all pending migrations", func(m *migrate.Migrate, _ []string) error {
		return ignoreNoChange(m.Up())
	}},
	"down": {"down [N]", "roll back N migrations (default 1)", func(m *migrate.Migrate, args []string) error {
		n, err := intArg(args, 1)
		if err != nil || n < 1 {
			return fmt.Errorf("down: invalid step count %q", strings.Join(args, " "))
		}
		return ignoreNoChange(m.Steps(-n))
	}},
	"version": {"version", "print the applied version", func(m *migrate.Migrate, _ []string) error {
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("version: none")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("version: %d  dirty: %v\n", v, dirty)
		return nil
	}},
	"force": {"force <V>", "set the version without migrating (clears dirty)", func(m *migrate.Migrate, args []string) error {
		if len(args) == 0 {
			return errors.New("force: version required")
		}
		v, err := intArg(args, 0)
		if err != nil {
			return fmt.Errorf("force: invalid version %q", args[0])
		}
		return m.Force(v)
	}},
	"drop": {"drop", "drop every table, development only", func(m *migrate.Migrate, _ []string) error {
		if !confirm(os.Stdin, "drop will destroy the students table. Type 'yes' to confirm:") {
			fmt.Println("aborted")
			return nil
		}
		return m.Drop()
	}},
}

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		usage()
		os.Exit(2)
	}

	if err := config.LoadEnvFile(".env"); err != nil {
		fatalf("%v", err)
	}
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		fatalf("DATABASE_URL is required")
	}

	m, err := open(dbURL, os.Getenv("MIGRATIONS_PATH"))
	if err != nil {
		fatalf("migrate: %v", err)
	}
	defer m.Close()
	m.Log = migrations.NewLogger(slog.Default())

	if err := cmd.run(m, args[1:]); err != nil {
		fatalf("%s: %v", args[0], err)
	}
	slog.Info("migrate: done", "command", args[0])
}

// open reads migrations from dir when set, otherwise from the embedded set.
func open(dbURL, dir string) (*migrate.Migrate, error) {
	if dir != "" {
		return migrate.New("file://"+dir, dbURL)
	}
	src, err := migrations.Source()
	if err != nil {
		return nil, err
	}
	return migrate.NewWithSourceInstance("iofs", src, dbURL)
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// intArg parses the first argument, returning def when there is none.
func intArg(args []string, def int) (int, error) {
	if len(args) == 0 {
		return def, nil
	}
	return strconv.Atoi(args[0])
}

func confirm(in io.Reader, prompt string) bool {
	fmt.Fprintln(os.Stderr, "WARNING:", prompt)
	var answer string
	_, _ = fmt.Fscanln(in, &answer)
	return answer == "yes"
}

func usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Usage: migrate <command> [args]\n\nCommands:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %-12s %s\n", commands[name].usage, commands[name].help)
	}
	b.WriteString("\nEnvironment:\n")
	b.WriteString("  DATABASE_URL      postgres://, pgx5://, mysql:// or sqlite3:// URL (required)\n")
	b.WriteString("  MIGRATIONS_PATH   directory of .sql migrations (default: embedded)\n")
	fmt.Fprint(os.Stderr, b.String())
}

func fatalf(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}
