package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

// Applies every .sql file under -dir in name order, one transaction per
// file, stopping at the first failure. With -list it prints the engine's
// tables instead.
func main() {
	dir := flag.String("dir", "migrations", "directory of .sql migration files")
	list := flag.Bool("list", false, "list engine tables and exit")
	flag.Parse()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("open database failed", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("database unreachable", "error", err.Error())
		os.Exit(1)
	}

	if *list {
		if err := listTables(db); err != nil {
			logger.Error("list tables failed", "error", err.Error())
			os.Exit(1)
		}
		return
	}

	applied, err := apply(db, *dir)
	if err != nil {
		logger.Error("migration failed", "applied", applied, "error", err.Error())
		os.Exit(1)
	}
	logger.Info("migrations applied", "count", applied)
}

func listTables(db *sql.DB) error {
	rows, err := db.Query(`
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public' AND tablename LIKE 'outreach_%'
		ORDER BY tablename
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		fmt.Println(name)
	}
	return rows.Err()
}

func apply(db *sql.DB, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	applied := 0
	for _, name := range files {
		stmts, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return applied, err
		}
		if strings.TrimSpace(string(stmts)) == "" {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return applied, err
		}
		if _, err := tx.Exec(string(stmts)); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("%s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("%s: %w", name, err)
		}
		logger.Info("applied migration", "file", name)
		applied++
	}
	return applied, nil
}
