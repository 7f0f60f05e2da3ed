package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"LunaPayCredit/internal/config"
	"LunaPayCredit/internal/db"
	"LunaPayCredit/internal/logging"
)

// Applies every .sql file in the migrations directory, in lexical order,
// recording applied names in schema_migrations so reruns are no-ops.
func main() {
	configPath := flag.String("config", "", "path to config file")
	dir := flag.String("dir", "migrations", "migrations directory")
	flag.Parse()

	log := logging.New("migrate", "info", "console")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name text PRIMARY KEY,
			applied_at timestamptz NOT NULL DEFAULT now()
		)`)
	if err != nil {
		log.Fatal().Err(err).Msg("ensure schema_migrations")
	}

	names, err := migrationFiles(*dir)
	if err != nil {
		log.Fatal().Err(err).Msg("list migrations")
	}

	applied := 0
	for _, name := range names {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, name).Scan(&exists)
		if err != nil {
			log.Fatal().Err(err).Str("migration", name).Msg("check migration")
		}
		if exists {
			continue
		}

		sql, err := os.ReadFile(filepath.Join(*dir, name))
		if err != nil {
			log.Fatal().Err(err).Str("migration", name).Msg("read migration")
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("begin")
		}
		if _, err := tx.Exec(ctx, string(sql)); err != nil {
			_ = tx.Rollback(ctx)
			log.Fatal().Err(err).Str("migration", name).Msg("apply migration")
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback(ctx)
			log.Fatal().Err(err).Str("migration", name).Msg("record migration")
		}
		if err := tx.Commit(ctx); err != nil {
			log.Fatal().Err(err).Str("migration", name).Msg("commit")
		}
		log.Info().Str("migration", name).Msg("applied")
		applied++
	}

	log.Info().Msg(fmt.Sprintf("done, %d applied, %d total", applied, len(names)))
}

func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
