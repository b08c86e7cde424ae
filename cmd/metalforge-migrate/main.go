// Shoal is a Redfish aggregator service.
// Copyright (C) 2025  Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Command metalforge-migrate applies internal/persistence's forward-only
// schema migrations to a database file, independent of the provisioner
// binary's auto_migrate runtime option. Operators run this ahead of a
// deploy that bumps the schema version rather than relying on the first
// provisioning run to carry the migration cost.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"metalforge/internal/config"
	"metalforge/internal/persistence"
)

func main() {
	os.Exit(run())
}

func run() int {
	var dbPath = flag.String("database-path", "", "path to the SQLite database file (default: runtime config's database.path)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.LoadRuntimeConfigFromEnv(config.DefaultRuntimeConfig())
	if err != nil {
		logger.Error("load runtime config", "error", err)
		return 1
	}
	path := cfg.DatabasePath
	if *dbPath != "" {
		path = *dbPath
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := persistence.Open(ctx, path, false)
	if err != nil {
		logger.Error("open persistence store", "database_path", path, "error", err)
		return 1
	}
	defer store.Close()

	if err := store.ApplyMigrations(ctx); err != nil {
		logger.Error("apply migrations", "database_path", path, "error", err)
		return 1
	}

	logger.Info("migrations applied", "database_path", path)
	return 0
}
