package migration

import (
	"database/sql"
	"embed"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

// Embed SQL files from the local migrations folder
//
//go:embed migrations/*.sql
var embeddedMigrations embed.FS

func RunMigrations(dbUrl string, logger zerolog.Logger) {
	db, err := sql.Open("postgres", dbUrl)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()

	Run(db, logger)
}

// Run applies all pending migrations against an open connection. The panel
// schema is created first so goose bookkeeping can live inside it.
func Run(db *sql.DB, logger zerolog.Logger) {
	if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS panel"); err != nil {
		logger.Fatal().Err(err).Msg("Failed to create schema panel")
	}

	goose.SetBaseFS(embeddedMigrations)
	goose.SetTableName("panel.goose_db_version")

	if err := goose.Up(db, "migrations"); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	logger.Info().Msg("Migrations completed successfully")
}
