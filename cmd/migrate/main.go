package main

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/alecthomas/kong"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"feedbridge/migrations"
)

type cli struct {
	DB string `name:"db" env:"STATE_PATH" default:"./data/state.db" type:"path" help:"Path to the SQLite state database."`

	Up      upCmd      `cmd:"" help:"Migrate to the latest version."`
	UpOne   upOneCmd   `cmd:"" name:"up-one" help:"Migrate one version up."`
	Down    downCmd    `cmd:"" help:"Roll back one version."`
	Status  statusCmd  `cmd:"" help:"Show migration status."`
	Version versionCmd `cmd:"" help:"Show current version."`
	Reset   resetCmd   `cmd:"" help:"Roll back all migrations."`
}

type (
	upCmd      struct{}
	upOneCmd   struct{}
	downCmd    struct{}
	statusCmd  struct{}
	versionCmd struct{}
	resetCmd   struct{}
)

func (upCmd) Run(db *sql.DB) error      { return goose.Up(db, ".") }
func (upOneCmd) Run(db *sql.DB) error   { return goose.UpByOne(db, ".") }
func (downCmd) Run(db *sql.DB) error    { return goose.Down(db, ".") }
func (statusCmd) Run(db *sql.DB) error  { return goose.Status(db, ".") }
func (versionCmd) Run(db *sql.DB) error { return goose.Version(db, ".") }
func (resetCmd) Run(db *sql.DB) error   { return goose.Reset(db, ".") }

func main() {
	var args cli
	ctx := kong.Parse(&args,
		kong.Name("migrate"),
		kong.Description("Manage the SQLite delivery state schema."),
		kong.UsageOnError(),
	)

	db, err := sql.Open("sqlite", args.DB)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := migrations.Setup(); err != nil {
		log.Fatalf("setup migrations: %v", err)
	}

	if err := ctx.Run(db); err != nil {
		_ = db.Close()
		log.Fatal(fmt.Errorf("%s: %w", ctx.Command(), err))
	}
}
