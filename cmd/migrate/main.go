package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"time"

	"telxfwd/internal/migrations"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

func main() {
	dbPath := flag.String("db", "./telxfwd.db", "Path to the database file")
	create := flag.Bool("create", false, "Create the database file when it does not exist")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := migrate(*dbPath, *create, logger); err != nil {
		logger.Fatalf("Migration failed: %v", err)
	}
}

func migrate(dbPath string, create bool, logger *logrus.Logger) error {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) && !create {
		return err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	all, err := migrations.All()
	if err != nil {
		return err
	}

	applied, err := migrations.Apply(ctx, db)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"database": dbPath,
		"known":    len(all),
		"applied":  applied,
	}).Info("Schema is up to date")
	return nil
}
