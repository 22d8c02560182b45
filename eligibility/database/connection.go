package database

import (
	"database/sql"
	"log"
	"time"

	_ "github.com/lib/pq"
)

// Variable substitution to support testing.
var LogFatal = log.Fatal

// Connection opens the eligibility database using the loaded
// configuration and applies the pool limits.
func Connection() *sql.DB {
	cfg, err := LoadConfig()
	if err != nil {
		LogFatal(err)
		return nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		LogFatal(err)
		return nil
	}
	if pingErr := db.Ping(); pingErr != nil {
		LogFatal(pingErr)
		return nil
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMin) * time.Minute)
	db.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Second)

	return db
}
