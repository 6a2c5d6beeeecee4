package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"guidebook/config"

	_ "github.com/go-sql-driver/mysql"
)

// SQLDB is the global MySQL handle, opened only when LEDGER_DRIVER=mysql.
var SQLDB *sql.DB

// InitSQL opens and pings the MySQL ledger database.
func InitSQL() (*sql.DB, error) {
	dsn := config.AppConfig.MySQLDSN
	if dsn == "" {
		return nil, fmt.Errorf("MYSQL_DSN is not set")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	SQLDB = db
	log.Println("Connected to MySQL successfully!")
	return db, nil
}
