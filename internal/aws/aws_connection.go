package aws

import (
	"fmt"
	"net/url"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// DBI holds the MySQL connection parameters.
type DBI struct {
	User     string
	Password string
	Endpoint string
	Port     int
	Database string
}

// DSN renders the go-sql-driver DSN. Timestamps are read and written as UTC.
func (i DBI) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=%s",
		i.User, i.Password, i.Endpoint, i.Port, i.Database, url.QueryEscape("UTC"))
}

func CreateConnection(i DBI) (*sqlx.DB, error) {
	db, err := sqlx.Connect("mysql", i.DSN())
	if err != nil {
		return nil, err
	}
	return db, nil
}
