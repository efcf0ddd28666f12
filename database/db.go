package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/freightline/recon/config"
	"github.com/freightline/recon/internal/apierror"
	"github.com/freightline/recon/internal/cache"
	"github.com/lib/pq"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

const (
	pqUniqueViolation    = "23505"
	pqExclusionViolation = "23P01"
)

type Datasource struct {
	Conn     *sql.DB
	Cache    cache.Cache
	CacheTTL time.Duration
}

func NewDataSource(configuration *config.Configuration, c cache.Cache) (IDataSource, error) {
	con, err := GetDBConnection(configuration, c)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration, c cache.Cache) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{
			Conn:     con,
			Cache:    c,
			CacheTTL: time.Duration(configuration.Matching.OpenItemCacheSec) * time.Second,
		}
	})
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, errors.New("database connection was not initialized")
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// pqCode returns the SQLSTATE of a Postgres error, or "" for anything else.
func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func notFound(entity, id string, err error) error {
	return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("%s with ID '%s' not found", entity, id), err)
}

func versionConflict(entity, id string, expected int64) error {
	return apierror.NewAPIError(apierror.ErrConflict,
		fmt.Sprintf("%s '%s' was modified concurrently (expected version %d); re-read and retry", entity, id, expected), nil)
}
