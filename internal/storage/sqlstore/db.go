// Package sqlstore reads and writes the CMS tables (posts, postmeta,
// options) over MySQL, Postgres or SQLite.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

const DefaultTablePrefix = "wp_"

var validPrefix = regexp.MustCompile(`^[A-Za-z0-9_]*$`)

func init() {
	// modernc.org/sqlite registers as "sqlite", which sqlx does not know.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Tables holds the prefixed table names.
type Tables struct {
	Posts    string
	PostMeta string
	Options  string
}

func NewTables(prefix string) (Tables, error) {
	if !validPrefix.MatchString(prefix) {
		return Tables{}, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return Tables{
		Posts:    prefix + "posts",
		PostMeta: prefix + "postmeta",
		Options:  prefix + "options",
	}, nil
}

// isDollar reports whether the driver needs RETURNING to get inserted ids.
func isDollar(q sqlx.ExtContext) bool {
	return sqlx.BindType(q.DriverName()) == sqlx.DOLLAR
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	if driver == "sqlite" {
		// one writer; keeps :memory: databases on a single connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	return db, nil
}
