package db

import "github.com/jmoiron/sqlx"

// Pool pairs a writer and a reader connection pool.
//
// SQLite in WAL mode gets one writer connection and several read-only
// connections. PostgreSQL uses the same *sqlx.DB for both.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool creates a Pool from separate writer and reader connections.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// Writer is used for INSERT, UPDATE and transactions.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader is used for SELECT queries.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Driver returns the sqlx driver name of the pool.
func (p *Pool) Driver() string { return p.writer.DriverName() }

// Close closes both pools once.
func (p *Pool) Close() error {
	if p.writer.DriverName() == DriverSQLite {
		_, _ = p.writer.Exec("PRAGMA optimize")
	}
	wErr := p.writer.Close()
	if p.reader != p.writer {
		if rErr := p.reader.Close(); rErr != nil && wErr == nil {
			return rErr
		}
	}
	return wErr
}
