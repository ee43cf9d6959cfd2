package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/rpcgate/rpcgate/internal/session"
	"github.com/rpcgate/rpcgate/internal/user"
)

// Postgres class 23 covers integrity constraint violations; anything in
// it is reported as a conflict rather than a generic data error.
const constraintViolationClass = "23"

// Postgres is a lib/pq-backed store for users and sessions. Tables:
//
//	SystemUser(username text primary key, password text, role text,
//	           createdTime timestamptz default now())
//	Session(token text primary key, username text,
//	        createdTime timestamptz default now())
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Close releases the underlying pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// translate maps driver failures onto the storage sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && len(pqErr.Code) >= 2 && string(pqErr.Code)[:2] == constraintViolationClass {
		return fmt.Errorf("%w: %s", ErrConflict, pqErr.Message)
	}
	return fmt.Errorf("%w: %v", ErrData, err)
}

// InsertUser stores a new user row.
func (p *Postgres) InsertUser(ctx context.Context, u user.User) (user.User, error) {
	row := p.db.QueryRowContext(ctx,
		`INSERT INTO "SystemUser" ("username", "password", "role")
		 VALUES ($1, $2, $3)
		 RETURNING "username", "password", "role", "createdTime"`,
		u.Username, u.Password, u.Role)
	return scanUser(row)
}

// GetUser returns the user row for username.
func (p *Postgres) GetUser(ctx context.Context, username string) (user.User, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT "username", "password", "role", "createdTime"
		 FROM "SystemUser" WHERE "username" = $1`,
		username)
	return scanUser(row)
}

// UpdateUserPassword replaces the stored password hash.
func (p *Postgres) UpdateUserPassword(ctx context.Context, username, hash string) (user.User, error) {
	row := p.db.QueryRowContext(ctx,
		`UPDATE "SystemUser" SET "password" = $1 WHERE "username" = $2
		 RETURNING "username", "password", "role", "createdTime"`,
		hash, username)
	return scanUser(row)
}

// InsertSession stores a session row.
func (p *Postgres) InsertSession(ctx context.Context, s session.Session) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO "Session" ("token", "username") VALUES ($1, $2)`,
		s.Token, s.Username)
	return translate(err)
}

// GetSession returns the session row for token.
func (p *Postgres) GetSession(ctx context.Context, token string) (session.Session, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT "token", "username", "createdTime"
		 FROM "Session" WHERE "token" = $1`,
		token)
	return scanSession(row)
}

// DeleteSession removes and returns the session row for token.
func (p *Postgres) DeleteSession(ctx context.Context, token string) (session.Session, error) {
	row := p.db.QueryRowContext(ctx,
		`DELETE FROM "Session" WHERE "token" = $1
		 RETURNING "token", "username", "createdTime"`,
		token)
	return scanSession(row)
}

func scanUser(row *sql.Row) (user.User, error) {
	var u user.User
	var created time.Time
	if err := row.Scan(&u.Username, &u.Password, &u.Role, &created); err != nil {
		return user.User{}, translate(err)
	}
	u.CreatedTime = created.UTC().Format(time.RFC3339)
	return u, nil
}

func scanSession(row *sql.Row) (session.Session, error) {
	var s session.Session
	var created time.Time
	if err := row.Scan(&s.Token, &s.Username, &created); err != nil {
		return session.Session{}, translate(err)
	}
	s.CreatedTime = created.UTC().Format(time.RFC3339)
	return s, nil
}
