package config

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/faucetdb/gatehouse/internal/model"
)

// Dialect identifies the SQL backend holding the account directory.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// ParseDialect validates a configured database driver name.
func ParseDialect(name string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(strings.TrimSpace(name))); d {
	case DialectSQLite, DialectPostgres, DialectMySQL:
		return d, nil
	case "":
		return DialectSQLite, nil
	case "postgresql", "pgx":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", name)
	}
}

func (d Dialect) driverName() string {
	switch d {
	case DialectPostgres:
		return "pgx"
	case DialectMySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

func (d Dialect) gooseDialect() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectMySQL:
		return "mysql"
	default:
		return "sqlite3"
	}
}

// Store is the account directory: admin users, invites and password reset
// tokens. Every state transition that matters under concurrency is a single
// conditional UPDATE ("... WHERE <expected state>"), so any number of
// processes may share one database without in-process locking.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
}

// NewStore opens the directory database and applies migrations. For SQLite
// an empty dsn selects a private in-memory database.
func NewStore(dialect Dialect, dsn string) (*Store, error) {
	if dialect == "" {
		dialect = DialectSQLite
	}

	if dialect == DialectSQLite {
		if dsn == "" {
			dsn = ":memory:"
		} else if !strings.Contains(dsn, "?") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		}
	} else if dsn == "" {
		return nil, fmt.Errorf("database dsn is required for %s", dialect)
	}

	if dialect == DialectMySQL {
		normalized, err := mysqlDSN(dsn)
		if err != nil {
			return nil, err
		}
		dsn = normalized
	}

	db, err := sqlx.Connect(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open directory database: %w", err)
	}

	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate directory database: %w", err)
	}
	return s, nil
}

// mysqlDSN forces the options the store relies on: DATETIME columns scan
// into time.Time, and UPDATE reports matched rather than changed rows so
// conditional writes that leave a value unchanged still count as applied.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Dialect returns the backend dialect of the store.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// insert runs a named INSERT and returns the generated id. Postgres has no
// LastInsertId, so it gets a RETURNING clause instead.
func (s *Store) insert(ctx context.Context, e sqlx.ExtContext, q string, arg interface{}) (int64, error) {
	if s.dialect == DialectPostgres {
		rows, err := sqlx.NamedQueryContext(ctx, e, q+" RETURNING id", arg)
		if err != nil {
			return 0, err
		}
		defer rows.Close()
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return 0, err
			}
			return 0, sql.ErrNoRows
		}
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		return id, rows.Err()
	}

	result, err := sqlx.NamedExecContext(ctx, e, q, arg)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// exec runs a positional statement and returns the number of affected rows.
func (s *Store) exec(ctx context.Context, e sqlx.ExecerContext, q string, args ...interface{}) (int64, error) {
	result, err := e.ExecContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Admin directory
// ---------------------------------------------------------------------------

const insertAdminQuery = `INSERT INTO admin_users
	(email, username, password_hash, password_algorithm, password_version, is_active,
	 failed_login_attempts, last_login_at, created_at, updated_at)
	VALUES
	(:email, :username, :password_hash, :password_algorithm, :password_version, :is_active,
	 :failed_login_attempts, :last_login_at, :created_at, :updated_at)`

// CreateAdmin inserts a new admin account. Email and username are normalized
// before the insert; ErrConflict is returned when either is already taken.
func (s *Store) CreateAdmin(ctx context.Context, admin *model.AdminUser) error {
	return s.createAdmin(ctx, s.db, admin)
}

func (s *Store) createAdmin(ctx context.Context, e sqlx.ExtContext, admin *model.AdminUser) error {
	now := time.Now().UTC()
	admin.Email = model.NormalizeEmail(admin.Email)
	admin.Username = model.NormalizeUsername(admin.Username)
	admin.CreatedAt = now
	admin.UpdatedAt = now

	var taken int
	err := sqlx.GetContext(ctx, e, &taken, s.db.Rebind(
		"SELECT COUNT(*) FROM admin_users WHERE email = ? OR LOWER(username) = LOWER(?)"),
		admin.Email, admin.Username)
	if err != nil {
		return fmt.Errorf("check admin identity: %w", err)
	}
	if taken > 0 {
		return ErrConflict
	}

	id, err := s.insert(ctx, e, insertAdminQuery, admin)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert admin: %w", err)
	}
	admin.ID = id
	return nil
}

// GetAdmin returns an admin by ID.
func (s *Store) GetAdmin(ctx context.Context, id int64) (*model.AdminUser, error) {
	var admin model.AdminUser
	if err := s.db.GetContext(ctx, &admin, s.db.Rebind("SELECT * FROM admin_users WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get admin: %w", err)
	}
	return &admin, nil
}

// GetAdminByEmail returns an admin by email address, compared
// case-insensitively.
func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*model.AdminUser, error) {
	var admin model.AdminUser
	err := s.db.GetContext(ctx, &admin, s.db.Rebind("SELECT * FROM admin_users WHERE email = ?"),
		model.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get admin by email: %w", err)
	}
	return &admin, nil
}

// GetAdminByUsername returns an admin by exact (trimmed, case-sensitive)
// username.
func (s *Store) GetAdminByUsername(ctx context.Context, username string) (*model.AdminUser, error) {
	var admin model.AdminUser
	err := s.db.GetContext(ctx, &admin, s.db.Rebind("SELECT * FROM admin_users WHERE username = ?"),
		model.NormalizeUsername(username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get admin by username: %w", err)
	}
	return &admin, nil
}

// IdentityTaken reports independently whether an admin already holds the
// email and whether one holds the username. Both comparisons ignore case.
func (s *Store) IdentityTaken(ctx context.Context, email, username string) (emailTaken, usernameTaken bool, err error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind("SELECT COUNT(*) FROM admin_users WHERE email = ?"),
		model.NormalizeEmail(email)); err != nil {
		return false, false, fmt.Errorf("check admin email: %w", err)
	}
	emailTaken = n > 0

	if err := s.db.GetContext(ctx, &n, s.db.Rebind("SELECT COUNT(*) FROM admin_users WHERE LOWER(username) = LOWER(?)"),
		model.NormalizeUsername(username)); err != nil {
		return false, false, fmt.Errorf("check admin username: %w", err)
	}
	usernameTaken = n > 0
	return emailTaken, usernameTaken, nil
}

// ListAdmins returns all admin accounts.
func (s *Store) ListAdmins(ctx context.Context) ([]model.AdminUser, error) {
	var admins []model.AdminUser
	if err := s.db.SelectContext(ctx, &admins, "SELECT * FROM admin_users ORDER BY email"); err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return admins, nil
}

// HasAnyAdmin reports whether at least one admin account exists. This is used
// for first-run detection.
func (s *Store) HasAnyAdmin(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM admin_users"); err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	return count > 0, nil
}

// IncrementFailedLogins atomically bumps the failed-attempt counter and
// returns the value read back afterwards. Under concurrent failures the
// read-back may already include other increments; lockout only needs to be
// eventually enforced.
func (s *Store) IncrementFailedLogins(ctx context.Context, id int64) (int, error) {
	n, err := s.exec(ctx, s.db,
		"UPDATE admin_users SET failed_login_attempts = failed_login_attempts + 1, updated_at = ? WHERE id = ?",
		time.Now().UTC(), id)
	if err != nil {
		return 0, fmt.Errorf("increment failed logins: %w", err)
	}
	if n == 0 {
		return 0, ErrNotFound
	}

	var count int
	if err := s.db.GetContext(ctx, &count,
		s.db.Rebind("SELECT failed_login_attempts FROM admin_users WHERE id = ?"), id); err != nil {
		return 0, fmt.Errorf("read failed logins: %w", err)
	}
	return count, nil
}

// versionSQL keeps password_version monotonic regardless of the value written.
const versionSQL = "password_version = CASE WHEN ? > password_version THEN ? ELSE password_version END"

// RecordLogin marks a successful login: last_login_at is set and the
// failed-attempt counter cleared. When cred is non-nil the stored credential
// is replaced in the same statement (rehash-on-login).
func (s *Store) RecordLogin(ctx context.Context, id int64, at time.Time, cred *model.Credential) error {
	at = at.UTC()
	var (
		n   int64
		err error
	)
	if cred != nil {
		n, err = s.exec(ctx, s.db,
			"UPDATE admin_users SET password_hash = ?, password_algorithm = ?, "+versionSQL+
				", last_login_at = ?, failed_login_attempts = 0, updated_at = ? WHERE id = ?",
			cred.Hash, cred.Algorithm, cred.Version, cred.Version, at, at, id)
	} else {
		n, err = s.exec(ctx, s.db,
			"UPDATE admin_users SET last_login_at = ?, failed_login_attempts = 0, updated_at = ? WHERE id = ?",
			at, at, id)
	}
	if err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAdminPassword replaces an admin's credential and clears the lockout
// counter. Used by directory intervention (CLI); the reset lifecycle goes
// through CompletePasswordReset instead.
func (s *Store) SetAdminPassword(ctx context.Context, id int64, cred model.Credential) error {
	return s.setAdminPassword(ctx, s.db, id, cred)
}

func (s *Store) setAdminPassword(ctx context.Context, e sqlx.ExecerContext, id int64, cred model.Credential) error {
	now := time.Now().UTC()
	n, err := s.exec(ctx, e,
		"UPDATE admin_users SET password_hash = ?, password_algorithm = ?, "+versionSQL+
			", failed_login_attempts = 0, updated_at = ? WHERE id = ?",
		cred.Hash, cred.Algorithm, cred.Version, cred.Version, now, id)
	if err != nil {
		return fmt.Errorf("update admin password: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAdminActive toggles the activation flag and returns the updated row.
func (s *Store) SetAdminActive(ctx context.Context, id int64, active bool) (*model.AdminUser, error) {
	n, err := s.exec(ctx, s.db,
		"UPDATE admin_users SET is_active = ?, updated_at = ? WHERE id = ?",
		active, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("update admin active: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.GetAdmin(ctx, id)
}

// ClearFailedLogins lifts a lockout without touching the credential.
func (s *Store) ClearFailedLogins(ctx context.Context, id int64) error {
	n, err := s.exec(ctx, s.db,
		"UPDATE admin_users SET failed_login_attempts = 0, updated_at = ? WHERE id = ?",
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("clear failed logins: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Utility
// ---------------------------------------------------------------------------

// HashToken returns the hex-encoded SHA-256 hash of a raw invite, reset or
// operator token. Only these hashes are ever persisted.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
