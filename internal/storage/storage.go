// Package storage provides SQLite-backed persistence for user accounts and
// password reset tokens.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rewired-gh/hdbinsight/internal/models"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert or update violates a unique column.
	ErrDuplicate = errors.New("duplicate value")

	// ErrResetConsumed is returned when a password reset is already used or has expired.
	ErrResetConsumed = errors.New("password reset already consumed")
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/hdbinsight/accounts.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "hdbinsight", "accounts.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return newStorage(db)
}

// newStorage configures db and creates the schema. db is closed on failure.
func newStorage(db *sql.DB) (*Storage, error) {
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			email         TEXT NOT NULL UNIQUE COLLATE NOCASE,
			password_hash TEXT NOT NULL,
			first_name    TEXT NOT NULL DEFAULT '',
			last_name     TEXT NOT NULL DEFAULT '',
			is_active     INTEGER NOT NULL DEFAULT 1,
			date_joined   INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS password_resets (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token      TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			is_used    INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_password_resets_user ON password_resets(user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Storage) CreateUser(ctx context.Context, u *models.User) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("invalid user: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users
			(id, username, email, password_hash, first_name, last_name, is_active, date_joined)
		VALUES (?,?,?,?,?,?,?,?)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName,
		boolToInt(u.IsActive), u.DateJoined.UnixNano(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("failed to insert user: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *Storage) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, `id = ?`, id)
}

func (s *Storage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, `username = ?`, username)
}

// GetUserByEmail matches email case-insensitively.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `email = ?`, email)
}

func (s *Storage) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE `+where, arg)
	u, err := scanUser(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *Storage) UpdateUser(ctx context.Context, u *models.User) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("invalid user: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			username=?, email=?, password_hash=?, first_name=?, last_name=?, is_active=?
		WHERE id=?`,
		u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName, boolToInt(u.IsActive),
		u.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("failed to update user: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user %s: %w", u.ID, ErrNotFound)
	}
	return nil
}

// UsernameTaken reports whether another user (not excludeID) holds username.
func (s *Storage) UsernameTaken(ctx context.Context, username, excludeID string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM users WHERE username = ? AND id <> ? LIMIT 1`, username, excludeID)
}

// EmailTaken reports whether another user (not excludeID) holds email.
func (s *Storage) EmailTaken(ctx context.Context, email, excludeID string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM users WHERE email = ? AND id <> ? LIMIT 1`, email, excludeID)
}

func (s *Storage) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check uniqueness: %w", err)
	}
	return true, nil
}

func (s *Storage) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func (s *Storage) CreateReset(ctx context.Context, r *models.PasswordReset) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (user_id, token, created_at, expires_at, is_used)
		VALUES (?,?,?,?,?)`,
		r.UserID, r.Token, r.CreatedAt.UnixNano(), r.ExpiresAt.UnixNano(), boolToInt(r.IsUsed),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("failed to insert password reset: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert password reset: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		r.ID = id
	}
	return nil
}

func (s *Storage) GetResetByToken(ctx context.Context, token string) (*models.PasswordReset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token, created_at, expires_at, is_used
		FROM password_resets WHERE token = ?`, token)

	var r models.PasswordReset
	var createdAtNano, expiresAtNano int64
	var used int
	err := row.Scan(&r.ID, &r.UserID, &r.Token, &createdAtNano, &expiresAtNano, &used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("password reset: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get password reset: %w", err)
	}
	r.CreatedAt = time.Unix(0, createdAtNano)
	r.ExpiresAt = time.Unix(0, expiresAtNano)
	r.IsUsed = used != 0
	return &r, nil
}

// ConsumeReset marks the reset used and stores passwordHash for its user in a
// single transaction. It fails with ErrResetConsumed unless the reset is still
// unused and unexpired at now, so a token can change a password at most once.
func (s *Storage) ConsumeReset(ctx context.Context, resetID int64, passwordHash string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		UPDATE password_resets SET is_used = 1
		WHERE id = ? AND is_used = 0 AND expires_at > ?`,
		resetID, now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark password reset used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark password reset used: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("password reset %d: %w", resetID, ErrResetConsumed)
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE users SET password_hash = ?
		WHERE id = (SELECT user_id FROM password_resets WHERE id = ?)`,
		passwordHash, resetID,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user for password reset %d: %w", resetID, ErrNotFound)
	}

	return tx.Commit()
}

const userCols = `id, username, email, password_hash, first_name, last_name, is_active, date_joined`

func scanUser(scan func(...any) error) (*models.User, error) {
	var u models.User
	var active int
	var joinedNano int64
	err := scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&active, &joinedNano,
	)
	if err != nil {
		return nil, err
	}
	u.IsActive = active != 0
	u.DateJoined = time.Unix(0, joinedNano)
	return &u, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
