package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgErrUniqueViolation = "23505"

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users() UserStore                 { return &pgUserStore{db: s.db} }
func (s *PGStore) RefreshTokens() RefreshTokenStore { return &pgTokenStore{db: s.db} }

// User store ---------------------------------------------------------------

type pgUserStore struct{ db *sql.DB }

const userColumns = `id, username, email, password_hash, display_name, roles, status, last_login_at, created_at, updated_at`

func (s *pgUserStore) Create(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, username, email, password_hash, display_name, roles, status)
		values($1,$2,nullif($3,''),$4,$5,$6,$7)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.DisplayName, encodeRoles(u.Roles), u.Status,
	)
	if isUniqueViolation(err) {
		return ErrInvalidInput
	}
	return err
}

func (s *pgUserStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *pgUserStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where username=$1`, username)
	return scanUser(row)
}

func (s *pgUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email)
	return scanUser(row)
}

func (s *pgUserStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return s.update(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`, userID, passwordHash)
}

func (s *pgUserStore) UpdateRoles(ctx context.Context, userID string, roles []string) error {
	return s.update(ctx,
		`update users set roles=$2, updated_at=now() where id=$1`, userID, encodeRoles(roles))
}

func (s *pgUserStore) UpdateStatus(ctx context.Context, userID, status string) error {
	return s.update(ctx,
		`update users set status=$2, updated_at=now() where id=$1`, userID, status)
}

func (s *pgUserStore) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return s.update(ctx,
		`update users set last_login_at=$2 where id=$1`, userID, at)
}

func (s *pgUserStore) update(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u     User
		email sql.NullString
		last  sql.NullTime
		roles string
	)
	err := row.Scan(&u.ID, &u.Username, &email, &u.PasswordHash, &u.DisplayName,
		&roles, &u.Status, &last, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if email.Valid {
		u.Email = email.String
	}
	if last.Valid {
		t := last.Time
		u.LastLoginAt = &t
	}
	u.Roles = decodeRoles(roles)
	return &u, nil
}

// Refresh token store ------------------------------------------------------

type pgTokenStore struct{ db *sql.DB }

func (s *pgTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens(id, user_id, token_hash, expires_at, revoked)
		values($1,$2,$3,$4,false)`,
		tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt,
	)
	return err
}

func (s *pgTokenStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, expires_at, revoked, created_at
		from refresh_tokens where id=$1`, id)
	var t RefreshToken
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.Revoked, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// Rotate revokes the presented token and inserts its replacement in one
// transaction. The revoke is guarded on revoked=false, so of two racing
// rotations exactly one commits; the loser sees ErrTokenRevoked.
func (s *pgTokenStore) Rotate(ctx context.Context, oldID string, next *RefreshToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`update refresh_tokens set revoked=true where id=$1 and revoked=false`, oldID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTokenRevoked
	}
	if _, err := tx.ExecContext(ctx, `
		insert into refresh_tokens(id, user_id, token_hash, expires_at, revoked)
		values($1,$2,$3,$4,false)`,
		next.ID, next.UserID, next.TokenHash, next.ExpiresAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *pgTokenStore) MarkRevoked(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgTokenStore) MarkRevokedByUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where user_id=$1 and revoked=false`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *pgTokenStore) DeleteDead(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where revoked=true or expires_at <= $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// helpers ------------------------------------------------------------------

// Roles are stored as a comma-joined text column; role keys never contain
// commas (they are dot-joined path segments).
func encodeRoles(roles []string) string {
	return strings.Join(roles, ",")
}

func decodeRoles(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}
