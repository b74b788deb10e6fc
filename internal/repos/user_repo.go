package repos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"retrocart/internal/domain"
)

type UserRepo struct{ q sqlx.ExtContext }

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{q: db} }

func (r *UserRepo) With(tx *sqlx.Tx) *UserRepo { return &UserRepo{q: tx} }

const userCols = `u.id, u.email, u.name, u.password_hash`

func (r *UserRepo) withRoles(ctx context.Context, u *domain.User) (*domain.User, error) {
	roles := []string{}
	if err := sqlx.SelectContext(ctx, r.q, &roles, `SELECT role FROM user_roles WHERE user_id = ? ORDER BY role`, u.ID); err != nil {
		return nil, err
	}
	u.Roles = roles
	return u, nil
}

func (r *UserRepo) ByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	if err := sqlx.GetContext(ctx, r.q, &u, `SELECT `+userCols+` FROM users u WHERE LOWER(u.email) = LOWER(?)`, email); err != nil {
		return nil, notFound(err)
	}
	return r.withRoles(ctx, &u)
}

func (r *UserRepo) ByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	if err := sqlx.GetContext(ctx, r.q, &u, `SELECT `+userCols+` FROM users u WHERE u.id = ?`, id); err != nil {
		return nil, notFound(err)
	}
	return r.withRoles(ctx, &u)
}

// Roles returns the stored roles for a user; unknown users have none.
func (r *UserRepo) Roles(ctx context.Context, userID string) ([]string, error) {
	roles := []string{}
	err := sqlx.SelectContext(ctx, r.q, &roles, `SELECT role FROM user_roles WHERE user_id = ? ORDER BY role`, userID)
	return roles, err
}

func (r *UserRepo) GrantRole(ctx context.Context, userID, role string) error {
	_, err := r.q.ExecContext(ctx, `INSERT OR IGNORE INTO user_roles(user_id, role) VALUES(?, ?)`, userID, role)
	return err
}

func (r *UserRepo) RevokeRole(ctx context.Context, userID, role string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = ? AND role = ?`, userID, role)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type UserSummary struct {
	ID    string `db:"id" json:"id"`
	Email string `db:"email" json:"email"`
	Name  string `db:"name" json:"name"`
	Roles string `db:"roles" json:"roles"`
}

// List returns every user with a comma-joined role list.
func (r *UserRepo) List(ctx context.Context) ([]UserSummary, error) {
	out := []UserSummary{}
	err := sqlx.SelectContext(ctx, r.q, &out, `
		SELECT u.id, u.email, u.name, COALESCE(GROUP_CONCAT(ur.role), '') AS roles
		FROM users u LEFT JOIN user_roles ur ON ur.user_id = u.id
		GROUP BY u.id, u.email, u.name
		ORDER BY u.email
	`)
	return out, err
}

func (r *UserRepo) BindSession(ctx context.Context, sid, userID string) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO sessions(id, user_id, last_seen) VALUES(?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, last_seen = excluded.last_seen
	`, sid, userID, ts(time.Now()))
	return err
}

func (r *UserRepo) SessionUser(ctx context.Context, sid string) (*domain.User, error) {
	var u domain.User
	if err := sqlx.GetContext(ctx, r.q, &u, `
		SELECT `+userCols+`
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.id = ?
	`, sid); err != nil {
		return nil, notFound(err)
	}
	return r.withRoles(ctx, &u)
}

func (r *UserRepo) UnbindSession(ctx context.Context, sid string) error {
	_, err := r.q.ExecContext(ctx, `UPDATE sessions SET user_id = NULL, last_seen = ? WHERE id = ?`, ts(time.Now()), sid)
	return err
}

// DeleteUserCascade removes a user with their sessions, roles and carts.
// Orders stay for audit; they keep the user id.
func (r *UserRepo) DeleteUserCascade(ctx context.Context, userID string) error {
	var sessionIDs []string
	if err := sqlx.SelectContext(ctx, r.q, &sessionIDs, `SELECT id FROM sessions WHERE user_id = ?`, userID); err != nil {
		return err
	}
	if len(sessionIDs) > 0 {
		query, args, err := sqlx.In(`DELETE FROM carts WHERE id IN (?)`, sessionIDs)
		if err != nil {
			return err
		}
		if _, err := r.q.ExecContext(ctx, r.q.Rebind(query), args...); err != nil {
			return err
		}
		query, args, err = sqlx.In(`DELETE FROM sessions WHERE id IN (?)`, sessionIDs)
		if err != nil {
			return err
		}
		if _, err := r.q.ExecContext(ctx, r.q.Rebind(query), args...); err != nil {
			return err
		}
	}
	if _, err := r.q.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = ?`, userID); err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
