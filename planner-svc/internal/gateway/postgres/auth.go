package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"whattoeat/planner-svc/internal/domain"
	"whattoeat/planner-svc/internal/gateway"
	"whattoeat/planner-svc/internal/kv"
)

const usersTable = "app_users"

// Auth checks passwords against bcrypt hashes in app_users.
type Auth struct {
	g  *Gateway
	kv kv.Store
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (a *Auth) SignUp(ctx context.Context, email, password string) (domain.User, error) {
	email = normalizeEmail(email)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, &gateway.Error{Op: "sign up", Message: err.Error(), Err: gateway.ErrRejected}
	}

	ctx, cancel := a.g.withTimeout(ctx)
	defer cancel()

	user := domain.User{ID: uuid.NewString(), Email: email}
	_, err = a.g.db.ExecContext(ctx,
		"INSERT INTO app_users (id, email, password_hash) VALUES ($1, $2, $3)",
		user.ID, user.Email, string(hash))
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return domain.User{}, &gateway.Error{Op: "sign up", Message: "User already registered", Err: gateway.ErrRejected}
	}
	if err != nil {
		return domain.User{}, translate("sign up", usersTable, err)
	}
	if err := a.save(ctx, user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (a *Auth) SignIn(ctx context.Context, email, password string) (domain.User, error) {
	email = normalizeEmail(email)

	ctx, cancel := a.g.withTimeout(ctx)
	defer cancel()

	var user domain.User
	var hash string
	err := a.g.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash FROM app_users WHERE email = $1", email).
		Scan(&user.ID, &user.Email, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, &gateway.Error{Op: "sign in", Message: "Invalid login credentials", Err: gateway.ErrUnauthorized}
	}
	if err != nil {
		return domain.User{}, translate("sign in", usersTable, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return domain.User{}, &gateway.Error{Op: "sign in", Message: "Invalid login credentials", Err: gateway.ErrUnauthorized}
	}
	if err := a.save(ctx, user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (a *Auth) save(ctx context.Context, user domain.User) error {
	if err := kv.SetJSON(ctx, a.kv, gateway.SessionKey, gateway.Session{User: user}); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (a *Auth) SignOut(ctx context.Context) error {
	return a.kv.Delete(ctx, gateway.SessionKey)
}

// CurrentUser returns the stored user while the account still exists. An
// unreachable database keeps the stored user.
func (a *Auth) CurrentUser(ctx context.Context) (*domain.User, error) {
	var session gateway.Session
	found, err := kv.GetJSON(ctx, a.kv, gateway.SessionKey, &session)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if !found || session.User.ID == "" {
		return nil, nil
	}

	ctx, cancel := a.g.withTimeout(ctx)
	defer cancel()

	var email string
	err = a.g.db.QueryRowContext(ctx, "SELECT email FROM app_users WHERE id = $1", session.User.ID).Scan(&email)
	switch {
	case err == nil:
		return &domain.User{ID: session.User.ID, Email: email}, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, a.kv.Delete(ctx, gateway.SessionKey)
	}
	if err = translate("current user", usersTable, err); gateway.IsUnavailable(err) {
		a.g.logger.Warnw("database unreachable, using stored session", "user_id", session.User.ID, "error", err)
		return &session.User, nil
	}
	return nil, err
}
