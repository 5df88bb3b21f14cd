package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"whattoeat/planner-svc/internal/domain"
	"whattoeat/planner-svc/internal/gateway"
	"whattoeat/planner-svc/internal/kv"
)

// Auth signs users in against the backend and keeps the session in the
// key-value store so a restart can restore it.
type Auth struct {
	c  *Client
	kv kv.Store

	mu    sync.Mutex
	token string
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	AccessToken string       `json:"access_token"`
	User        *domain.User `json:"user"`
	// sign-up without auto-confirm answers with the bare user
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (a *Auth) bearer(fallback string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != "" {
		return a.token
	}
	return fallback
}

func (a *Auth) setToken(token string) {
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
}

func (a *Auth) SignIn(ctx context.Context, email, password string) (domain.User, error) {
	return a.authenticate(ctx, "sign in", "/auth/v1/token", url.Values{"grant_type": {"password"}}, email, password)
}

func (a *Auth) SignUp(ctx context.Context, email, password string) (domain.User, error) {
	return a.authenticate(ctx, "sign up", "/auth/v1/signup", nil, email, password)
}

func (a *Auth) authenticate(ctx context.Context, op, path string, query url.Values, email, password string) (domain.User, error) {
	body, err := jsonBody(credentials{Email: email, Password: password})
	if err != nil {
		return domain.User{}, err
	}

	var resp sessionResponse
	err = a.c.do(ctx, request{
		op:     op,
		method: http.MethodPost,
		path:   path,
		query:  query,
		body:   body,
	}, &resp)
	if err != nil {
		return domain.User{}, err
	}

	user := domain.User{ID: resp.ID, Email: resp.Email}
	if resp.User != nil {
		user = *resp.User
	}
	if user.ID == "" {
		return domain.User{}, &gateway.Error{Op: op, Message: "no user in response", Err: gateway.ErrRejected}
	}

	if err := kv.SetJSON(ctx, a.kv, gateway.SessionKey, gateway.Session{User: user, AccessToken: resp.AccessToken}); err != nil {
		return domain.User{}, fmt.Errorf("save session: %w", err)
	}
	a.setToken(resp.AccessToken)
	return user, nil
}

// SignOut always drops the local session; a failed remote logout is only
// logged.
func (a *Auth) SignOut(ctx context.Context) error {
	if a.bearer("") != "" {
		err := a.c.do(ctx, request{op: "sign out", method: http.MethodPost, path: "/auth/v1/logout"}, nil)
		if err != nil {
			a.c.logger.Warnw("remote sign out failed", "error", err)
		}
	}
	a.setToken("")
	return a.kv.Delete(ctx, gateway.SessionKey)
}

// CurrentUser restores the stored session. A token the backend rejects
// ends the session; an unreachable backend keeps the stored user.
func (a *Auth) CurrentUser(ctx context.Context) (*domain.User, error) {
	var session gateway.Session
	found, err := kv.GetJSON(ctx, a.kv, gateway.SessionKey, &session)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if !found || session.User.ID == "" {
		return nil, nil
	}
	a.setToken(session.AccessToken)

	var user domain.User
	err = a.c.do(ctx, request{op: "current user", method: http.MethodGet, path: "/auth/v1/user"}, &user)
	switch {
	case err == nil && user.ID != "":
		return &user, nil
	case gateway.IsUnavailable(err):
		a.c.logger.Warnw("backend unreachable, using stored session", "user_id", session.User.ID, "error", err)
		return &session.User, nil
	case err == nil, errors.Is(err, gateway.ErrUnauthorized):
		a.setToken("")
		if err := a.kv.Delete(ctx, gateway.SessionKey); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return nil, err
}
