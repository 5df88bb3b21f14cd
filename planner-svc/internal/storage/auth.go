package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"whattoeat/planner-svc/internal/domain"
	"whattoeat/planner-svc/internal/gateway"
	"whattoeat/planner-svc/internal/kv"
)

// LocalUserID derives a stable id from an email address.
func LocalUserID(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	return "local-" + uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+normalized)).String()
}

// localAuth accepts any credentials and remembers who signed in.
type localAuth struct {
	kv kv.Store
}

func (a *localAuth) SignIn(ctx context.Context, email, _ string) (domain.User, error) {
	return a.start(ctx, email)
}

func (a *localAuth) SignUp(ctx context.Context, email, _ string) (domain.User, error) {
	return a.start(ctx, email)
}

func (a *localAuth) start(ctx context.Context, email string) (domain.User, error) {
	user := domain.User{ID: LocalUserID(email), Email: strings.TrimSpace(email)}
	if err := kv.SetJSON(ctx, a.kv, gateway.SessionKey, gateway.Session{User: user}); err != nil {
		return domain.User{}, fmt.Errorf("save session: %w", err)
	}
	return user, nil
}

func (a *localAuth) SignOut(ctx context.Context) error {
	return a.kv.Delete(ctx, gateway.SessionKey)
}

func (a *localAuth) CurrentUser(ctx context.Context) (*domain.User, error) {
	var session gateway.Session
	found, err := kv.GetJSON(ctx, a.kv, gateway.SessionKey, &session)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if !found || session.User.ID == "" {
		return nil, nil
	}
	return &session.User, nil
}
