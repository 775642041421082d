package engine

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"chronoline/internal/domain"
	"chronoline/internal/repo"
	"chronoline/internal/schema"
)

// AuthenticationError is deliberately uniform: the caller cannot tell a
// missing account from a wrong password.
type AuthenticationError struct{}

func (AuthenticationError) Error() string { return "invalid credentials" }

func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Authenticate checks email/password and returns the matching user. The
// hash comparison runs even when the email is unknown so both failure
// paths take the same time.
func (e Engine) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	u, err := e.Repo.GetUserByEmail(ctx, email)
	stored := u.PasswordHash
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, err
		}
		stored = HashPassword("")
		u = domain.User{}
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(HashPassword(password))) != 1 || u.ID == "" {
		return domain.User{}, AuthenticationError{}
	}
	return u, nil
}

// UserCreateOptions are parameters for registering a user.
type UserCreateOptions struct {
	ID       string
	Email    string
	Name     string
	Role     string
	Password string
	ActorID  string
}

func (e Engine) CreateUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	if opts.Email == "" {
		return domain.User{}, validationErrorf("email is required")
	}
	if opts.Password == "" {
		return domain.User{}, validationErrorf("password is required")
	}
	role := opts.Role
	if role == "" {
		role = "consultant"
	}
	ts := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	u := domain.User{
		ID:           id,
		Email:        opts.Email,
		Name:         opts.Name,
		Role:         role,
		PasswordHash: HashPassword(opts.Password),
		Preferences:  map[string]any{},
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	if err := e.Repo.InsertUser(ctx, u, "{}"); err != nil {
		return domain.User{}, err
	}
	if err := e.Audit.Append(ctx, "user.created", schema.KindUser, u.ID, opts.ActorID, nil); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// CreateAPIKey mints a key for a user and returns the plaintext once; only
// the hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name, actorID string) (domain.APIKey, string, error) {
	if userID == "" {
		return domain.APIKey{}, "", validationErrorf("user is required")
	}
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return domain.APIKey{}, "", err
	}
	raw := "clk_" + uuid.NewString()
	k := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, k); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Audit.Append(ctx, "api_key.created", schema.KindUser, userID, actorID, nil); err != nil {
		return domain.APIKey{}, "", err
	}
	return k, raw, nil
}
