package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/markbates/goth"

	"github.com/utafrali/storefront/internal/storage"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// DefaultStateTTL bounds how long a started sign-in can be completed.
const DefaultStateTTL = 10 * time.Minute

// SignInCallback decides, after the provider confirmed the identity,
// whether the sign-in is permitted.
type SignInCallback func(ctx context.Context, user goth.User) (bool, error)

// AllowAll permits every confirmed identity.
func AllowAll(context.Context, goth.User) (bool, error) {
	return true, nil
}

// User is the public view of a signed-in identity.
type User struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	Name      string `json:"name,omitempty"`
	NickName  string `json:"nickname,omitempty"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Result is a completed sign-in.
type Result struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

type pendingSignIn struct {
	Provider string `json:"provider"`
	Session  string `json:"session"`
}

// Option configures a Service.
type Option func(*Service)

// WithProvider registers p under p.Name().
func WithProvider(p Provider) Option {
	return func(s *Service) { s.providers[p.Name()] = p }
}

// WithSignInCallback replaces AllowAll.
func WithSignInCallback(cb SignInCallback) Option {
	return func(s *Service) { s.callback = cb }
}

// WithStateTTL overrides DefaultStateTTL.
func WithStateTTL(d time.Duration) Option {
	return func(s *Service) { s.stateTTL = d }
}

// Service runs the begin and complete halves of a sign-in.
type Service struct {
	providers map[string]Provider
	storage   storage.Storage
	tokens    *JWTManager
	callback  SignInCallback
	stateTTL  time.Duration
	logger    *slog.Logger
}

// NewService creates a sign-in service.
func NewService(st storage.Storage, tokens *JWTManager, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		providers: make(map[string]Provider),
		storage:   st,
		tokens:    tokens,
		callback:  AllowAll,
		stateTTL:  DefaultStateTTL,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Providers lists the registered provider names.
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for n := range s.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *Service) provider(name string) (Provider, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, apperrors.NotFound("provider", name)
	}
	return p, nil
}

// Begin starts a sign-in with the named provider. It returns the URL to send
// the browser to and the opaque state that must be presented to Complete.
func (s *Service) Begin(ctx context.Context, providerName string) (authURL, state string, err error) {
	p, err := s.provider(providerName)
	if err != nil {
		return "", "", err
	}

	state = uuid.NewString()
	sess, err := p.BeginAuth(state)
	if err != nil {
		return "", "", apperrors.Unavailable(providerName, err)
	}
	authURL, err = sess.GetAuthURL()
	if err != nil {
		return "", "", apperrors.Unavailable(providerName, err)
	}

	data, err := json.Marshal(pendingSignIn{Provider: providerName, Session: sess.Marshal()})
	if err != nil {
		return "", "", fmt.Errorf("marshal pending sign-in: %w", err)
	}
	if err := s.storage.Set(ctx, storage.OAuthStateKey(state), data, s.stateTTL); err != nil {
		return "", "", fmt.Errorf("store pending sign-in: %w", err)
	}

	s.logger.InfoContext(ctx, "sign-in started", slog.String("provider", providerName))
	return authURL, state, nil
}

// Complete finishes the sign-in identified by state using the callback
// parameters the provider sent. A state can be completed once.
func (s *Service) Complete(ctx context.Context, providerName, state string, params goth.Params) (*Result, error) {
	p, err := s.provider(providerName)
	if err != nil {
		return nil, err
	}
	if state == "" {
		return nil, apperrors.Unauthorized("missing sign-in state")
	}
	if q := params.Get("state"); q != "" && q != state {
		return nil, apperrors.Unauthorized("sign-in state mismatch")
	}

	pending, err := s.takePending(ctx, state)
	if err != nil {
		return nil, err
	}
	if pending.Provider != providerName {
		return nil, apperrors.Unauthorized("sign-in state belongs to another provider")
	}

	sess, err := p.UnmarshalSession(pending.Session)
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s session: %w", providerName, err)
	}
	if _, err := sess.Authorize(p, params); err != nil {
		s.logger.WarnContext(ctx, "provider authorization failed",
			slog.String("provider", providerName),
			slog.String("error", err.Error()),
		)
		return nil, apperrors.Unauthorized("provider rejected the sign-in")
	}

	gu, err := p.FetchUser(sess)
	if err != nil {
		return nil, apperrors.Unavailable(providerName, err)
	}

	ok, err := s.callback(ctx, gu)
	if err != nil {
		return nil, fmt.Errorf("sign-in callback: %w", err)
	}
	if !ok {
		s.logger.InfoContext(ctx, "sign-in denied",
			slog.String("provider", providerName),
			slog.String("provider_user_id", gu.UserID),
		)
		return nil, apperrors.Forbidden("sign-in denied")
	}

	user := toUser(providerName, gu)
	token, expiresAt, err := s.tokens.Generate(user.ID, displayName(user), providerName)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "sign-in completed",
		slog.String("provider", providerName),
		slog.String("user_id", user.ID),
	)
	return &Result{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

func (s *Service) takePending(ctx context.Context, state string) (*pendingSignIn, error) {
	key := storage.OAuthStateKey(state)
	data, err := s.storage.Get(ctx, key)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Unauthorized("sign-in expired or unknown")
		}
		return nil, fmt.Errorf("load pending sign-in: %w", err)
	}
	if err := s.storage.Delete(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "failed to delete pending sign-in", slog.String("error", err.Error()))
	}

	var pending pendingSignIn
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, apperrors.Unauthorized("sign-in state is corrupt")
	}
	return &pending, nil
}

func toUser(provider string, u goth.User) User {
	return User{
		ID:        u.UserID,
		Provider:  provider,
		Name:      u.Name,
		NickName:  u.NickName,
		Email:     u.Email,
		AvatarURL: u.AvatarURL,
	}
}

func displayName(u User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.NickName
}
