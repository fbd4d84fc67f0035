package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"protoimsg/cmd/identity"
	"protoimsg/cmd/identity/ids"
	"protoimsg/cmd/security/token"
)

// Service issues sessions and verifies the credentials clients present.
type Service struct {
	cfg    Config
	store  Store
	tokens AccessTokenManager
	hasher token.Hasher
	now    func() time.Time
}

// Issued is the result of issuing a session.
type Issued struct {
	SessionID string
	// Token is the opaque credential. It is never stored in plaintext.
	Token     string
	ExpiresAt time.Time
	// AccessToken is empty when no PASETO key is configured.
	AccessToken string
	AccessExp   time.Time
}

// NewService constructs a Service. tokens may be nil, which disables access tokens.
func NewService(cfg Config, store Store, tokens AccessTokenManager) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		tokens: tokens,
		hasher: token.NewHasher(cfg.TokenHMACKey),
		now:    time.Now,
	}
}

// Issue creates a session for did.
func (s *Service) Issue(ctx context.Context, did, handle string) (Issued, error) {
	did, err := identity.NormalizeDID(did)
	if err != nil {
		return Issued{}, err
	}
	now := s.now().UTC()

	plain, hash, err := s.hasher.Generate(s.cfg.TokenBytes)
	if err != nil {
		return Issued{}, err
	}
	sess := Session{
		ID:        ids.MustULID(now),
		TokenHash: hash,
		DID:       did,
		Handle:    identity.NormalizeHandle(handle),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.SessionTTL),
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return Issued{}, err
	}

	out := Issued{SessionID: sess.ID, Token: plain, ExpiresAt: sess.ExpiresAt}
	if s.tokens != nil {
		out.AccessToken, out.AccessExp, err = s.tokens.Issue(sess.DID, sess.Handle, sess.ID, now)
		if err != nil {
			return Issued{}, err
		}
	}
	return out, nil
}

// IssueAccessToken mints a fresh access token for an existing session.
func (s *Service) IssueAccessToken(ctx context.Context, sessionID string) (string, time.Time, error) {
	if s.tokens == nil {
		return "", time.Time{}, ErrAccessTokensDisabled
	}
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.tokens.Issue(sess.DID, sess.Handle, sess.ID, s.now().UTC())
}

// Verify resolves a credential to its live session. Access tokens are checked
// cryptographically and then against the store so revocation is honored.
func (s *Service) Verify(ctx context.Context, credential string) (Session, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" || len(credential) > 4096 {
		return Session{}, ErrInvalidToken
	}
	now := s.now().UTC()

	if strings.HasPrefix(credential, AccessPrefix) {
		if s.tokens == nil {
			return Session{}, ErrInvalidToken
		}
		claims, err := s.tokens.Verify(credential, now)
		if err != nil {
			return Session{}, err
		}
		sess, err := s.store.GetByID(ctx, claims.SessionID)
		if err != nil {
			return Session{}, err
		}
		if sess.DID != claims.DID {
			return Session{}, ErrInvalidToken
		}
		if sess.Expired(now) {
			return Session{}, ErrSessionExpired
		}
		return sess, nil
	}

	sess, err := s.store.GetByTokenHash(ctx, s.hasher.Hash(credential))
	if err != nil {
		return Session{}, err
	}
	if sess.Expired(now) {
		return Session{}, ErrSessionExpired
	}
	return sess, nil
}

// IsCredentialError reports whether err means the credential itself was rejected.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionExpired)
}

// Revoke deletes a single session.
func (s *Service) Revoke(ctx context.Context, sessionID string) error {
	return s.store.Revoke(ctx, sessionID)
}

func (s *Service) HasIdentity(ctx context.Context, did string) (bool, error) {
	return s.store.HasIdentity(ctx, did)
}

func (s *Service) UpdateHandle(ctx context.Context, did, handle string) error {
	return s.store.UpdateHandle(ctx, did, identity.NormalizeHandle(handle))
}

func (s *Service) RevokeByIdentity(ctx context.Context, did string) (int, error) {
	return s.store.RevokeByIdentity(ctx, did)
}

// Prune removes expired sessions.
func (s *Service) Prune(ctx context.Context) (int, error) {
	return s.store.Prune(ctx, s.now().UTC())
}
