// Package session holds the credentials produced by the bootstrap handshake.
package session

import (
	"context"
	"errors"
	"time"

	agenterrors "gata/internal/errors"
	"gata/internal/gata"
	"gata/internal/identity"
	"gata/internal/logging"
)

// Session is immutable once obtained and replaced wholesale on
// re-authentication.
type Session struct {
	SessionToken string
	TaskToken    string
	LLMToken     string
	ObtainedAt   time.Time
}

// Valid reports whether every token is present.
func (s Session) Valid() bool {
	return s.SessionToken != "" && s.TaskToken != "" && s.LLMToken != ""
}

// HandshakeClient is the slice of the remote API the handshake needs.
type HandshakeClient interface {
	SignatureNonce(ctx context.Context, address string) (string, error)
	Authorize(ctx context.Context, address, signature, inviteCode string) (string, error)
	Grant(ctx context.Context, sessionToken string, scope gata.GrantScope) (string, error)
}

// Signer produces the address and personal-sign signature for the handshake.
type Signer interface {
	AddressHex() string
	SignMessage(msg []byte) (string, error)
}

// CredentialSaver persists a freshly obtained session.
type CredentialSaver interface {
	SaveCredentials(s Session) error
}

var _ Signer = identity.Identity{}

// Authenticator runs the nonce → sign → authorize → grant handshake.
type Authenticator struct {
	client     HandshakeClient
	inviteCode string
	saver      CredentialSaver
	logger     logging.Logger
	now        func() time.Time
}

// Option customises an Authenticator.
type Option func(*Authenticator)

// WithInviteCode sets the invite code sent with /api/authorize.
func WithInviteCode(code string) Option {
	return func(a *Authenticator) { a.inviteCode = code }
}

// WithCredentialSaver persists every session the authenticator produces.
func WithCredentialSaver(saver CredentialSaver) Option {
	return func(a *Authenticator) { a.saver = saver }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(a *Authenticator) { a.logger = logging.OrNop(logger) }
}

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(client HandshakeClient, opts ...Option) *Authenticator {
	a := &Authenticator{
		client: client,
		logger: logging.NewComponentLogger("session"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate completes the handshake or fails as a whole: a session missing
// any token is never returned or saved. Errors are *errors.BootstrapError.
func (a *Authenticator) Authenticate(ctx context.Context, signer Signer) (Session, error) {
	address := signer.AddressHex()
	a.logger.Info("Initializing with address: %s", address)

	nonce, err := a.client.SignatureNonce(ctx, address)
	if err != nil {
		return Session{}, bootstrapErr("signature_nonce", err)
	}
	if nonce == "" {
		return Session{}, bootstrapErr("signature_nonce", errors.New("empty auth nonce"))
	}

	signature, err := signer.SignMessage([]byte(nonce))
	if err != nil {
		return Session{}, bootstrapErr("sign", err)
	}

	sessionToken, err := a.client.Authorize(ctx, address, signature, a.inviteCode)
	if err != nil {
		return Session{}, bootstrapErr("authorize", err)
	}
	if sessionToken == "" {
		return Session{}, bootstrapErr("authorize", errors.New("empty session token"))
	}
	a.logger.Info("Authorization successful")

	taskToken, err := a.grant(ctx, sessionToken, gata.GrantTask)
	if err != nil {
		return Session{}, err
	}
	llmToken, err := a.grant(ctx, sessionToken, gata.GrantLLM)
	if err != nil {
		return Session{}, err
	}

	s := Session{
		SessionToken: sessionToken,
		TaskToken:    taskToken,
		LLMToken:     llmToken,
		ObtainedAt:   a.now().UTC(),
	}
	if !s.Valid() {
		return Session{}, bootstrapErr("grant", errors.New("incomplete session: task and llm tokens are required"))
	}
	if a.saver != nil {
		if err := a.saver.SaveCredentials(s); err != nil {
			a.logger.Warn("Failed to persist credentials: %v", err)
		}
	}
	return s, nil
}

func (a *Authenticator) grant(ctx context.Context, sessionToken string, scope gata.GrantScope) (string, error) {
	step := "grant_" + scope.String()
	token, err := a.client.Grant(ctx, sessionToken, scope)
	if err != nil {
		return "", bootstrapErr(step, err)
	}
	if token != "" {
		a.logger.Info("%s token obtained", scope)
	}
	return token, nil
}

func bootstrapErr(step string, err error) error {
	return &agenterrors.BootstrapError{Step: step, Err: err}
}

// SignerLoader produces a signer on demand. The key is loaded per handshake
// and not retained between them.
type SignerLoader func() (Signer, error)

// Reauthenticator lets the task loop replace its session.
type Reauthenticator struct {
	auth *Authenticator
	load SignerLoader
}

// NewReauthenticator binds auth to a signer loader.
func NewReauthenticator(auth *Authenticator, load SignerLoader) *Reauthenticator {
	return &Reauthenticator{auth: auth, load: load}
}

// Reauthenticate loads the signer and runs a fresh handshake.
func (r *Reauthenticator) Reauthenticate(ctx context.Context) (Session, error) {
	signer, err := r.load()
	if err != nil {
		return Session{}, bootstrapErr("load_identity", err)
	}
	return r.auth.Authenticate(ctx, signer)
}
