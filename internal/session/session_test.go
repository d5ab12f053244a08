package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenterrors "gata/internal/errors"
	"gata/internal/gata"
	"gata/internal/logging"
)

type fakeHandshake struct {
	nonce     string
	session   string
	grants    map[gata.GrantScope]string
	grantErr  error
	calls     []string
	signature string
}

func (f *fakeHandshake) SignatureNonce(ctx context.Context, address string) (string, error) {
	f.calls = append(f.calls, "nonce:"+address)
	return f.nonce, nil
}

func (f *fakeHandshake) Authorize(ctx context.Context, address, signature, inviteCode string) (string, error) {
	f.calls = append(f.calls, "authorize:"+inviteCode)
	f.signature = signature
	return f.session, nil
}

func (f *fakeHandshake) Grant(ctx context.Context, sessionToken string, scope gata.GrantScope) (string, error) {
	f.calls = append(f.calls, "grant:"+scope.String())
	if f.grantErr != nil {
		return "", f.grantErr
	}
	return f.grants[scope], nil
}

type fakeSigner struct{}

func (fakeSigner) AddressHex() string { return "0xabc" }
func (fakeSigner) SignMessage(msg []byte) (string, error) {
	return "sig(" + string(msg) + ")", nil
}

type recordingSaver struct {
	saved []Session
}

func (r *recordingSaver) SaveCredentials(s Session) error {
	r.saved = append(r.saved, s)
	return nil
}

func TestAuthenticateCompletesHandshake(t *testing.T) {
	client := &fakeHandshake{
		nonce:   "n-1",
		session: "bearer",
		grants:  map[gata.GrantScope]string{gata.GrantTask: "task", gata.GrantLLM: "llm"},
	}
	saver := &recordingSaver{}
	fixed := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	auth := NewAuthenticator(client,
		WithInviteCode("INV"),
		WithCredentialSaver(saver),
		WithLogger(logging.Nop()),
		WithClock(func() time.Time { return fixed }),
	)

	sess, err := auth.Authenticate(context.Background(), fakeSigner{})
	require.NoError(t, err)

	assert.Equal(t, Session{SessionToken: "bearer", TaskToken: "task", LLMToken: "llm", ObtainedAt: fixed}, sess)
	assert.True(t, sess.Valid())
	assert.Equal(t, "sig(n-1)", client.signature)
	assert.Equal(t, []string{"nonce:0xabc", "authorize:INV", "grant:task", "grant:llm"}, client.calls)
	require.Len(t, saver.saved, 1)
	assert.Equal(t, sess, saver.saved[0])
}

func TestAuthenticateMissingTaskTokenFailsAtomically(t *testing.T) {
	client := &fakeHandshake{
		nonce:   "n-1",
		session: "bearer",
		grants:  map[gata.GrantScope]string{gata.GrantLLM: "llm"},
	}
	saver := &recordingSaver{}
	auth := NewAuthenticator(client, WithCredentialSaver(saver), WithLogger(logging.Nop()))

	sess, err := auth.Authenticate(context.Background(), fakeSigner{})
	require.Error(t, err)
	assert.True(t, agenterrors.IsBootstrap(err))
	assert.Equal(t, Session{}, sess)
	assert.Empty(t, saver.saved)
}

func TestAuthenticateRejectsEmptyLLMToken(t *testing.T) {
	client := &fakeHandshake{
		nonce:   "n-1",
		session: "bearer",
		grants:  map[gata.GrantScope]string{gata.GrantTask: "task", gata.GrantLLM: ""},
	}
	saver := &recordingSaver{}
	auth := NewAuthenticator(client, WithCredentialSaver(saver), WithLogger(logging.Nop()))

	sess, err := auth.Authenticate(context.Background(), fakeSigner{})
	var bootErr *agenterrors.BootstrapError
	require.ErrorAs(t, err, &bootErr)
	assert.Equal(t, "grant", bootErr.Step)
	assert.Contains(t, err.Error(), "incomplete session")
	assert.False(t, sess.Valid())
	assert.Equal(t, Session{}, sess)
	assert.Empty(t, saver.saved)
	assert.Equal(t, []string{"nonce:0xabc", "authorize:", "grant:task", "grant:llm"}, client.calls)
}

func TestAuthenticateGrantErrorIsBootstrapError(t *testing.T) {
	cause := errors.New("grant down")
	client := &fakeHandshake{nonce: "n", session: "s", grantErr: cause}
	auth := NewAuthenticator(client, WithLogger(logging.Nop()))

	_, err := auth.Authenticate(context.Background(), fakeSigner{})
	var bootErr *agenterrors.BootstrapError
	require.ErrorAs(t, err, &bootErr)
	assert.Equal(t, "grant_task", bootErr.Step)
	assert.ErrorIs(t, err, cause)
}

func TestAuthenticateEmptyNonce(t *testing.T) {
	auth := NewAuthenticator(&fakeHandshake{}, WithLogger(logging.Nop()))
	_, err := auth.Authenticate(context.Background(), fakeSigner{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature_nonce")
}

func TestReauthenticatorLoadsSignerPerHandshake(t *testing.T) {
	client := &fakeHandshake{
		nonce:   "n",
		session: "s",
		grants:  map[gata.GrantScope]string{gata.GrantTask: "t", gata.GrantLLM: "l"},
	}
	loads := 0
	re := NewReauthenticator(NewAuthenticator(client, WithLogger(logging.Nop())), func() (Signer, error) {
		loads++
		return fakeSigner{}, nil
	})

	_, err := re.Reauthenticate(context.Background())
	require.NoError(t, err)
	_, err = re.Reauthenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, loads)

	failing := NewReauthenticator(NewAuthenticator(client, WithLogger(logging.Nop())), func() (Signer, error) {
		return nil, errors.New("key gone")
	})
	_, err = failing.Reauthenticate(context.Background())
	assert.True(t, agenterrors.IsBootstrap(err))
}
