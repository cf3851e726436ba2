package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeSession struct {
	codes       chan string
	submitted   []string
	exchangeErr error
	exchanged   []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{codes: make(chan string, 1)}
}

func (f *fakeSession) URL() string { return "https://accounts.example.com/auth?state=xyz" }

func (f *fakeSession) Wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case code := <-f.codes:
		return code, nil
	}
}

func (f *fakeSession) Submit(code string) {
	f.submitted = append(f.submitted, code)
	select {
	case f.codes <- code:
	default:
	}
}

func (f *fakeSession) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	f.exchanged = append(f.exchanged, code)
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &oauth2.Token{AccessToken: "access-" + code, RefreshToken: "refresh"}, nil
}

func update(t *testing.T, m loginModel, msg tea.Msg) (loginModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	lm, ok := next.(loginModel)
	require.True(t, ok)
	return lm, cmd
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestLoginModel_PastedCode(t *testing.T) {
	session := newFakeSession()
	var saved *oauth2.Token
	m := newLoginModel(t.Context(), session, func(tok *oauth2.Token) error {
		saved = tok
		return nil
	}, "/tmp/token.json")

	assert.Contains(t, m.View(), session.URL())

	// empty submit is rejected
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Error(t, m.err)
	assert.Empty(t, session.submitted)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("4/abc")})
	assert.NoError(t, m.err, "typing clears the error")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, []string{"4/abc"}, session.submitted)

	// the pending wait now yields the pasted code
	msg := m.waitForCode()()
	require.Equal(t, codeMsg{code: "4/abc"}, msg)

	m, cmd := update(t, m, msg)
	assert.Equal(t, exchangingState, m.state)
	require.NotNil(t, cmd)

	m, cmd = update(t, m, cmd())
	assert.Equal(t, doneState, m.state)
	assert.True(t, isQuit(cmd))
	require.NotNil(t, saved)
	assert.Equal(t, "access-4/abc", saved.AccessToken)
	assert.Contains(t, m.View(), "/tmp/token.json")
	assert.NoError(t, loginResult(m))
}

func TestLoginModel_BrowserRedirect(t *testing.T) {
	session := newFakeSession()
	m := newLoginModel(t.Context(), session, func(*oauth2.Token) error { return nil }, "tok")

	m, cmd := update(t, m, codeMsg{code: "from-browser"})
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	assert.Equal(t, []string{"from-browser"}, session.exchanged)
	assert.Equal(t, doneState, m.state)

	// keys after the code arrived do not resubmit
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Empty(t, session.submitted)
}

func TestLoginModel_Failures(t *testing.T) {
	session := newFakeSession()
	session.exchangeErr = errors.New("invalid_grant")
	m := newLoginModel(t.Context(), session, func(*oauth2.Token) error { return nil }, "tok")

	m, cmd := update(t, m, codeMsg{code: "bad"})
	m, cmd = update(t, m, cmd())
	assert.True(t, isQuit(cmd))
	assert.Contains(t, m.View(), "invalid_grant")
	require.ErrorContains(t, loginResult(m), "invalid_grant")

	m = newLoginModel(t.Context(), newFakeSession(), nil, "tok")
	m, cmd = update(t, m, codeMsg{err: errors.New("authorization denied: access_denied")})
	assert.True(t, isQuit(cmd))
	require.ErrorContains(t, loginResult(m), "access_denied")

	saveErr := errors.New("read-only file system")
	m = newLoginModel(t.Context(), newFakeSession(), func(*oauth2.Token) error { return saveErr }, "tok")
	m, cmd = update(t, m, codeMsg{code: "ok"})
	m, _ = update(t, m, cmd())
	require.ErrorIs(t, loginResult(m), saveErr)
}

func TestLoginModel_Cancel(t *testing.T) {
	for _, key := range []tea.KeyType{tea.KeyCtrlC, tea.KeyEsc} {
		m := newLoginModel(t.Context(), newFakeSession(), nil, "tok")
		m, cmd := update(t, m, tea.KeyMsg{Type: key})
		assert.True(t, isQuit(cmd))
		require.ErrorIs(t, loginResult(m), errLoginCancelled)
	}
}

func TestRunLoginPlain(t *testing.T) {
	session := newFakeSession()
	session.codes <- "redirect-code"

	var saved *oauth2.Token
	var out bytes.Buffer
	err := runLoginPlain(t.Context(), &out, session, func(tok *oauth2.Token) error {
		saved = tok
		return nil
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), session.URL())
	require.NotNil(t, saved)
	assert.Equal(t, "access-redirect-code", saved.AccessToken)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err = runLoginPlain(ctx, &bytes.Buffer{}, newFakeSession(), nil)
	require.ErrorIs(t, err, context.Canceled)
}
