package confirm

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	syncpkg "github.com/openmined/drivesync/internal/client/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileReq(path string) *syncpkg.DeletionRequest {
	return &syncpkg.DeletionRequest{Path: path, RemoteID: "id-" + path}
}

func TestParseAnswer(t *testing.T) {
	cases := []struct {
		input    string
		answer   bool
		remember bool
		ok       bool
	}{
		{"y\n", true, false, true},
		{"YES\n", true, false, true},
		{" n \n", false, false, true},
		{"no", false, false, true},
		{"a\n", true, true, true},
		{"all\n", true, true, true},
		{"none\n", false, true, true},
		{"\n", false, false, false},
		{"maybe\n", false, false, false},
	}
	for _, c := range cases {
		t.Run(strings.TrimSpace(c.input), func(t *testing.T) {
			answer, remember, ok := parseAnswer(c.input)
			assert.Equal(t, c.answer, answer)
			assert.Equal(t, c.remember, remember)
			assert.Equal(t, c.ok, ok)
		})
	}
}

func TestPrompt_Answers(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompt(strings.NewReader("y\nn\n"), &out, nil)

	ok, err := p.Decide(t.Context(), fileReq("/r/a.txt"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Decide(t.Context(), fileReq("/r/b.txt"))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Contains(t, out.String(), "/r/a.txt")
	assert.Contains(t, out.String(), "/r/b.txt")
}

func TestPrompt_RemembersAllAndNone(t *testing.T) {
	p := NewPrompt(strings.NewReader("all\n"), &bytes.Buffer{}, nil)
	for range 3 {
		ok, err := p.Decide(t.Context(), fileReq("/r/x"))
		require.NoError(t, err)
		assert.True(t, ok)
	}

	p = NewPrompt(strings.NewReader("none\ny\n"), &bytes.Buffer{}, nil)
	for range 2 {
		ok, err := p.Decide(t.Context(), fileReq("/r/x"))
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestPrompt_MalformedInputDefaultsToNo(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompt(strings.NewReader("what\n?\nsure\ny\n"), &out, nil)

	ok, err := p.Decide(t.Context(), fileReq("/r/a.txt"))
	require.NoError(t, err)
	assert.False(t, ok, "three bad answers keep the remote")
	assert.Equal(t, 3, strings.Count(out.String(), "please answer"))

	// the next question reads the remaining line
	ok, err = p.Decide(t.Context(), fileReq("/r/b.txt"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPrompt_RetryThenAccept(t *testing.T) {
	p := NewPrompt(strings.NewReader("x\nyes\n"), &bytes.Buffer{}, nil)
	ok, err := p.Decide(t.Context(), fileReq("/r/a.txt"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPrompt_EOFDefaultsToNo(t *testing.T) {
	p := NewPrompt(strings.NewReader(""), &bytes.Buffer{}, nil)
	ok, err := p.Decide(t.Context(), fileReq("/r/a.txt"))
	require.NoError(t, err)
	assert.False(t, ok)

	// a final line without newline still counts
	p = NewPrompt(strings.NewReader("y"), &bytes.Buffer{}, nil)
	ok, err = p.Decide(t.Context(), fileReq("/r/a.txt"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPrompt_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	p := NewPrompt(strings.NewReader("y\n"), &bytes.Buffer{}, nil)
	ok, err := p.Decide(ctx, fileReq("/r/a.txt"))
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
}

// askedWriter closes asked on the first write, which is the question.
type askedWriter struct {
	once  sync.Once
	asked chan struct{}
}

func (w *askedWriter) Write(b []byte) (int, error) {
	w.once.Do(func() { close(w.asked) })
	return len(b), nil
}

func TestPrompt_InterruptedWhileWaiting(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	out := &askedWriter{asked: make(chan struct{})}
	p := NewPrompt(r, out, nil)

	ctx, cancel := context.WithCancel(t.Context())
	type decision struct {
		ok  bool
		err error
	}
	done := make(chan decision, 1)
	go func() {
		ok, err := p.Decide(ctx, fileReq("/r/a.txt"))
		done <- decision{ok, err}
	}()

	<-out.asked
	cancel()
	select {
	case d := <-done:
		require.NoError(t, d.err)
		assert.False(t, d.ok, "no answer keeps the remote copy")
	case <-time.After(2 * time.Second):
		t.Fatal("Decide did not return after cancel")
	}

	// the read left pending serves the next question
	go func() { _, _ = w.Write([]byte("y\n")) }()
	ok, err := p.Decide(t.Context(), fileReq("/r/b.txt"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestScripted(t *testing.T) {
	s := NewScripted(true, false)

	ok, err := s.Decide(t.Context(), fileReq("/r/a"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Decide(t.Context(), fileReq("/r/b"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Decide(t.Context(), fileReq("/r/c"))
	require.ErrorIs(t, err, ErrScriptExhausted)
	assert.Equal(t, []string{"/r/a", "/r/b", "/r/c"}, s.Asked())
}

func TestNew(t *testing.T) {
	d, err := New(ModeAlways, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Policy(true), d)

	d, err = New("NEVER", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Policy(false), d)

	_, err = New("sometimes", nil, nil, nil)
	require.ErrorIs(t, err, ErrUnknownMode)

	// a regular file is not a terminal
	f, err := os.Create(filepath.Join(t.TempDir(), "stdin"))
	require.NoError(t, err)
	defer f.Close()

	d, err = New(ModePrompt, f, &bytes.Buffer{}, nil)
	require.NoError(t, err)
	assert.Equal(t, Policy(false), d)
}

func TestPolicyImplementsDecider(t *testing.T) {
	var _ syncpkg.Decider = Policy(true)
	var _ syncpkg.Decider = &Prompt{}
	var _ syncpkg.Decider = &Scripted{}
}
