package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

var errLoginCancelled = errors.New("login cancelled")

type loginState int

const (
	waitingState loginState = iota
	exchangingState
	doneState
)

const (
	txtTitle         = "drivesync login"
	txtOpenURL       = "Open this link in a browser and grant access:"
	txtWaiting       = "Waiting for the browser redirect..."
	txtPaste         = "Or paste the authorization code here:"
	txtCodePrompt    = "code"
	txtExchanging    = "Exchanging the code for a token..."
	txtEmptyCode     = "Enter the code shown after granting access"
	txtHelp          = "Press 'Enter' to submit the code. 'Esc' or 'Ctrl+C' to quit."
	codeInputWidth   = 64
	codeInputMaxSize = 256
)

var (
	titleStyle       = cyan.Bold(true)
	focusedStyle     = green
	helpStyle        = gray
	placeholderStyle = gray
	spinnerStyle     = cyan
	errorTextStyle   = red
	errorHeaderStyle = red.Bold(true)
)

type codeMsg struct {
	code string
	err  error
}

type tokenMsg struct{ err error }

type loginModel struct {
	ctx       context.Context
	session   authSession
	save      saveTokenFunc
	tokenFile string

	input   textinput.Model
	spinner spinner.Model

	state     loginState
	err       error
	cancelled bool
}

func newLoginModel(ctx context.Context, session authSession, save saveTokenFunc, tokenFile string) loginModel {
	input := textinput.New()
	input.Placeholder = txtCodePrompt
	input.Focus()
	input.CharLimit = codeInputMaxSize
	input.Width = codeInputWidth
	input.PromptStyle = focusedStyle
	input.TextStyle = focusedStyle
	input.PlaceholderStyle = placeholderStyle

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	return loginModel{
		ctx:       ctx,
		session:   session,
		save:      save,
		tokenFile: tokenFile,
		input:     input,
		spinner:   s,
		state:     waitingState,
	}
}

func (m loginModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.waitForCode())
}

func (m loginModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancelled = true
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submitCode()
		}
		if m.state != waitingState {
			return m, nil
		}
		m.err = nil
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case codeMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.state = exchangingState
		m.input.Blur()
		return m, m.exchange(msg.code)

	case tokenMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.state = doneState
		return m, tea.Quit
	}

	return m, nil
}

// submitCode hands a pasted code to the session. The pending wait then
// returns it as a codeMsg, exactly like a browser redirect would.
func (m loginModel) submitCode() (tea.Model, tea.Cmd) {
	if m.state != waitingState {
		return m, nil
	}
	code := strings.TrimSpace(m.input.Value())
	if code == "" {
		m.err = errors.New(txtEmptyCode)
		return m, nil
	}
	m.err = nil
	m.input.Blur()
	m.session.Submit(code)
	return m, nil
}

func (m loginModel) waitForCode() tea.Cmd {
	return func() tea.Msg {
		code, err := m.session.Wait(m.ctx)
		return codeMsg{code: code, err: err}
	}
}

func (m loginModel) exchange(code string) tea.Cmd {
	return func() tea.Msg {
		tok, err := m.session.Exchange(m.ctx, code)
		if err != nil {
			return tokenMsg{err: err}
		}
		return tokenMsg{err: m.save(tok)}
	}
}

func (m loginModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(txtTitle))
	b.WriteString("\n\n")
	b.WriteString(txtOpenURL)
	b.WriteString("\n")
	b.WriteString(cyan.Render(m.session.URL()))
	b.WriteString("\n\n")

	switch m.state {
	case waitingState:
		fmt.Fprintf(&b, "%s %s\n\n", m.spinner.View(), txtWaiting)
		b.WriteString(txtPaste)
		b.WriteString("\n")
		b.WriteString(m.input.View())
	case exchangingState:
		fmt.Fprintf(&b, "%s %s", m.spinner.View(), txtExchanging)
	case doneState:
		b.WriteString(green.Render("Authorized, token saved to " + m.tokenFile))
	}

	if m.err != nil {
		b.WriteString("\n\n")
		fmt.Fprintf(&b, "%s %s", errorHeaderStyle.Render("ERROR:"), errorTextStyle.Render(m.err.Error()))
	}

	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render(txtHelp))
	b.WriteString("\n")
	return b.String()
}

// runLoginTUI drives the interactive login until a token is saved, the user
// quits or ctx is cancelled.
func runLoginTUI(ctx context.Context, session authSession, save saveTokenFunc, tokenFile string) error {
	model, err := tea.NewProgram(newLoginModel(ctx, session, save, tokenFile), tea.WithContext(ctx)).Run()
	if err != nil {
		return fmt.Errorf("login screen: %w", err)
	}
	return loginResult(model)
}

func loginResult(model tea.Model) error {
	fm, ok := model.(loginModel)
	if !ok {
		return errLoginCancelled
	}
	switch {
	case fm.err != nil:
		return fmt.Errorf("login failed: %w", fm.err)
	case fm.cancelled, fm.state != doneState:
		return errLoginCancelled
	}
	return nil
}
