package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/openmined/drivesync/internal/client/config"
	"github.com/openmined/drivesync/internal/remote/drive"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

// authSession is the part of drive.LoginSession the login flows use.
type authSession interface {
	URL() string
	Wait(ctx context.Context) (string, error)
	Submit(code string)
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

type saveTokenFunc func(tok *oauth2.Token) error

var loginBindings = flagBindings{
	"credentials": "remote.drive.credentials_file",
	"token-file":  "remote.drive.token_file",
}

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize drivesync to access Google Drive",
		Long: `Authorize drivesync to access Google Drive.

Open the printed link, grant access, and the browser redirect completes the
login. If the redirect cannot reach this machine, paste the code from the
address bar instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, loginBindings)
			if err != nil {
				return err
			}
			cfg.Remote.Backend = config.BackendDrive
			if err := cfg.Validate(); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			closeLog, err := setupLogging(cfg, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer closeLog()

			oauthCfg, err := drive.LoadOAuthConfig(cfg.Remote.Drive.CredentialsFile)
			if err != nil {
				return err
			}
			session, err := drive.NewLoginSession(oauthCfg)
			if err != nil {
				return err
			}
			defer session.Close()

			tokenFile := cfg.Remote.Drive.TokenFile
			save := func(tok *oauth2.Token) error {
				return drive.SaveToken(tokenFile, tok)
			}

			if isTerminal(os.Stdin) && isTerminal(cmd.OutOrStdout()) {
				err = runLoginTUI(cmd.Context(), session, save, tokenFile)
			} else {
				err = runLoginPlain(cmd.Context(), cmd.OutOrStdout(), session, save)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s token saved to %s\n", green.Render("Logged in."), tokenFile)
			return nil
		},
	}

	cmd.Flags().String("credentials", "", "OAuth client credentials file (default "+config.DefaultCredentialsPath+")")
	cmd.Flags().String("token-file", "", "where to save the token (default "+config.DefaultTokenPath+")")
	return cmd
}

// runLoginPlain waits for the browser redirect without reading stdin.
func runLoginPlain(ctx context.Context, w io.Writer, session authSession, save saveTokenFunc) error {
	fmt.Fprintln(w, "Open this link to authorize drivesync:")
	fmt.Fprintln(w, cyan.Render(session.URL()))
	fmt.Fprintln(w, gray.Render("waiting for the browser redirect..."))

	code, err := session.Wait(ctx)
	if err != nil {
		return err
	}
	tok, err := session.Exchange(ctx, code)
	if err != nil {
		return err
	}
	return save(tok)
}
