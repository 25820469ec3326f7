package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"

	"dopple/internal/config"
)

func newDriveAuthCommand() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "drive-auth",
		Short: "Mint a Google Drive refresh token for the gdrive store",
		Long: `Start a local OAuth callback, print the consent URL and wait for the
browser to come back. The printed token goes into GDRIVE_REFRESH_TOKEN.

Reads GDRIVE_CLIENT_ID and GDRIVE_CLIENT_SECRET.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDriveAuth(cmd, wait)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 3*time.Minute, "How long to wait for the browser")
	return cmd
}

func runDriveAuth(cmd *cobra.Command, wait time.Duration) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	clientID := config.Env("GDRIVE_CLIENT_ID", "")
	clientSecret := config.Env("GDRIVE_CLIENT_SECRET", "")
	if clientID == "" || clientSecret == "" {
		return fmt.Errorf("GDRIVE_CLIENT_ID and GDRIVE_CLIENT_SECRET must be set")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen for callback: %w", err)
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", port)

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
		RedirectURL:  redirectURL,
	}

	state, err := randomState()
	if err != nil {
		return err
	}

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", callbackHandler(state, codeCh, errCh))

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Fprintf(out, "Open this URL in your browser:\n\n%s\n\nWaiting for authorization on %s\n", authURL, redirectURL)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return err
	case <-time.After(wait):
		return fmt.Errorf("timed out waiting for authorization")
	case <-ctx.Done():
		return ctx.Err()
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	tok, err := conf.Exchange(exchangeCtx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}

	// Google omits the refresh token when the app was already authorized
	// without prompt=consent.
	if strings.TrimSpace(tok.RefreshToken) == "" {
		fmt.Fprintln(out, "\nNo refresh token was returned. Revoke the app at https://myaccount.google.com/permissions and run this again.")
		return nil
	}
	fmt.Fprintf(out, "\nGDRIVE_REFRESH_TOKEN=%s\n", tok.RefreshToken)
	return nil
}

func callbackHandler(state string, codeCh chan<- string, errCh chan<- error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var err error
		switch {
		case q.Get("state") != state:
			err = fmt.Errorf("invalid state")
		case q.Get("error") != "":
			err = fmt.Errorf("auth error: %s", q.Get("error"))
		case q.Get("code") == "":
			err = fmt.Errorf("missing code")
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			select {
			case errCh <- err:
			default:
			}
			return
		}
		fmt.Fprintln(w, "Done. You can close this window and return to the terminal.")
		select {
		case codeCh <- q.Get("code"):
		default:
		}
	}
}

func randomState() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
