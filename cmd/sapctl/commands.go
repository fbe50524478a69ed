package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yourusername/sap-bridge/internal/relay"
	"github.com/yourusername/sap-bridge/internal/session"
)

var errLoginFailed = errors.New("login failed: check the username and password")

// NewLoginCmd は login サブコマンドを作成します。
func NewLoginCmd(opts *globalOptions) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the relay and store the session token",
		Long: `Log in to the relay with SAP credentials and store the CSRF token.
The password is read from ` + passwordEnv + ` or, if unset, from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if username == "" {
				return errors.New("--user is required")
			}
			secret, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ws, err := openWorkspace(opts, cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			if !ws.session.Login(ctx, username, secret) {
				return errLoginFailed
			}
			if err := ws.saveCookies(); err != nil {
				return fmt.Errorf("save cookies: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", username)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "user", "u", "", "SAP username")
	return cmd
}

// NewStatusCmd は status サブコマンドを作成します。Bundle の有効性はバックエンドに確認しません。
func NewStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session state",
		Long: `Show whether a session token is stored. The token is not checked
against the backend; an expired token is detected on the next post.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := openWorkspace(opts, cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}

			bundle, ok := ws.session.Bundle()
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), session.StateAnonymous)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s as %s (relay %s)\n", session.StateAuthenticated, bundle.PrincipalLabel, ws.client.BaseURL())
			return nil
		},
	}
}

// NewLogoutCmd は logout サブコマンドを作成します。
func NewLogoutCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session token",
		Long:  `Remove the stored session token and cookies. The backend is not contacted.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := openWorkspace(opts, cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}

			ws.session.Logout()
			if err := ws.clearCookies(); err != nil {
				return fmt.Errorf("remove cookies: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

// NewPostCmd は post サブコマンドを作成します。
func NewPostCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "post <operation> [file|-]",
		Short: "Send a JSON payload to a mutation operation",
		Long: `Send a JSON payload to a mutation operation of the relay using the
stored session. The payload is read from the file, or from stdin when the
file is "-" or omitted. The response body is written to stdout.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := "-"
			if len(args) == 2 {
				source = args[1]
			}
			payload, err := readPayload(source, cmd.InOrStdin())
			if err != nil {
				return err
			}

			ws, err := openWorkspace(opts, cmd.ErrOrStderr(), func(code string) {
				fmt.Fprintf(cmd.ErrOrStderr(), "session rejected by backend (%s); run \"sapctl login\" again\n", code)
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			result, err := ws.session.Mutate(ctx, args[0], payload)
			if saveErr := ws.saveCookies(); saveErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "save cookies: %v\n", saveErr)
			}
			if err != nil {
				return describeMutationError(err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(result.Body))
			if result.Status < 200 || result.Status > 299 {
				return fmt.Errorf("backend responded with status %d", result.Status)
			}
			return nil
		},
	}
}

// describeMutationError は更新系呼び出しのエラーを次に取るべき操作が分かる形にします。
func describeMutationError(err error) error {
	switch {
	case errors.Is(err, session.ErrNotAuthenticated):
		return errors.New("not logged in; run \"sapctl login\" first")
	case errors.Is(err, session.ErrSessionExpired):
		return errors.New("session expired; run \"sapctl login\" again")
	case relay.IsTransient(err):
		return fmt.Errorf("temporary failure, the session is kept and the request can be retried: %w", err)
	default:
		return err
	}
}

// readSecret はパスワードを環境変数か標準入力の1行目から読み取ります。
func readSecret(stdin io.Reader, prompt io.Writer) (string, error) {
	if secret := os.Getenv(passwordEnv); secret != "" {
		return secret, nil
	}

	if f, ok := stdin.(*os.File); ok && isTerminal(f) {
		fmt.Fprint(prompt, "Password: ")
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", errors.New("password is empty; set " + passwordEnv + " or pipe it on stdin")
	}
	return secret, nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// readPayload は source が "-" の場合に標準入力から読み取ります。
func readPayload(source string, stdin io.Reader) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if source == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("payload from %s is not valid JSON", source)
	}
	return data, nil
}
