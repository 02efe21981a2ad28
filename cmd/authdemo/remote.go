package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/panyam/authcore/client"
	"github.com/panyam/authcore/client/stores/fs"
)

// readPassword is replaced in tests.
var readPassword = term.ReadPassword

type remoteFlags struct {
	credentials string
}

func (f *remoteFlags) client(server string) (*client.AuthClient, error) {
	store, err := fs.NewFSCredentialStore(f.credentials, "authdemo")
	if err != nil {
		return nil, err
	}
	return client.NewAuthClient(server, store), nil
}

// promptPassword reads a password without echo from a terminal, or a line
// from piped input.
func promptPassword(in io.Reader, w io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(w, "Password: ")
		pw, err := readPassword(int(f.Fd()))
		fmt.Fprintln(w)
		return string(pw), err
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func remoteCmds() []*cobra.Command {
	flags := &remoteFlags{}
	login := &cobra.Command{
		Use:   "login <server> <handle>",
		Short: "Log in to a running server and store the token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client(args[0])
			if err != nil {
				return err
			}
			password, err := promptPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			account, err := c.Login(cmd.Context(), args[1], password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in to %s as %s\n", c.ServerURL(), account.Handle)
			return nil
		},
	}
	whoami := &cobra.Command{
		Use:   "whoami <server>",
		Short: "Show the account of the stored token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client(args[0])
			if err != nil {
				return err
			}
			account, err := c.Me(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, %s)\n", account.Handle, account.Role, account.ID)
			return nil
		},
	}
	logout := &cobra.Command{
		Use:   "logout <server>",
		Short: "Forget the stored token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client(args[0])
			if err != nil {
				return err
			}
			return c.Logout()
		},
	}
	cmds := []*cobra.Command{login, whoami, logout}
	for _, c := range cmds {
		c.Flags().StringVar(&flags.credentials, "credentials", "", "credentials file (default <config dir>/authdemo/credentials.json)")
	}
	return cmds
}
