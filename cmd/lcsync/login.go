package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the session bearer token",
	Long: `Login stores the API bearer token used by all subsequent
commands. The token is kept in the state directory with mode 0600.`,
	Example: `  lcsync login --token eyJhbGciOi...
  lcsync login`,
	RunE: runLogin,
}

var loginToken string

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringVarP(&loginToken, "token", "t", "",
		"Bearer token (will prompt if not provided)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	if loginToken == "" {
		var err error
		loginToken, err = promptSecret("Token: ")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
	}
	if loginToken == "" {
		return fmt.Errorf("empty token")
	}

	if err := saveToken(loginToken); err != nil {
		printError("Failed to store token: %v", err)
		return err
	}

	if jsonOutput {
		printJSON(map[string]any{"success": true})
	} else {
		printSuccess("Token stored")
	}
	return nil
}

func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}
