package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/alexjbarnes/authcore/internal/pkce"
	"github.com/alexjbarnes/authcore/internal/token"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

// newHashSecretCmd hashes a password or client secret for the directory
// file. The secret is read from stdin so it stays out of shell history.
func newHashSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-secret",
		Short: "Read a secret from stdin and print its bcrypt hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprint(cmd.ErrOrStderr(), "Enter secret: ")

			scanner := bufio.NewScanner(cmd.InOrStdin())
			if !scanner.Scan() {
				return fmt.Errorf("no input")
			}

			secret := strings.TrimRight(scanner.Text(), "\r")
			if secret == "" {
				return fmt.Errorf("secret must not be empty")
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hashing secret: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(hash))

			return nil
		},
	}
}

func newGenSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-secret",
		Short: "Print a random signing key for JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := token.GenerateKey()
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token.EncodeKey(key))

			return nil
		},
	}
}

func newGenVerifierCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-verifier",
		Short: "Print a PKCE code_verifier and its S256 code_challenge",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			verifier, challenge := pkce.GeneratePair()
			fmt.Fprintf(cmd.OutOrStdout(), "code_verifier=%s\ncode_challenge=%s\n", verifier, challenge)
		},
	}
}
