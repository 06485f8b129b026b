// This command is only used for local testing: it prints a signed access
// token that the CLI can use as a static credential against the dev server.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/perkline/perkline/internal/config"
	"github.com/perkline/perkline/internal/credential"
	"github.com/spf13/cobra"
)

func main() {
	if err := newCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		storeID string
		role    string
	)

	cmd := &cobra.Command{
		Use:   "devtoken <user-id>",
		Short: "Mint a development access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDevToken(cmd.Context())
			if err != nil {
				return fmt.Errorf("error reading config: %w", err)
			}

			signed, err := createJWT(cfg, time.Now().UTC(), credential.Session{
				UserID:  args[0],
				StoreID: storeID,
				Role:    role,
			})
			if err != nil {
				return fmt.Errorf("error creating JWT: %w", err)
			}

			_, err = fmt.Fprint(cmd.OutOrStdout(), signed)
			return err
		},
	}

	cmd.Flags().StringVar(&storeID, "store", "", "store the actor belongs to")
	cmd.Flags().StringVar(&role, "role", "customer", "actor role (customer or partner)")

	return cmd
}

func createJWT(cfg config.DevTokenConfig, now time.Time, s credential.Session) (string, error) {
	claims := credential.Claims{
		StoreID: s.StoreID,
		Role:    s.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-1 * time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.Lifetime)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.SigningKey))
}
