// issue-token mints or revokes bearer tokens for the delivery API. Account
// registration and login live outside this service; operators use this tool
// to hand out credentials.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"delivery-tracker/internal/core/auth"
	"delivery-tracker/internal/core/cache"
	"delivery-tracker/internal/core/config"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	var subject, revoke string
	var admin bool
	var ttl time.Duration

	flagSet := pflag.NewFlagSet("issue-token", pflag.ContinueOnError)
	flagSet.SetOutput(stdout)
	flagSet.StringVar(&subject, "subject", "", "principal id; deliveries list it as their customer id")
	flagSet.BoolVar(&admin, "admin", false, "grant the admin role")
	flagSet.DurationVar(&ttl, "ttl", 0, "token lifetime (default: TOKEN_TTL)")
	flagSet.StringVar(&revoke, "revoke", "", "revoke this token instead of issuing one")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := cache.NewRedisAdapter(cfg.Store.RedisURL)
	if err != nil {
		return err
	}
	defer store.Close()

	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}
	tokens := auth.NewTokenManager(auth.Config{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.JWTIssuer,
		TTL:    ttl,
	}, store)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.Timeout)
	defer cancel()

	if revoke != "" {
		if err := tokens.Revoke(ctx, revoke); err != nil {
			return fmt.Errorf("failed to revoke token: %w", err)
		}
		fmt.Fprintln(stdout, "token revoked")
		return nil
	}

	if subject == "" {
		return errors.New("--subject is required")
	}

	token, expiresAt, err := tokens.Issue(ctx, auth.Principal{ID: subject, IsAdmin: admin})
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Fprintln(stdout, token)
	fmt.Fprintf(stdout, "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}
