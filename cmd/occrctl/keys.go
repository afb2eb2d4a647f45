package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"occrlend/cmd/internal/secret"
	nodeconfig "occrlend/config"
	"occrlend/crypto"
	lendingserver "occrlend/services/lending/server"
)

const defaultSecretEnv = "OCCR_LENDING_HMAC_SECRET"

func newKeygenCmd() *cobra.Command {
	var (
		outPath string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a secp256k1 key and print its addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GeneratePrivateKey()
			if err != nil {
				return err
			}
			addr := key.PubKey().Address()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "address: %s\n", addressStyle.Sprint(addr.Hex()))
			fmt.Fprintf(out, "bech32:  %s\n", crypto.Bech32(addr))
			if outPath == "" {
				warnStyle.Fprintln(out, "key not saved; pass --out to persist it")
				return nil
			}
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("%s already exists; pass --force to overwrite", outPath)
				}
			}
			if err := os.WriteFile(outPath, []byte(hex.EncodeToString(key.Bytes())+"\n"), 0o600); err != nil {
				return fmt.Errorf("write key: %w", err)
			}
			fmt.Fprintf(out, "key written to %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "write the hex private key to this path")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
	return cmd
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config <path>",
		Short: "Write a default node config and admin key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err == nil {
				return fmt.Errorf("%s already exists", args[0])
			}
			cfg, err := nodeconfig.CreateDefault(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config written to %s\n", args[0])
			fmt.Fprintf(out, "admin:     %s\n", addressStyle.Sprint(cfg.Admin))
			fmt.Fprintf(out, "admin key: %s\n", cfg.AdminKeyPath)
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		subject   string
		scopes    []string
		ttl       time.Duration
		secretEnv string
		issuer    string
		audience  string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an HS256 bearer token for the lending service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := crypto.ParseAddress(subject)
			if err != nil {
				return fmt.Errorf("subject: %w", err)
			}
			hmacSecret, err := secret.NewSource(secretEnv, "lending HMAC secret").Get()
			if err != nil {
				return err
			}
			token, err := lendingserver.IssueToken(lendingserver.AuthConfig{
				Enabled:    true,
				HMACSecret: hmacSecret,
				Issuer:     strings.TrimSpace(issuer),
				Audience:   strings.TrimSpace(audience),
			}, addr, scopes, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "caller address (hex or bech32)")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{lendingserver.ScopeLending}, "granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringVar(&secretEnv, "secret-env", defaultSecretEnv, "environment variable holding the HMAC secret")
	cmd.Flags().StringVar(&issuer, "issuer", "", "iss claim")
	cmd.Flags().StringVar(&audience, "audience", "", "aud claim")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
