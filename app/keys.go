package app

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/questchain/node/extensions/attestation"
	"github.com/questchain/node/internal/config"
	"github.com/questchain/node/internal/errs"
	"github.com/questchain/node/internal/types"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 keypair for GAME_PRIVATE_KEY / GAME_PUBLIC_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			priv, pub, err := attestation.GenerateKeyPair()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "GAME_PRIVATE_KEY=%s\nGAME_PUBLIC_KEY=%s\n", priv, pub)
			return err
		},
	}
}

func newSignCmd() *cobra.Command {
	var (
		stats     types.StatSet
		address   string
		sessionID int64
		digest    string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign stats (or a raw digest) with the configured GAME_PRIVATE_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			signer, err := attestation.NewSigner(cfg.Signing, nil)
			if err != nil {
				return err
			}

			var res *attestation.Result
			switch {
			case digest != "":
				res, err = signer.SignDigestHex(digest)
			case address == "":
				err = errors.Wrap(errs.ErrInvalidArgument, "--address is required when signing stats")
			default:
				res, err = signer.SignStats(stats, address, sessionID)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	defaults := types.DefaultStats()
	f := cmd.Flags()
	f.Int64Var(&stats.HP, "hp", defaults.HP, "hit points")
	f.Int64Var(&stats.Exp, "exp", defaults.Exp, "experience")
	f.Int64Var(&stats.Agility, "agility", defaults.Agility, "agility")
	f.Int64Var(&stats.Strength, "strength", defaults.Strength, "strength")
	f.Int64Var(&stats.Intelligence, "intelligence", defaults.Intelligence, "intelligence")
	f.Int64Var(&stats.Speed, "speed", defaults.Speed, "speed")
	f.StringVar(&address, "address", "", "player address, hex")
	f.Int64Var(&sessionID, "session", 0, "session number the attestation is valid for")
	f.StringVar(&digest, "digest", "", "sign this 32-byte hex digest instead of stats")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var hash, signature, publicKey string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify an Ed25519 signature over a digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if publicKey == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				publicKey = cfg.Signing.PublicKeyHex
			}
			if attestation.VerifyHex(hash, signature, publicKey) {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "valid")
				return err
			}
			return errors.New("signature is not valid")
		},
	}
	f := cmd.Flags()
	f.StringVar(&hash, "hash", "", "SHA-256 digest, hex")
	f.StringVar(&signature, "signature", "", "signature, hex")
	f.StringVar(&publicKey, "public-key", "", "public key, hex (defaults to GAME_PUBLIC_KEY)")
	_ = cmd.MarkFlagRequired("hash")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}
