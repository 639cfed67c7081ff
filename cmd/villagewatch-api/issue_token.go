package main

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/villagewatch/internal/auth"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newIssueTokenCommand() *cobra.Command {
	var userID string
	var displayName string

	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint a session token for a directory user",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        appConfig.SessionIssuer,
				TokenTTL:      appConfig.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueSessionToken(userID, displayName)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires_in=%d\n", token, expiresIn)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "Directory user id")
	cmd.Flags().StringVar(&displayName, "display-name", "", "Display name embedded in the token")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
