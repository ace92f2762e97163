package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/elsehu/supportdesk/internal/store"
)

func seedCmd() *cobra.Command {
	var (
		name     string
		email    string
		password string
		role     string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create or update an operator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password are required")
			}
			switch role {
			case store.RoleOperator, store.RoleSupervisor, store.RoleAdmin:
			default:
				return fmt.Errorf("invalid role %q", role)
			}

			cfg, err := provideConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			pool, err := store.Open(ctx, cfg.Postgres)
			if err != nil {
				return err
			}
			defer pool.Close()

			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}

			operator, err := store.New(pool).CreateOperator(ctx, name, email, string(hash), role)
			if err != nil {
				return err
			}
			fmt.Printf("operator %s (%s) ready\n", operator.Email, operator.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "Administrator", "display name")
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&password, "password", "", "login password")
	cmd.Flags().StringVar(&role, "role", store.RoleAdmin, "OPERATOR, SUPERVISOR or ADMIN")
	return cmd
}
