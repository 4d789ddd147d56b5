package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/crescent-api/internal/models"
	"github.com/noah-isme/crescent-api/internal/repository"
	"github.com/noah-isme/crescent-api/internal/service"
)

func newUserCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	var req service.CreateUserRequest
	var role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an active account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.Role = models.UserRole(role)
			auth := service.NewAuthService(repository.NewUserRepository(e.db), nil, e.logger, service.AuthConfig{
				AccessTokenSecret: e.cfg.JWT.Secret,
				AccessTokenExpiry: e.cfg.JWT.Expiration,
				Issuer:            e.cfg.JWT.Issuer,
			})
			user, err := auth.CreateUser(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", user.Role, user.Email, user.ID)
			return nil
		},
	}
	create.Flags().StringVar(&req.Email, "email", "", "login email")
	create.Flags().StringVar(&req.Password, "password", "", "initial password (min 8 chars)")
	create.Flags().StringVar(&req.FullName, "name", "", "display name")
	create.Flags().StringVar(&role, "role", string(models.RoleParent), "PARENT, STUDENT, TEACHER, STAFF or ADMIN")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("password")
	_ = create.MarkFlagRequired("name")

	cmd.AddCommand(create)
	return cmd
}
