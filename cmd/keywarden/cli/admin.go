package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/keywarden/keywarden/internal/model"
	"github.com/keywarden/keywarden/internal/service"
	"github.com/keywarden/keywarden/internal/store"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage operator accounts",
	}

	cmd.AddCommand(newAdminCreateCmd())
	cmd.AddCommand(newAdminListCmd())

	return cmd
}

func newAdminCreateCmd() *cobra.Command {
	var (
		email      string
		name       string
		superAdmin bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an operator account",
		Long:  "Create an operator account for the admin API and console. The password is prompted interactively.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminCreate(email, name, superAdmin)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Login email (required)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().BoolVar(&superAdmin, "super", false, "Grant super-admin rights (operator management)")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runAdminCreate(email, name string, superAdmin bool) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email %q", email)
	}

	password, err := promptPassword()
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate id: %w", err)
	}

	admin := &model.Admin{
		ID:           id.String(),
		Email:        email,
		PasswordHash: service.HashPassword(password),
		Name:         name,
		IsActive:     true,
		IsSuperAdmin: superAdmin,
	}

	if err := st.CreateAdmin(context.Background(), admin); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("an operator with email %q already exists", email)
		}
		return err
	}

	fmt.Printf("Created operator %s (%s)\n", admin.Email, admin.ID)
	if superAdmin {
		fmt.Println("Super-admin rights granted.")
	}
	return nil
}

func promptPassword() (string, error) {
	fmt.Print("Password: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if len(first) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}

	fmt.Print("Confirm password: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}

	return string(first), nil
}

func newAdminListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List operator accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			admins, err := st.ListAdmins(context.Background())
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(admins)
			}

			if len(admins) == 0 {
				fmt.Println("No operator accounts. Use 'keywarden admin create' to create one.")
				return nil
			}

			fmt.Printf("%-38s %-30s %-8s %-8s %-20s\n", "ID", "EMAIL", "ACTIVE", "SUPER", "LAST LOGIN")
			for _, a := range admins {
				lastLogin := "never"
				if a.LastLoginAt != nil {
					lastLogin = a.LastLoginAt.Format(time.RFC3339)
				}
				fmt.Printf("%-38s %-30s %-8t %-8t %-20s\n", a.ID, a.Email, a.IsActive, a.IsSuperAdmin, lastLogin)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
