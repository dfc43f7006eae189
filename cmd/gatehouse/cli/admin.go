package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/spf13/cobra"

	"github.com/faucetdb/gatehouse/internal/config"
	"github.com/faucetdb/gatehouse/internal/model"
	"github.com/faucetdb/gatehouse/internal/service"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin users",
		Long: `Create, list and intervene on admin accounts directly in the directory.

These commands bypass the HTTP API. They are the recovery path for a locked
or disabled account and the way to create the first admin.`,
	}

	cmd.AddCommand(newAdminCreateCmd())
	cmd.AddCommand(newAdminListCmd())
	cmd.AddCommand(newAdminSetActiveCmd("disable", false))
	cmd.AddCommand(newAdminSetActiveCmd("enable", true))
	cmd.AddCommand(newAdminUnlockCmd())
	cmd.AddCommand(newAdminResetPasswordCmd())

	return cmd
}

// ---------- admin create ----------

type adminCreateInput struct {
	Email    string
	Username string
}

func (in adminCreateInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, is.Email),
		validation.Field(&in.Username, validation.Required, validation.Length(2, 64)),
	)
}

var errIdentityTaken = errors.New("an admin with this email or username already exists")

func newAdminCreateCmd() *cobra.Command {
	var (
		email    string
		username string
		pw       string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new admin user",
		Example: `  gatehouse admin create --email ada@example.com --username ada
  gatehouse admin create --email ada@example.com --username ada --password '...'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminCreate(cmd.OutOrStdout(), email, username, pw)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Admin email address (required)")
	cmd.Flags().StringVar(&username, "username", "", "Admin username (required)")
	cmd.Flags().StringVar(&pw, "password", "", "Admin password (prompted if omitted)")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("username")

	return cmd
}

func runAdminCreate(out io.Writer, email, username, pw string) error {
	in := adminCreateInput{Email: model.NormalizeEmail(email), Username: model.NormalizeUsername(username)}
	if err := in.Validate(); err != nil {
		return err
	}

	if pw == "" {
		var err error
		if pw, err = promptPassword("Password"); err != nil {
			return err
		}
	}

	st, _, err := loadSettings()
	if err != nil {
		return err
	}
	store, err := openStore(st)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	emailTaken, usernameTaken, err := store.IdentityTaken(ctx, in.Email, in.Username)
	if err != nil {
		return err
	}
	if emailTaken || usernameTaken {
		return errIdentityTaken
	}

	cred, err := newHasher().Hash(ctx, pw, false)
	if err != nil {
		return err
	}

	admin := &model.AdminUser{
		Email:             in.Email,
		Username:          in.Username,
		PasswordHash:      cred.Hash,
		PasswordAlgorithm: cred.Algorithm,
		PasswordVersion:   cred.Version,
		IsActive:          true,
	}
	if err := store.CreateAdmin(ctx, admin); err != nil {
		if errors.Is(err, config.ErrConflict) {
			return errIdentityTaken
		}
		return fmt.Errorf("create admin: %w", err)
	}

	fmt.Fprintf(out, "Created admin %q <%s> (id %d)\n", admin.Username, admin.Email, admin.ID)
	return nil
}

// ---------- admin list ----------

func newAdminListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all admin users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminList(cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runAdminList(out io.Writer, jsonOutput bool) error {
	st, _, err := loadSettings()
	if err != nil {
		return err
	}
	store, err := openStore(st)
	if err != nil {
		return err
	}
	defer store.Close()

	admins, err := store.ListAdmins(context.Background())
	if err != nil {
		return err
	}

	if jsonOutput {
		rows := make([]model.PublicAdmin, 0, len(admins))
		for i := range admins {
			rows = append(rows, admins[i].Public())
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(admins) == 0 {
		fmt.Fprintln(out, "No admin users configured. Use 'gatehouse admin create' to create one.")
		return nil
	}

	fmt.Fprintf(out, "%-6s %-30s %-20s %-7s %-7s %-20s\n", "ID", "EMAIL", "USERNAME", "ACTIVE", "LOCKED", "LAST LOGIN")
	fmt.Fprintf(out, "%-6s %-30s %-20s %-7s %-7s %-20s\n", "--", "-----", "--------", "------", "------", "----------")
	for _, a := range admins {
		lastLogin := "never"
		if a.LastLoginAt != nil {
			lastLogin = a.LastLoginAt.Format(time.RFC3339)
		}
		locked := a.FailedLoginAttempts >= service.LockoutThreshold
		fmt.Fprintf(out, "%-6d %-30s %-20s %-7s %-7s %-20s\n",
			a.ID, a.Email, a.Username, yesNo(a.IsActive), yesNo(locked), lastLogin)
	}

	return nil
}

// ---------- admin enable / disable ----------

func newAdminSetActiveCmd(use string, active bool) *cobra.Command {
	short := "Disable an admin account"
	if active {
		short = "Re-enable a disabled admin account"
	}
	return &cobra.Command{
		Use:   use + " <id|email|username>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(args[0], func(ctx context.Context, store *config.Store, admin *model.AdminUser) error {
				if _, err := store.SetAdminActive(ctx, admin.ID, active); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Admin %q %sd\n", admin.Username, use)
				return nil
			})
		},
	}
}

// ---------- admin unlock ----------

func newAdminUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <id|email|username>",
		Short: "Clear the failed-login counter of a locked admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(args[0], func(ctx context.Context, store *config.Store, admin *model.AdminUser) error {
				if err := store.ClearFailedLogins(ctx, admin.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Admin %q unlocked\n", admin.Username)
				return nil
			})
		},
	}
}

// ---------- admin reset-password ----------

func newAdminResetPasswordCmd() *cobra.Command {
	var pw string

	cmd := &cobra.Command{
		Use:   "reset-password <id|email|username>",
		Short: "Set a new password for an admin and clear any lockout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if pw == "" {
				var err error
				if pw, err = promptPassword("New password"); err != nil {
					return err
				}
			}
			return withAdmin(args[0], func(ctx context.Context, store *config.Store, admin *model.AdminUser) error {
				cred, err := newHasher().Hash(ctx, pw, false)
				if err != nil {
					return err
				}
				if err := store.SetAdminPassword(ctx, admin.ID, cred); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Password updated for %q\n", admin.Username)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&pw, "password", "", "New password (prompted if omitted)")

	return cmd
}

// withAdmin opens the directory, resolves ident and calls fn.
func withAdmin(ident string, fn func(context.Context, *config.Store, *model.AdminUser) error) error {
	st, _, err := loadSettings()
	if err != nil {
		return err
	}
	store, err := openStore(st)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	admin, err := findAdmin(ctx, store, ident)
	if err != nil {
		return err
	}
	return fn(ctx, store, admin)
}
