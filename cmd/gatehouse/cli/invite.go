package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetdb/gatehouse/internal/mail"
	"github.com/faucetdb/gatehouse/internal/model"
	"github.com/faucetdb/gatehouse/internal/service"
)

func newInviteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Manage admin invites",
		Long:  "Issue, list and revoke single-use invites for prospective admins.",
	}

	cmd.AddCommand(newInviteCreateCmd())
	cmd.AddCommand(newInviteListCmd())
	cmd.AddCommand(newInviteRevokeCmd())

	return cmd
}

// withInvites opens the directory and builds the invite lifecycle over it.
func withInvites(fn func(context.Context, *service.Invites, *mail.Composer) error) error {
	st, _, err := loadSettings()
	if err != nil {
		return err
	}
	store, err := openStore(st)
	if err != nil {
		return err
	}
	defer store.Close()

	logger := stderrLogger(st)
	composer := mail.NewComposer(st.Mail.BaseURL)
	invites := service.NewInvites(store, newHasher(),
		service.NewNotifier(newMailer(st, logger), composer),
		st.InviteTTL(), service.WithLogger(logger))
	return fn(context.Background(), invites, composer)
}

// ---------- invite create ----------

func newInviteCreateCmd() *cobra.Command {
	var email, username string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Invite a new admin",
		Long: `Issue an invite and print its acceptance link. If an open invite already
exists for the email it is re-issued and its previous link stops working.`,
		Example: `  gatehouse invite create --email grace@example.com --username grace`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := adminCreateInput{Email: email, Username: username}
			if err := in.Validate(); err != nil {
				return err
			}
			return withInvites(func(ctx context.Context, invites *service.Invites, composer *mail.Composer) error {
				issued, err := invites.Issue(ctx, email, username, nil)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Invite %d issued to %s (%s)\n", issued.Invite.ID, issued.Invite.Email, issued.Invite.Username)
				fmt.Fprintf(out, "  link:    %s\n", composer.InviteLink(issued.Token))
				fmt.Fprintf(out, "  expires: %s\n", issued.ExpiresAt.Format(time.RFC3339))
				fmt.Fprintln(out, "The link is shown once and cannot be retrieved again.")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Invitee email address (required)")
	cmd.Flags().StringVar(&username, "username", "", "Username the invitee will sign in with (required)")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("username")

	return cmd
}

// ---------- invite list ----------

func newInviteListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List invites with their effective status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInvites(func(ctx context.Context, invites *service.Invites, _ *mail.Composer) error {
				list, err := invites.List(ctx)
				if err != nil {
					return err
				}
				return printInvites(cmd.OutOrStdout(), list, jsonOutput)
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func printInvites(out io.Writer, list []model.AdminInvite, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	if len(list) == 0 {
		fmt.Fprintln(out, "No invites. Use 'gatehouse invite create' to invite an admin.")
		return nil
	}

	fmt.Fprintf(out, "%-6s %-30s %-20s %-9s %-20s\n", "ID", "EMAIL", "USERNAME", "STATUS", "EXPIRES")
	fmt.Fprintf(out, "%-6s %-30s %-20s %-9s %-20s\n", "--", "-----", "--------", "------", "-------")
	for _, inv := range list {
		fmt.Fprintf(out, "%-6d %-30s %-20s %-9s %-20s\n",
			inv.ID, inv.Email, inv.Username, inv.Status, inv.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// ---------- invite revoke ----------

func newInviteRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an open or expired invite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid invite id %q", args[0])
			}
			return withInvites(func(ctx context.Context, invites *service.Invites, _ *mail.Composer) error {
				if _, err := invites.Revoke(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Invite %d revoked\n", id)
				return nil
			})
		},
	}
}
