package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/matcha/internal/model"
	"github.com/sakif/matcha/internal/service"
)

// accountView is the operator's view of an identity. Unlike the API's
// public shape it includes moderation fields, but never the password hash.
type accountView struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	Username        string     `json:"username"`
	Status          string     `json:"status"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func viewOf(u *model.User) accountView {
	return accountView{
		ID:              u.ID,
		Email:           u.Email,
		Username:        u.Username,
		Status:          u.Status.String(),
		EmailVerifiedAt: u.EmailVerifiedAt,
		CreatedAt:       u.CreatedAt,
	}
}

type showConfig struct {
	jsonOutput bool
}

func newShowCmd() *cobra.Command {
	cfg := &showConfig{}

	cmd := &cobra.Command{
		Use:   "show <id|email>",
		Short: "Show an account",
		Long:  `Look up a live account by id, or by email when the argument contains "@".`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, cfg, args[0])
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output the account as JSON")

	return cmd
}

func runShow(cmd *cobra.Command, cfg *showConfig, ref string) error {
	ctx := cmd.Context()
	e, closeFn, err := openEnv(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	user, err := e.accounts.Get(ctx, ref)
	if service.IsNotFound(err) {
		return fmt.Errorf("no account matches %q", ref)
	}
	if err != nil {
		return err
	}

	view := viewOf(user)
	if cfg.jsonOutput {
		data, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal account: %w", err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}

	_, err = fmt.Fprint(cmd.OutOrStdout(), formatAccountTable(view))
	return err
}

func formatAccountTable(v accountView) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	verified := "no"
	if v.EmailVerifiedAt != nil {
		verified = v.EmailVerifiedAt.UTC().Format(time.RFC3339)
	}

	_, _ = fmt.Fprintf(w, "ID\t%s\n", v.ID)
	_, _ = fmt.Fprintf(w, "EMAIL\t%s\n", v.Email)
	_, _ = fmt.Fprintf(w, "USERNAME\t%s\n", v.Username)
	_, _ = fmt.Fprintf(w, "STATUS\t%s\n", v.Status)
	_, _ = fmt.Fprintf(w, "VERIFIED\t%s\n", verified)
	_, _ = fmt.Fprintf(w, "CREATED\t%s\n", v.CreatedAt.UTC().Format(time.RFC3339))

	_ = w.Flush()
	return buf.String()
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <active|suspended|banned>",
		Short: "Change the moderation status of an account",
		Long: `Set an account's status. Only active accounts can log in; existing
sessions of a suspended or banned account stop working on their next request.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := model.ParseAccountStatus(args[1])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			e, closeFn, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := e.accounts.SetStatus(ctx, args[0], status); err != nil {
				return err
			}
			cmd.Printf("account %s is now %s\n", args[0], status)
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete an account",
		Long: `Mark an account deleted. Its sessions end and its email and username
become available for new registrations.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, closeFn, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := e.accounts.SoftDelete(ctx, args[0]); err != nil {
				return err
			}
			cmd.Printf("account %s deleted\n", args[0])
			return nil
		},
	}
}

func newVerifyEmailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-email <id>",
		Short: "Mark an account's email as verified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, closeFn, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := e.accounts.VerifyEmail(ctx, args[0]); err != nil {
				return err
			}
			cmd.Printf("email of account %s verified\n", args[0])
			return nil
		},
	}
}

// newMigrateCmd brings the schema up to date. Opening storage migrates, so
// this only opens, pings and closes.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Apply pending schema migrations to the configured database.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, closeFn, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := e.store.Ping(ctx); err != nil {
				return fmt.Errorf("database unreachable after migration: %w", err)
			}
			cmd.Println("Migrations completed successfully")
			return nil
		},
	}
}
