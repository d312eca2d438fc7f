package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cfgsync/internal/ir"
)

type auditView struct {
	AccountID string          `json:"account_id"`
	Entries   []ir.AuditEntry `json:"entries"`
}

func (v auditView) Text() string {
	if len(v.Entries) == 0 {
		return fmt.Sprintf("no audit entries for account %s\n", v.AccountID)
	}
	var b strings.Builder
	for _, e := range v.Entries {
		fmt.Fprintf(&b, "%s  %-8s client=%s server=%s",
			e.CreatedAt.Format(time.RFC3339), e.Action, optRevision(e.ClientRevision), optRevision(e.ServerRevision))
		if e.Merged {
			b.WriteString(" merged")
		}
		fmt.Fprintf(&b, "  %s\n", e.ClientInfo)
	}
	return b.String()
}

func optRevision(r *int64) string {
	if r == nil {
		return "-"
	}
	return fmt.Sprint(*r)
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit <account-id>",
		Short: "List an account's sync audit trail",
		Long: `List an account's sync audit trail from the database audit table, oldest first.

Example:
  cfgsync audit --db ./cfgsync.db acct-1 --limit 20`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				entries, err := s.backend.ReadAudit(ctx, args[0], limit)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read audit trail", err)
				}
				return newFormatter(rootOpts, cmd).Success(auditView{AccountID: args[0], Entries: entries})
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "newest entries to show (0 for all)")

	return cmd
}
