package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cfgsync/internal/engine"
	"github.com/roach88/cfgsync/internal/ir"
)

// cliClientInfo identifies CLI operations in the audit trail.
const cliClientInfo = "cfgsync-cli/" + ir.ServiceVersion

// configView is the result of the get command.
type configView struct {
	AccountID string           `json:"account_id"`
	Config    *ir.ConfigRecord `json:"config"`
	Revision  int64            `json:"revision"`
}

func (v configView) Text() string {
	if v.Config == nil {
		return fmt.Sprintf("account %s has no config (revision 0)\n", v.AccountID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "account:   %s\n", v.AccountID)
	fmt.Fprintf(&b, "revision:  %d\n", v.Config.Revision)
	fmt.Fprintf(&b, "data_hash: %s\n", v.Config.DataHash)
	fmt.Fprintf(&b, "updated:   %s\n", v.Config.UpdatedAt.Format(time.RFC3339))
	if v.Config.LastClient != nil {
		fmt.Fprintf(&b, "client:    %s\n", *v.Config.LastClient)
	}
	values := v.Config.Values()
	for i, name := range ir.FieldNames {
		fmt.Fprintf(&b, "%-14s %s\n", name+":", values[i])
	}
	return b.String()
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <account-id>",
		Short: "Show an account's current config",
		Long: `Show an account's current config. The read is audited like an API read.

Example:
  cfgsync get --db ./cfgsync.db acct-1
  cfgsync get --db ./cfgsync.db acct-1 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				rec, found, err := s.engine.Get(ctx, args[0], cliClientInfo)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read config", err)
				}
				view := configView{AccountID: args[0]}
				if found {
					view.Config = &rec
					view.Revision = rec.Revision
				}
				return newFormatter(rootOpts, cmd).Success(view)
			})
		},
	}
}

type versionView struct {
	ir.VersionInfo
}

func (v versionView) Text() string {
	if v.UpdatedAt == nil {
		return "revision 0 (no config)\n"
	}
	return fmt.Sprintf("revision %d updated %s hash %s\n", v.Revision, v.UpdatedAt.Format(time.RFC3339), v.DataHash)
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "version <account-id>",
		Short:         "Show an account's current revision",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				v, err := s.engine.Version(ctx, args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read version", err)
				}
				return newFormatter(rootOpts, cmd).Success(versionView{v})
			})
		},
	}
}

// PushOptions holds flags for the push command.
type PushOptions struct {
	*RootOptions
	Revision   int64
	File       string
	LastClient string
	Fields     map[string]string
}

// pushView is the result of an applied push.
type pushView struct {
	Status   string `json:"status"`
	Revision int64  `json:"revision"`
	Merged   bool   `json:"merged,omitempty"`
	DataHash string `json:"data_hash"`
}

func (v pushView) Text() string {
	if v.Merged {
		return fmt.Sprintf("no changes: already at revision %d\n", v.Revision)
	}
	return fmt.Sprintf("saved revision %d (%s)\n", v.Revision, v.DataHash)
}

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PushOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "push <account-id>",
		Short: "Write an account's config",
		Long: `Write an account's config through the sync protocol.

--revision is the revision the new content is based on (0 to create).
Omitting it on an existing config is rejected. Field values come from
--file (a JSON object keyed by field name) and are overridden by
--field name=value.

Example:
  cfgsync push --db ./cfgsync.db acct-1 --revision 0 --field stock_codes=sh600000
  cfgsync push --db ./cfgsync.db acct-1 --revision 3 --file ./config.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(opts, cmd, args[0])
		},
	}

	cmd.Flags().Int64Var(&opts.Revision, "revision", 0, "base revision (omit only for a new account)")
	cmd.Flags().StringVar(&opts.File, "file", "", "JSON file with field values")
	cmd.Flags().StringVar(&opts.LastClient, "last-client", "", "client identifier stored with the config")
	cmd.Flags().StringToStringVar(&opts.Fields, "field", nil, "field value as name=value (repeatable)")

	return cmd
}

func runPush(opts *PushOptions, cmd *cobra.Command, accountID string) error {
	fields, err := pushFields(opts)
	if err != nil {
		return err
	}

	req := engine.SaveRequest{
		AccountID:  accountID,
		Fields:     fields,
		ClientInfo: cliClientInfo,
	}
	if cmd.Flags().Changed("revision") {
		req.ClientRevision = ir.Int64Ptr(opts.Revision)
	}
	if opts.LastClient != "" {
		req.LastClient = ir.StringPtr(opts.LastClient)
	}

	return withSession(cmd, opts.RootOptions, func(ctx context.Context, s *session) error {
		f := newFormatter(opts.RootOptions, cmd)

		out, err := s.engine.Save(ctx, req)
		if err != nil {
			if engine.IsClientError(err) {
				_ = f.Error(CodeClientError, err.Error(), nil)
				return WrapExitError(ExitCommandError, "write rejected", err)
			}
			_ = f.Error(CodeInternal, err.Error(), nil)
			return WrapExitError(ExitFailure, "write failed", err)
		}

		switch out.Status {
		case engine.StatusConflict:
			_ = f.Error(CodeConflict, "revision conflict", map[string]any{
				"server_revision": out.ServerRevision,
				"client_revision": out.ClientRevision,
				"latest":          out.Record,
			})
			return NewExitError(ExitFailure, fmt.Sprintf("revision conflict: server is at revision %d", out.ServerRevision))
		case engine.StatusBusy:
			_ = f.Error(CodeBusy, "server busy, please retry", map[string]any{
				"retry_after": out.RetryAfter.String(),
			})
			return NewExitError(ExitFailure, "server busy")
		}

		return f.Success(pushView{
			Status:   out.Status.String(),
			Revision: out.Record.Revision,
			Merged:   out.Merged,
			DataHash: out.Record.DataHash,
		})
	})
}

// pushFields merges --file and --field values.
func pushFields(opts *PushOptions) (ir.ConfigFields, error) {
	values := map[string]string{}
	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return ir.ConfigFields{}, WrapExitError(ExitCommandError, "failed to read field file", err)
		}
		if err := json.Unmarshal(data, &values); err != nil {
			return ir.ConfigFields{}, WrapExitError(ExitCommandError, "invalid field file", err)
		}
	}
	for name, value := range opts.Fields {
		values[name] = value
	}
	for name := range values {
		if !isFieldName(name) {
			return ir.ConfigFields{}, NewExitError(ExitCommandError,
				fmt.Sprintf("unknown field %q: must be one of %v", name, ir.FieldNames))
		}
	}
	return ir.FieldsFromMap(values), nil
}

func isFieldName(name string) bool {
	for _, f := range ir.FieldNames {
		if f == name {
			return true
		}
	}
	return false
}

// withSession opens a session for the command, runs fn and closes it.
func withSession(cmd *cobra.Command, opts *RootOptions, fn func(context.Context, *session) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(context.WithoutCancel(ctx)); closeErr != nil && err == nil {
			err = WrapExitError(ExitFailure, "failed to flush audit trail", closeErr)
		}
	}()
	return fn(ctx, s)
}
