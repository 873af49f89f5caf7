package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/migration-orchestrator/internal/migration"
)

// StatusReport is the output of the status command.
type StatusReport struct {
	Current  string         `json:"current"`
	Executed []string       `json:"executed"`
	Pending  []string       `json:"pending"`
	Unknown  []string       `json:"unknown,omitempty"`
	History  []HistoryEntry `json:"history,omitempty"`
}

// HistoryEntry is one audit record in a StatusReport.
type HistoryEntry struct {
	Name           string    `json:"name"`
	AppliedAt      time.Time `json:"applied_at"`
	DurationMillis int64     `json:"duration_ms"`
	Checksum       string    `json:"checksum,omitempty"`
	RunID          string    `json:"run_id,omitempty"`
}

func newStatusReport(status migration.Status) StatusReport {
	report := StatusReport{
		Current:  status.Current(),
		Executed: orEmpty(status.Executed),
		Pending:  orEmpty(status.Pending),
		Unknown:  status.Unknown,
	}
	for _, record := range status.History {
		report.History = append(report.History, HistoryEntry{
			Name:           record.Name,
			AppliedAt:      record.AppliedAt.UTC(),
			DurationMillis: record.Duration.Milliseconds(),
			Checksum:       record.Checksum,
			RunID:          record.RunID,
		})
	}
	return report
}

func (r StatusReport) Text() string {
	applied := make(map[string]HistoryEntry, len(r.History))
	for _, entry := range r.History {
		applied[entry.Name] = entry
	}

	var b strings.Builder
	current := r.Current
	if current == "" {
		current = "(none)"
	}
	fmt.Fprintf(&b, "Current: %s\n", current)

	fmt.Fprintf(&b, "Executed (%d):\n", len(r.Executed))
	for _, name := range r.Executed {
		if entry, ok := applied[name]; ok {
			fmt.Fprintf(&b, "  %s  applied %s (%dms)\n", name, entry.AppliedAt.Format(time.RFC3339), entry.DurationMillis)
			continue
		}
		fmt.Fprintf(&b, "  %s\n", name)
	}

	fmt.Fprintf(&b, "Pending (%d):\n", len(r.Pending))
	for _, name := range r.Pending {
		fmt.Fprintf(&b, "  %s\n", name)
	}

	if len(r.Unknown) > 0 {
		fmt.Fprintf(&b, "Unknown (%d):\n", len(r.Unknown))
		for _, name := range r.Unknown {
			fmt.Fprintf(&b, "  %s\n", name)
		}
	}
	return b.String()
}

// NameList is the output of the pending and executed commands.
type NameList struct {
	Migrations []string `json:"migrations"`
}

func (l NameList) Text() string {
	return names(l.Migrations, "(none)")
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show executed, pending and unknown migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return query(rootOpts, cmd, func(engine *migration.Engine) (any, error) {
				status, err := engine.Status(cmd.Context())
				if err != nil {
					return nil, err
				}
				return newStatusReport(status), nil
			})
		},
	}
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List migrations not yet executed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return query(rootOpts, cmd, func(engine *migration.Engine) (any, error) {
				pending, err := engine.Pending(cmd.Context())
				if err != nil {
					return nil, err
				}
				return NameList{Migrations: orEmpty(pending)}, nil
			})
		},
	}
}

// NewExecutedCommand creates the executed command.
func NewExecutedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "executed",
		Short: "List executed migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return query(rootOpts, cmd, func(engine *migration.Engine) (any, error) {
				executed, err := engine.Executed(cmd.Context())
				if err != nil {
					return nil, err
				}
				return NameList{Migrations: orEmpty(executed)}, nil
			})
		},
	}
}

func query(opts *RootOptions, cmd *cobra.Command, read func(*migration.Engine) (any, error)) error {
	formatter := newFormatter(opts, cmd)

	sess, err := openSession(cmd.Context(), opts, cmd.ErrOrStderr())
	if err != nil {
		return formatter.Fail(err, nil)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			sess.logger.Warn("failed to close session", "error", err)
		}
	}()

	data, err := read(sess.engine)
	if err != nil {
		return formatter.Fail(err, nil)
	}
	return formatter.Success(data)
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
