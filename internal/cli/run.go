package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/migration-orchestrator/internal/migration"
)

// RunReport is the output of up and down.
type RunReport struct {
	RunID           string   `json:"run_id"`
	Direction       string   `json:"direction"`
	State           string   `json:"state"`
	Migrations      []string `json:"migrations"`
	Failed          string   `json:"failed,omitempty"`
	DurationSeconds float64  `json:"duration_seconds"`
}

func newRunReport(result migration.Result) RunReport {
	completed := result.Migrations
	if completed == nil {
		completed = []string{}
	}
	return RunReport{
		RunID:           result.RunID,
		Direction:       string(result.Direction),
		State:           result.State.String(),
		Migrations:      completed,
		Failed:          result.Failed,
		DurationSeconds: result.Duration().Seconds(),
	}
}

// Text renders one line per completed migration.
func (r RunReport) Text() string {
	verb := "applied"
	if r.Direction == string(migration.DirectionDown) {
		verb = "reverted"
	}
	if len(r.Migrations) == 0 && r.Failed == "" {
		return "no migrations to run\n"
	}

	var b strings.Builder
	for _, name := range r.Migrations {
		fmt.Fprintf(&b, "%s %s\n", verb, name)
	}
	if r.Failed != "" {
		fmt.Fprintf(&b, "failed %s\n", r.Failed)
	}
	return b.String()
}

// NewUpCommand creates the up command.
func NewUpCommand(rootOpts *RootOptions) *cobra.Command {
	var opts migration.UpOptions

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Long: `Apply pending migrations in order, stopping at the first failure.

A later run resumes from the failed migration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(rootOpts, cmd, func(engine *migration.Engine) (migration.Result, error) {
				return engine.Up(cmd.Context(), opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.To, "to", "", "apply pending migrations up to and including NAME")
	cmd.Flags().IntVar(&opts.Step, "step", 0, "apply at most N pending migrations")

	return cmd
}

// NewDownCommand creates the down command.
func NewDownCommand(rootOpts *RootOptions) *cobra.Command {
	var opts migration.DownOptions

	cmd := &cobra.Command{
		Use:   "down [NAME...]",
		Short: "Revert executed migrations",
		Long: `Revert executed migrations, most recent first.

Without flags or names only the most recently applied migration is reverted.
Named migrations are reverted in reverse order whatever order they are given in.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Names = args
			return runMigrations(rootOpts, cmd, func(engine *migration.Engine) (migration.Result, error) {
				return engine.Down(cmd.Context(), opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.To, "to", "", "revert executed migrations down to and including NAME")
	cmd.Flags().IntVar(&opts.Step, "step", 0, "revert N executed migrations")
	cmd.Flags().BoolVar(&opts.All, "all", false, "revert every executed migration")

	return cmd
}

func runMigrations(opts *RootOptions, cmd *cobra.Command, run func(*migration.Engine) (migration.Result, error)) error {
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

	result, err := run(sess.engine)
	report := newRunReport(result)
	if err != nil {
		if formatter.Format == "json" {
			return formatter.Fail(err, report)
		}
		if report.Failed != "" || len(report.Migrations) > 0 {
			if outErr := formatter.Success(report); outErr != nil {
				return WrapExitError(ExitCommandError, "write output", outErr)
			}
		}
		return formatter.Fail(err, nil)
	}

	return formatter.Success(report)
}
