package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/example/migration-orchestrator/internal/source"
)

// CreateResult is the output of the create command.
type CreateResult struct {
	Path string `json:"path"`
}

func (r CreateResult) Text() string {
	return "created " + r.Path + "\n"
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		prefix         string
		allowConfusing bool
	)

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a new annotated migration file",
		Long: `Create a new .sql migration file with Up and Down sections in the
configured migrations directory.

The name is prefixed with a UTC timestamp by default. A name that sorts before
an existing migration is refused unless --allow-confusing-ordering is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			style, err := source.ParsePrefix(prefix)
			if err != nil {
				return formatter.Fail(commandError(CodeConfig, err), nil)
			}
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return formatter.Fail(err, nil)
			}

			path, err := source.Create(cfg.Dir, args[0], source.CreateOptions{
				Prefix:                 style,
				AllowConfusingOrdering: allowConfusing,
			})
			if err != nil {
				code := CodeSource
				if !errors.Is(err, source.ErrConfusingOrdering) && !errors.Is(err, source.ErrFileExists) {
					code = CodeConfig
				}
				return formatter.Fail(commandError(code, err), nil)
			}
			return formatter.Success(CreateResult{Path: path})
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", string(source.PrefixTimestamp), "name prefix (timestamp|date|none)")
	cmd.Flags().BoolVar(&allowConfusing, "allow-confusing-ordering", false, "allow a name that sorts before existing migrations")

	return cmd
}
