package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Prefix selects how Create prefixes new file names.
type Prefix string

const (
	PrefixTimestamp Prefix = "timestamp" // 20060102150405_name.sql
	PrefixDate      Prefix = "date"      // 20060102_name.sql
	PrefixNone      Prefix = "none"      // name.sql
)

// ParsePrefix validates a prefix style name. The empty string selects
// PrefixTimestamp.
func ParsePrefix(value string) (Prefix, error) {
	switch Prefix(strings.ToLower(strings.TrimSpace(value))) {
	case "", PrefixTimestamp:
		return PrefixTimestamp, nil
	case PrefixDate:
		return PrefixDate, nil
	case PrefixNone:
		return PrefixNone, nil
	}
	return "", fmt.Errorf("unknown prefix style %q (want timestamp, date or none)", value)
}

// CreateOptions configures Create.
type CreateOptions struct {
	Prefix Prefix

	// AllowConfusingOrdering permits a name that sorts before existing files,
	// which would make it run out of the order it was written in.
	AllowConfusingOrdering bool

	// Now is the time source for prefixes. Nil means time.Now.
	Now func() time.Time
}

const template = `-- +goose Up
-- +goose StatementBegin
SELECT 'up SQL query';
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
SELECT 'down SQL query';
-- +goose StatementEnd
`

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Create writes a new annotated migration file into dir and returns its path.
// The directory is created if needed.
func Create(dir, name string, opts CreateOptions) (string, error) {
	name = strings.Join(strings.Fields(name), "_")
	name = strings.TrimSuffix(name, sqlSuffix)
	if !validName.MatchString(name) {
		return "", fmt.Errorf("invalid migration name %q", name)
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	switch opts.Prefix {
	case PrefixNone:
	case PrefixDate:
		name = now().UTC().Format("20060102") + "_" + name
	case "", PrefixTimestamp:
		name = now().UTC().Format("20060102150405") + "_" + name
	default:
		return "", fmt.Errorf("unknown prefix style %q", opts.Prefix)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create migrations directory %s: %w", dir, err)
	}

	existing, err := existingNames(dir)
	if err != nil {
		return "", err
	}
	if len(existing) > 0 && !opts.AllowConfusingOrdering {
		last := existing[len(existing)-1]
		if name < last {
			return "", fmt.Errorf("%w: %s sorts before %s", ErrConfusingOrdering, name, last)
		}
	}

	target := filepath.Join(dir, name+sqlSuffix)
	file, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return "", fmt.Errorf("%w: %s", ErrFileExists, target)
	}
	if err != nil {
		return "", fmt.Errorf("create %s: %w", target, err)
	}
	defer file.Close()

	if _, err := file.WriteString(template); err != nil {
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	return target, nil
}

// existingNames lists the migration names already in dir, sorted.
func existingNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory %s: %w", dir, err)
	}
	var names []string
	for _, entry := range entries {
		fileName := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(fileName, sqlSuffix) {
			continue
		}
		switch {
		case strings.HasSuffix(fileName, upSuffix):
			names = append(names, strings.TrimSuffix(fileName, upSuffix))
		case strings.HasSuffix(fileName, downSuffix):
			names = append(names, strings.TrimSuffix(fileName, downSuffix))
		default:
			names = append(names, strings.TrimSuffix(fileName, sqlSuffix))
		}
	}
	sort.Strings(names)
	return names, nil
}
