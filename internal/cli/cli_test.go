package cli

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type workspace struct {
	root       string
	migrations string
	configPath string
}

func newWorkspace(t *testing.T, storage string) workspace {
	t.Helper()
	for _, key := range []string{
		"MIGRATOR_STORAGE", "MIGRATOR_DRIVER", "MIGRATOR_DSN", "MIGRATOR_TABLE",
		"MIGRATOR_DIR", "MIGRATOR_ORDERING", "MIGRATOR_FILE", "MIGRATOR_LOCK", "MIGRATOR_LOCK_TTL",
		"MIGRATOR_LOG_LEVEL", "MIGRATOR_LOG_FORMAT", "MIGRATOR_METRICS_ADDR",
		"MIGRATOR_UNIT_TIMEOUT", "MIGRATOR_REDIS_ADDR", "MIGRATOR_REDIS_PREFIX",
	} {
		t.Setenv(key, "")
	}

	root := t.TempDir()
	w := workspace{
		root:       root,
		migrations: filepath.Join(root, "migrations"),
		configPath: filepath.Join(root, "migrator.yaml"),
	}
	require.NoError(t, os.MkdirAll(w.migrations, 0o755))

	w.write(t, "001_users.sql", `-- +goose Up
CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL);

-- +goose Down
DROP TABLE users;
`)
	w.write(t, "002_posts.up.sql", "CREATE TABLE posts (id INTEGER PRIMARY KEY, user_id INTEGER);\n")
	w.write(t, "002_posts.down.sql", "DROP TABLE posts;\n")

	config := fmt.Sprintf(`storage: %s
driver: sqlite
dsn: %s
dir: %s
file: %s
log_level: error
`, storage, filepath.Join(root, "app.db"), w.migrations, filepath.Join(root, "executed.yaml"))
	require.NoError(t, os.WriteFile(w.configPath, []byte(config), 0o644))
	return w
}

func (w workspace) write(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(w.migrations, name), []byte(content), 0o644))
}

func (w workspace) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), append([]string{"--config", w.configPath}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func decode[T any](t *testing.T, out string) (CLIResponse, T) {
	t.Helper()
	var envelope struct {
		Status string    `json:"status"`
		Data   T         `json:"data"`
		Error  *CLIError `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &envelope), out)
	return CLIResponse{Status: envelope.Status, Error: envelope.Error}, envelope.Data
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "migrator", cmd.Use)

	for _, name := range []string{"up", "down", "status", "pending", "executed", "create"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	config := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, config)
	assert.Equal(t, "c", config.Shorthand)
}

func TestUpStatusDown_SQLite(t *testing.T) {
	w := newWorkspace(t, "sql")

	code, out, stderr := w.run(t, "up")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Equal(t, "applied 001_users\napplied 002_posts\n", out)

	code, out, _ = w.run(t, "up")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "no migrations to run\n", out)

	code, out, _ = w.run(t, "executed")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "001_users\n002_posts\n", out)

	code, out, _ = w.run(t, "--format", "json", "status")
	require.Equal(t, ExitSuccess, code)
	resp, status := decode[StatusReport](t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "002_posts", status.Current)
	assert.Equal(t, []string{"001_users", "002_posts"}, status.Executed)
	assert.Empty(t, status.Pending)
	require.Len(t, status.History, 2)
	assert.Len(t, status.History[0].Checksum, 64)
	assert.NotEmpty(t, status.History[0].RunID)

	code, out, _ = w.run(t, "down")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "reverted 002_posts\n", out)

	code, out, _ = w.run(t, "pending")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "002_posts\n", out)

	code, out, _ = w.run(t, "down", "--all")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "reverted 001_users\n", out)

	code, out, _ = w.run(t, "executed")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "(none)\n", out)
}

func TestUp_StepAndTo(t *testing.T) {
	w := newWorkspace(t, "sql")
	w.write(t, "003_tags.sql", "-- +goose Up\nCREATE TABLE tags (id INTEGER);\n-- +goose Down\nDROP TABLE tags;\n")

	code, out, _ := w.run(t, "up", "--step", "1")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "applied 001_users\n", out)

	code, out, _ = w.run(t, "up", "--to", "002_posts")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "applied 002_posts\n", out)

	code, out, _ = w.run(t, "pending")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "003_tags\n", out)
}

func TestUp_FailureStopsAndResumes(t *testing.T) {
	w := newWorkspace(t, "sql")
	w.write(t, "003_broken.sql", "-- +goose Up\nSELEC nothing;\n")
	w.write(t, "004_tags.sql", "-- +goose Up\nCREATE TABLE tags (id INTEGER);\n")

	code, out, stderr := w.run(t, "up")
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "applied 001_users\napplied 002_posts\nfailed 003_broken\n", out)
	assert.Contains(t, stderr, "Error [execution]")
	assert.Contains(t, stderr, "migration 003_broken (up) failed")

	code, out, _ = w.run(t, "pending")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "003_broken\n004_tags\n", out)

	w.write(t, "003_broken.sql", "-- +goose Up\nCREATE TABLE fixed (id INTEGER);\n")
	code, out, stderr = w.run(t, "up")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Equal(t, "applied 003_broken\napplied 004_tags\n", out)
}

func TestUp_FailureJSON(t *testing.T) {
	w := newWorkspace(t, "sql")
	w.write(t, "003_broken.sql", "-- +goose Up\nSELEC nothing;\n")

	code, out, _ := w.run(t, "--format", "json", "up")
	assert.Equal(t, ExitFailure, code)

	var envelope struct {
		Status string `json:"status"`
		Error  struct {
			Code    string    `json:"code"`
			Message string    `json:"message"`
			Details RunReport `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &envelope))
	assert.Equal(t, "error", envelope.Status)
	assert.Equal(t, CodeExecution, envelope.Error.Code)
	assert.Equal(t, "FAILED", envelope.Error.Details.State)
	assert.Equal(t, "003_broken", envelope.Error.Details.Failed)
	assert.Equal(t, []string{"001_users", "002_posts"}, envelope.Error.Details.Migrations)
}

func TestDown_Names(t *testing.T) {
	w := newWorkspace(t, "sql")
	code, _, _ := w.run(t, "up")
	require.Equal(t, ExitSuccess, code)

	code, out, _ := w.run(t, "down", "001_users", "002_posts")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "reverted 002_posts\nreverted 001_users\n", out)

	code, _, stderr := w.run(t, "down", "002_posts")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "Error [config]")
}

func TestUp_InvalidOptions(t *testing.T) {
	w := newWorkspace(t, "sql")

	code, out, _ := w.run(t, "--format", "json", "up", "--to", "002_posts", "--step", "1")
	assert.Equal(t, ExitCommandError, code)
	resp, _ := decode[RunReport](t, out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeConfig, resp.Error.Code)
}

func TestUp_TakesOverStaleLock(t *testing.T) {
	w := newWorkspace(t, "sql")
	t.Setenv("MIGRATOR_LOCK_TTL", "1m")

	db, err := sql.Open("sqlite", filepath.Join(w.root, "app.db"))
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE schema_migrations_lock (id INTEGER PRIMARY KEY CHECK (id = 1), locked_at TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO schema_migrations_lock (id, locked_at) VALUES (1, '2000-01-01T00:00:00.000000000Z')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	code, out, stderr := w.run(t, "up")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Equal(t, "applied 001_users\napplied 002_posts\n", out)
}

func TestFileStorage(t *testing.T) {
	w := newWorkspace(t, "file")

	code, out, stderr := w.run(t, "up")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Equal(t, "applied 001_users\napplied 002_posts\n", out)

	data, err := os.ReadFile(filepath.Join(w.root, "executed.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "001_users")
	assert.Contains(t, string(data), "002_posts")
}

func TestCommandErrors(t *testing.T) {
	w := newWorkspace(t, "sql")

	code, _, stderr := w.run(t, "--format", "xml", "status")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "invalid format")

	code, _, stderr = w.run(t, "up", "--bogus")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "unknown flag")

	var stdout, errOut bytes.Buffer
	code = Execute(context.Background(), []string{"--config", filepath.Join(w.root, "missing.yaml"), "status"}, &stdout, &errOut)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, errOut.String(), "does not exist")

	w.write(t, "005_orphan.down.sql", "DROP TABLE nothing;\n")
	code, _, stderr = w.run(t, "status")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "Error [source]")
}

func TestCreate(t *testing.T) {
	w := newWorkspace(t, "sql")

	code, out, stderr := w.run(t, "create", "--prefix", "none", "003 add tags")
	require.Equal(t, ExitSuccess, code, stderr)
	path := filepath.Join(w.migrations, "003_add_tags.sql")
	assert.Equal(t, "created "+path+"\n", out)
	assert.FileExists(t, path)

	code, out, _ = w.run(t, "--format", "json", "create", "--prefix", "none", "000_early")
	assert.Equal(t, ExitCommandError, code)
	resp, _ := decode[CreateResult](t, out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeSource, resp.Error.Code)

	code, _, stderr = w.run(t, "create", "--prefix", "none", "--allow-confusing-ordering", "000_early")
	require.Equal(t, ExitSuccess, code, stderr)

	code, _, stderr = w.run(t, "create", "--prefix", "weekly", "x")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "Error [config]")

	code, _, stderr = w.run(t, "up")
	require.Equal(t, ExitSuccess, code, stderr)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, CodeConfig, assert.AnError)))
}
