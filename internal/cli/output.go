package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/example/migration-orchestrator/internal/migration"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Command completed
	ExitFailure      = 1 // A migration run failed
	ExitCommandError = 2 // Bad configuration, flags or inputs; nothing ran
)

// Error codes carried in JSON error responses.
const (
	CodeConfig      = "config"
	CodeConsistency = "consistency"
	CodeExecution   = "execution"
	CodeStorage     = "storage"
	CodeSource      = "source"
	CodeUnexpected  = "unexpected"
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Nil maps to ExitSuccess
// and errors that are not an ExitError map to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter renders command results as text or JSON.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error part of a JSON response.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// textRenderer is implemented by payloads with a human-readable form.
type textRenderer interface {
	Text() string
}

// Success writes data in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}

	if renderer, ok := data.(textRenderer); ok {
		_, err := io.WriteString(f.Writer, renderer.Text())
		return err
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error writes an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	fmt.Fprintf(f.errWriter(), "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.errWriter(), "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns it as an ExitError with the matching code.
func (f *OutputFormatter) Fail(err error, details any) error {
	code, exit := classify(err)
	message := err.Error()
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err != nil {
		message = exitErr.Err.Error()
	}
	if outErr := f.Error(code, message, details); outErr != nil {
		return WrapExitError(ExitCommandError, "write output", outErr)
	}
	return WrapExitError(exit, code, err)
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// classify maps an error to its response code and exit code. Only failures
// that happened while units were running exit with ExitFailure.
func classify(err error) (string, int) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Message, exitErr.Code
	}
	switch migration.Kind(err) {
	case "configuration":
		return CodeConfig, ExitCommandError
	case "consistency":
		return CodeConsistency, ExitCommandError
	case "execution":
		return CodeExecution, ExitFailure
	case "storage":
		return CodeStorage, ExitFailure
	}
	return CodeUnexpected, ExitFailure
}

func commandError(code string, err error) error {
	return WrapExitError(ExitCommandError, code, err)
}

// names renders a list of migration names one per line.
func names(values []string, empty string) string {
	if len(values) == 0 {
		return empty + "\n"
	}
	return strings.Join(values, "\n") + "\n"
}
