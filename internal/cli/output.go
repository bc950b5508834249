package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/connector/internal/client"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the peer or the policy said no
	ExitCommandError = 2 // bad input, config or local storage
)

// CLI error codes.
const (
	ErrCodeGeneric  = "E001"
	ErrCodeConfig   = "E201"
	ErrCodeStore    = "E202"
	ErrCodeInput    = "E203"
	ErrCodePeer     = "E204"
	ErrCodeRejected = "E205"
	ErrCodeCatalog  = "E206"
)

// ExitError carries the exit code a command failure maps to. ErrCode is
// the code reported in formatted output.
type ExitError struct {
	Code    int
	ErrCode string
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

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not
// an ExitError map to ExitFailure.
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

func codedError(code int, errCode, message string, err error) *ExitError {
	return &ExitError{Code: code, ErrCode: errCode, Message: message, Err: err}
}

// peerError classifies a failed exchange with another connector. A
// rejection is a protocol answer and exits with ExitFailure. Anything else
// is a transport problem.
func peerError(message string, err error) *ExitError {
	if client.IsRejection(err) {
		return codedError(ExitFailure, ErrCodeRejected, message, err)
	}
	return codedError(ExitCommandError, ErrCodePeer, message, err)
}

// errorCode picks the CLI error code reported for err.
func errorCode(err error) string {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.ErrCode != "" {
		return exitErr.ErrCode
	}
	return ErrCodeGeneric
}

// TextWriter is implemented by results with their own text rendering.
type TextWriter interface {
	WriteText(w io.Writer) error
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command result.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success writes data as a JSON envelope, or as text through WriteText when
// data implements TextWriter.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	if tw, ok := data.(TextWriter); ok {
		return tw.WriteText(f.Writer)
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
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns it, so commands can end with
// `return out.Fail(err)`.
func (f *OutputFormatter) Fail(err error) error {
	var details any
	var rejection *client.RejectionError
	if errors.As(err, &rejection) {
		details = map[string]string{"reason": string(rejection.Reason), "type": string(rejection.Type)}
	}
	_ = f.Error(errorCode(err), err.Error(), details)
	return err
}

// VerboseLog writes a diagnostic line under --verbose. It goes to
// ErrWriter so JSON output stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
