// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/qolzam/entitystore/internal/pkg/log"
	"github.com/qolzam/entitystore/internal/platform/config"
)

// Exit codes
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a check rejected the candidate
	ExitCommandError = 2 // bad input, configuration or backend
)

// ExitError carries the process exit code of a failed command
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

// NewExitError wraps err with an exit code
func NewExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error, defaulting to ExitFailure
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

// ValidFormats are the accepted --format values
var ValidFormats = []string{"text", "json"}

// RootOptions holds global flags and the configuration source
type RootOptions struct {
	Format     string
	Verbose    bool
	LoadConfig func() (*config.Config, error)
}

// RootOption customizes the root command
type RootOption func(*RootOptions)

// WithConfigLoader replaces config.LoadFromEnv
func WithConfigLoader(load func() (*config.Config, error)) RootOption {
	return func(o *RootOptions) {
		o.LoadConfig = load
	}
}

// NewRootCommand creates the entitystore command tree
func NewRootCommand(opts ...RootOption) *cobra.Command {
	rootOpts := &RootOptions{LoadConfig: config.LoadFromEnv}
	for _, opt := range opts {
		opt(rootOpts)
	}

	cmd := &cobra.Command{
		Use:   "entitystore",
		Short: "Record limit and uniqueness tooling",
		Long: `entitystore inspects the write policies of governed records.

It validates the configured limit and uniqueness rules and dry-runs
candidate records against them on the configured database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(rootOpts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", rootOpts.Format, ValidFormats), nil)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&rootOpts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&rootOpts.Verbose, "verbose", "v", false, "debug logging on stderr")

	cmd.AddCommand(NewValidateConfigCommand(rootOpts))
	cmd.AddCommand(NewCheckCommand(rootOpts))
	cmd.AddCommand(NewVersionCommand(rootOpts))
	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadConfig loads configuration and points the logger at stderr.
func (o *RootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	log.SetOutput(cmd.ErrOrStderr())
	cfg, err := o.LoadConfig()
	if err != nil {
		return nil, err
	}
	level := log.ParseLevel(cfg.Log.Level)
	if o.Verbose {
		level = log.LevelDebug
	}
	log.SetLevel(level)
	return cfg, nil
}

// CLIResponse is the JSON envelope of every command
type CLIResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  *CLIError   `json:"error,omitempty"`
}

// CLIError is the error part of a CLIResponse
type CLIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// output writes results in the selected format
type output struct {
	format string
	w      io.Writer
}

func (o *RootOptions) output(cmd *cobra.Command) *output {
	return &output{format: o.Format, w: cmd.OutOrStdout()}
}

// success prints data, or text in text mode
func (out *output) success(data interface{}, text string) error {
	if out.format == "json" {
		return out.encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(out.w, text)
	return err
}

// failure prints an error and returns err with the given exit code
func (out *output) failure(exitCode int, code, message string, details interface{}, err error) error {
	if out.format == "json" {
		if encErr := out.encode(CLIResponse{Status: "error", Error: &CLIError{Code: code, Message: message, Details: details}}); encErr != nil {
			return encErr
		}
	} else {
		fmt.Fprintf(out.w, "Error [%s]: %s\n", code, message)
		if details != nil {
			fmt.Fprint(out.w, "Details: ")
			encoder := json.NewEncoder(out.w)
			encoder.SetEscapeHTML(false)
			if encErr := encoder.Encode(details); encErr != nil {
				return encErr
			}
		}
	}
	return NewExitError(exitCode, code, err)
}

func (out *output) encode(v interface{}) error {
	encoder := json.NewEncoder(out.w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(v)
}
