package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/feedsync/internal/config"
	"github.com/roach88/feedsync/internal/harness"
)

// ValidationError is one problem found by validate.
type ValidationError struct {
	File    string `json:"file"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Files  int               `json:"files"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Scenarios bool // treat the arguments as scenario files
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate [file...]",
		Short: "Validate config or scenario files without running them",
		Long: `Validate configuration files against the config schema, or scenario
files against the scenario format, without starting the engine.

With no arguments the file given by --config is validated.

Examples:
  feedsync validate feedsync.yaml
  feedsync validate --scenarios ./scenarios/*.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Scenarios, "scenarios", false, "validate scenario files instead of config files")

	return cmd
}

func runValidate(opts *ValidateOptions, files []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if len(files) == 0 {
		if opts.ConfigPath == "" || opts.Scenarios {
			return outputValidateError(formatter, ErrCodeGeneric, "no files to validate (pass files or --config)", nil)
		}
		files = []string{opts.ConfigPath}
	}

	var errs []ValidationError
	for _, file := range files {
		formatter.VerboseLog("Validating %s", file)
		if err := validateFile(file, opts.Scenarios); err != nil {
			errs = append(errs, toValidationError(file, err, opts.Scenarios))
		}
	}

	if len(errs) > 0 {
		return outputValidationErrors(formatter, errs)
	}
	return formatter.Success(ValidationResult{Valid: true, Files: len(files)}, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %d file(s) valid\n", len(files))
	})
}

func validateFile(path string, scenario bool) error {
	if scenario {
		_, err := harness.LoadScenario(path)
		return err
	}
	_, err := config.Load(path)
	return err
}

func toValidationError(file string, err error, scenario bool) ValidationError {
	var ce *config.Error
	if errors.As(err, &ce) {
		return ValidationError{File: file, Field: ce.Field, Code: ErrCodeConfig, Message: ce.Message}
	}
	code := ErrCodeConfig
	if scenario {
		code = ErrCodeScenario
	}
	return ValidationError{File: file, Code: code, Message: err.Error()}
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []ValidationError) error {
	failed := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return failed
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		fmt.Fprintln(formatter.Writer, e.File)
		if e.Field != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", e.Code, e.Field, e.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", e.Code, e.Message)
		}
	}
	return failed
}
