package common

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/dyxium/dia-core/internal/config"
	"github.com/dyxium/dia-core/internal/logger"
)

// CommonFlags contains flags shared by the binaries
type CommonFlags struct {
	EnvFile  *string
	RiskFile *string
	Verbose  *bool
	Version  *bool
}

// RegisterCommonFlags registers the shared flags on fs
func RegisterCommonFlags(fs *flag.FlagSet) *CommonFlags {
	return &CommonFlags{
		EnvFile:  fs.String("env", ".env", "Environment file path"),
		RiskFile: fs.String("risk-file", "", "Risk limits YAML (overrides DIA_RISK_FILE)"),
		Verbose:  fs.Bool("verbose", false, "Enable debug logging"),
		Version:  fs.Bool("version", false, "Show version information"),
	}
}

// LoadEnvironment loads the env file if present and builds the validated
// service configuration. A missing env file is not an error.
func LoadEnvironment(flags *CommonFlags) (*config.Config, error) {
	if err := config.LoadEnvFile(*flags.EnvFile); err != nil && !isNotFound(err) {
		return nil, err
	}

	cfg := config.Load()
	if *flags.RiskFile != "" {
		cfg.RiskFile = *flags.RiskFile
	}
	if *flags.Verbose {
		cfg.LogLevel = string(logger.LogLevelDebug)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, os.ErrNotExist) || strings.Contains(err.Error(), "not found")
}

// FlagValidator collects flag validation errors
type FlagValidator struct {
	errors []string
}

// NewFlagValidator creates a new flag validator
func NewFlagValidator() *FlagValidator {
	return &FlagValidator{
		errors: make([]string, 0),
	}
}

// ValidatePositive requires a finite value > 0
func (v *FlagValidator) ValidatePositive(name string, value float64) *FlagValidator {
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive, got: %g", name, value))
	}
	return v
}

// ValidateNonNegative requires a finite value >= 0
func (v *FlagValidator) ValidateNonNegative(name string, value float64) *FlagValidator {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must not be negative, got: %g", name, value))
	}
	return v
}

// ValidateInt validates an int flag value
func (v *FlagValidator) ValidateInt(name string, value int, min, max int) *FlagValidator {
	if value < min || value > max {
		v.errors = append(v.errors, fmt.Sprintf("%s must be between %d and %d, got: %d", name, min, max, value))
	}
	return v
}

// ValidateRequired requires a non-empty string
func (v *FlagValidator) ValidateRequired(name, value string) *FlagValidator {
	if strings.TrimSpace(value) == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", name))
	}
	return v
}

// ValidateFile validates that a file exists
func (v *FlagValidator) ValidateFile(name, path string, required bool) *FlagValidator {
	if path == "" {
		if required {
			v.errors = append(v.errors, fmt.Sprintf("%s is required", name))
		}
		return v
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		v.errors = append(v.errors, fmt.Sprintf("%s file does not exist: %s", name, path))
	}
	return v
}

// HasErrors returns true if there are validation errors
func (v *FlagValidator) HasErrors() bool {
	return len(v.errors) > 0
}

// GetError returns a formatted error message with all validation errors
func (v *FlagValidator) GetError() error {
	if len(v.errors) == 0 {
		return nil
	}

	if len(v.errors) == 1 {
		return fmt.Errorf("validation error: %s", v.errors[0])
	}

	return fmt.Errorf("validation errors:\n  - %s", strings.Join(v.errors, "\n  - "))
}

// UsageFormatter prints a command summary with examples
type UsageFormatter struct {
	AppName        string
	AppDescription string
	Examples       []UsageExample
}

// UsageExample represents a usage example
type UsageExample struct {
	Command     string
	Description string
}

// NewUsageFormatter creates a new usage formatter
func NewUsageFormatter(appName, description string) *UsageFormatter {
	return &UsageFormatter{
		AppName:        appName,
		AppDescription: description,
	}
}

// AddExample adds a usage example
func (u *UsageFormatter) AddExample(command, description string) *UsageFormatter {
	u.Examples = append(u.Examples, UsageExample{
		Command:     command,
		Description: description,
	})
	return u
}

// PrintUsage prints formatted usage information followed by fs's defaults
func (u *UsageFormatter) PrintUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, "%s - %s\n\n", u.AppName, u.AppDescription)

	if len(u.Examples) > 0 {
		fmt.Fprintf(w, "EXAMPLES:\n")
		for _, example := range u.Examples {
			fmt.Fprintf(w, "  # %s\n", example.Description)
			fmt.Fprintf(w, "  %s\n\n", example.Command)
		}
	}

	if fs != nil {
		fmt.Fprintf(w, "OPTIONS:\n")
		fs.SetOutput(w)
		fs.PrintDefaults()
	}
}
