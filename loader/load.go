package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Severity classifies a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one validation finding against a config file.
type Diagnostic struct {
	Code     string
	Severity Severity
	Message  string
	Field    string
}

// DiagnosticError wraps validation diagnostics as an error.
type DiagnosticError struct {
	Diagnostics []Diagnostic
}

func (e *DiagnosticError) Error() string {
	errs := Errors(e.Diagnostics)
	if len(errs) == 1 {
		return fmt.Sprintf("validation error: %s", errs[0].Message)
	}
	return fmt.Sprintf("%d validation errors (first: %s)", len(errs), errs[0].Message)
}

// Errors filters diagnostics down to error severity.
func Errors(diags []Diagnostic) []Diagnostic {
	var out []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

// Warnings filters diagnostics down to warning severity.
func Warnings(diags []Diagnostic) []Diagnostic {
	var out []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityWarning {
			out = append(out, d)
		}
	}
	return out
}

// HasErrors reports whether any diagnostic is an error.
func HasErrors(diags []Diagnostic) bool {
	return len(Errors(diags)) > 0
}

// Load reads, parses, and validates a pipeline config file. Validation
// errors are returned as a *DiagnosticError.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return LoadBytes(data, path)
}

// LoadBytes parses and validates config data. The path determines the parse
// format by extension (.yaml/.yml -> YAML, else JSON).
func LoadBytes(data []byte, path string) (*Config, error) {
	var cfg Config
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON: %w", err)
		}
	}

	diags := Validate(&cfg)
	if HasErrors(diags) {
		return nil, &DiagnosticError{Diagnostics: diags}
	}
	return &cfg, nil
}

// Validate checks a parsed config and returns all findings, warnings
// included.
func Validate(cfg *Config) []Diagnostic {
	var diags []Diagnostic
	errf := func(code, field, format string, args ...any) {
		diags = append(diags, Diagnostic{
			Code: code, Severity: SeverityError, Field: field,
			Message: fmt.Sprintf(format, args...),
		})
	}
	warnf := func(code, field, format string, args ...any) {
		diags = append(diags, Diagnostic{
			Code: code, Severity: SeverityWarning, Field: field,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if cfg.Version != CurrentVersion {
		errf("CF-001", "version", "unsupported config version %d (want %d)", cfg.Version, CurrentVersion)
	}
	if strings.TrimSpace(cfg.Name) == "" {
		errf("CF-002", "name", "pipeline name is required")
	}
	if len(cfg.Steps) == 0 {
		errf("CF-003", "steps", "at least one step is required")
	}

	seen := make(map[string]struct{}, len(cfg.Steps))
	sawBestEffort := false
	for i, sc := range cfg.Steps {
		field := fmt.Sprintf("steps[%d]", i)

		if strings.TrimSpace(sc.ID) == "" {
			errf("CF-010", field, "step ID is required")
		} else if _, dup := seen[sc.ID]; dup {
			errf("CF-011", field, "duplicate step ID %q", sc.ID)
		}
		seen[sc.ID] = struct{}{}

		if strings.TrimSpace(sc.Tool) == "" {
			errf("CF-012", field, "step %q has no tool", sc.ID)
		}
		switch sc.Policy {
		case "", "fatal", "best_effort":
		default:
			errf("CF-013", field, "step %q has unknown policy %q (want fatal or best_effort)", sc.ID, sc.Policy)
		}
		if sc.EachTarget && len(cfg.Targets) == 0 {
			errf("CF-014", field, "step %q uses each_target but no targets are configured", sc.ID)
		}
		if _, err := parseTimeout(sc.Timeout); err != nil {
			errf("CF-015", field, "step %q: %v", sc.ID, err)
		}

		if sc.Policy == "best_effort" {
			sawBestEffort = true
		} else if sawBestEffort {
			warnf("CF-020", field,
				"fatal step %q runs after best-effort rewriting steps; a failure here leaves rewritten files behind", sc.ID)
		}
	}

	for i, t := range cfg.Targets {
		if strings.TrimSpace(t) == "" {
			errf("CF-030", fmt.Sprintf("targets[%d]", i), "target directory is empty")
		}
	}

	return diags
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
