// Package loader reads checkflow pipeline configuration from YAML or JSON
// files, validates it, and turns it into an executable pipeline. When no
// config file exists the built-in default pipeline is used.
package loader

import (
	"fmt"
	"strings"
	"time"

	checkflow "github.com/petal-labs/checkflow"
)

// CurrentVersion is the only supported config schema version.
const CurrentVersion = 1

// packagePlaceholder in step args is replaced with the configured package
// directory when the pipeline is built.
const packagePlaceholder = "{package}"

// Config is the parsed checkflow.yaml.
type Config struct {
	Version    int      `yaml:"version" json:"version"`
	Name       string   `yaml:"name" json:"name"`
	PackageDir string   `yaml:"package_dir,omitempty" json:"package_dir,omitempty"`
	Targets    []string `yaml:"targets,omitempty" json:"targets,omitempty"`

	Steps []StepConfig `yaml:"steps" json:"steps"`

	Schedules []ScheduleConfig `yaml:"schedules,omitempty" json:"schedules,omitempty"`
	Serve     ServeConfig      `yaml:"serve,omitempty" json:"serve,omitempty"`
	Store     StoreConfig      `yaml:"store,omitempty" json:"store,omitempty"`
}

// StepConfig declares one pipeline step.
type StepConfig struct {
	ID   string   `yaml:"id" json:"id"`
	Tool string   `yaml:"tool" json:"tool"`
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`

	// Policy is "fatal" (default) or "best_effort".
	Policy string `yaml:"policy,omitempty" json:"policy,omitempty"`

	// EachTarget expands the step once per configured target, with the
	// target appended as the step's final argument.
	EachTarget bool `yaml:"each_target,omitempty" json:"each_target,omitempty"`

	// Mutates marks steps that rewrite files in place.
	Mutates bool `yaml:"mutates,omitempty" json:"mutates,omitempty"`

	// Timeout is a Go duration string ("90s", "5m"). Empty means no
	// per-step timeout.
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	Dir string            `yaml:"dir,omitempty" json:"dir,omitempty"`
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// ScheduleConfig declares a cron-driven run for serve mode. Expressions are
// standard five-field cron, evaluated in UTC.
type ScheduleConfig struct {
	Name string `yaml:"name" json:"name"`
	Cron string `yaml:"cron" json:"cron"`
}

// ServeConfig configures the daemon HTTP server.
type ServeConfig struct {
	Addr string `yaml:"addr,omitempty" json:"addr,omitempty"`
}

// StoreConfig configures the run history store.
type StoreConfig struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// RetentionAge is a Go duration string; runs older than this are
	// pruned. Empty keeps everything.
	RetentionAge string `yaml:"retention_age,omitempty" json:"retention_age,omitempty"`
}

// Pipeline builds the executable pipeline from the config. Call Validate (or
// Load, which validates) first; Pipeline assumes a well-formed config.
func (c *Config) Pipeline() checkflow.Pipeline {
	var steps []checkflow.Step
	for _, sc := range c.Steps {
		policy := checkflow.PolicyFatal
		if sc.Policy == "best_effort" {
			policy = checkflow.PolicyBestEffort
		}
		timeout, _ := parseTimeout(sc.Timeout)

		base := checkflow.Step{
			ID:      sc.ID,
			Tool:    sc.Tool,
			Args:    c.expandArgs(sc.Args),
			Dir:     sc.Dir,
			Env:     sc.Env,
			Policy:  policy,
			Timeout: timeout,
			Mutates: sc.Mutates,
		}

		if !sc.EachTarget {
			steps = append(steps, base)
			continue
		}
		for _, target := range c.Targets {
			step := base
			step.ID = sc.ID + ":" + target
			step.Args = append(append([]string(nil), base.Args...), target)
			steps = append(steps, step)
		}
	}

	return checkflow.Pipeline{Name: c.Name, Steps: steps}
}

// RetentionAge parses the store retention duration, 0 when unset.
func (c *Config) RetentionAge() (time.Duration, error) {
	if strings.TrimSpace(c.Store.RetentionAge) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Store.RetentionAge)
	if err != nil {
		return 0, fmt.Errorf("invalid retention_age %q: %w", c.Store.RetentionAge, err)
	}
	return d, nil
}

func (c *Config) expandArgs(args []string) []string {
	if len(args) == 0 {
		return nil
	}
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.ReplaceAll(a, packagePlaceholder, c.PackageDir)
	}
	return out
}

func parseTimeout(raw string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid timeout %q", raw)
	}
	return d, nil
}
