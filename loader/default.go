package loader

// Defaults for repos without a checkflow.yaml: the canonical QA sweep over a
// Python package named webauthn_rp, its tests, and its examples.
const (
	DefaultName       = "qa"
	DefaultPackageDir = "webauthn_rp"
)

// DefaultTargets are the trees the rewriting steps sweep.
var DefaultTargets = []string{"webauthn_rp", "tests", "examples"}

// Default returns the built-in pipeline config: type check and test as
// gates, then import sorting and reformatting over every target tree.
func Default() *Config {
	return &Config{
		Version:    CurrentVersion,
		Name:       DefaultName,
		PackageDir: DefaultPackageDir,
		Targets:    append([]string(nil), DefaultTargets...),
		Steps: []StepConfig{
			{
				ID:     "typecheck",
				Tool:   "mypy",
				Args:   []string{"--ignore-missing-imports", packagePlaceholder},
				Policy: "fatal",
			},
			{
				ID:     "test",
				Tool:   "pytest",
				Args:   []string{"--cov=" + DefaultPackageDir},
				Policy: "fatal",
			},
			{
				ID:         "imports",
				Tool:       "isort",
				Args:       []string{"-rc"},
				Policy:     "best_effort",
				EachTarget: true,
				Mutates:    true,
			},
			{
				ID:         "format",
				Tool:       "yapf",
				Args:       []string{"-r", "-i"},
				Policy:     "best_effort",
				EachTarget: true,
				Mutates:    true,
			},
		},
	}
}
