package checkflow

import (
	"errors"
	"testing"
)

func TestFailurePolicy_Valid(t *testing.T) {
	tests := []struct {
		policy FailurePolicy
		want   bool
	}{
		{PolicyFatal, true},
		{PolicyBestEffort, true},
		{FailurePolicy(""), false},
		{FailurePolicy("retry"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			if got := tt.policy.Valid(); got != tt.want {
				t.Errorf("FailurePolicy(%q).Valid() = %v, want %v", tt.policy, got, tt.want)
			}
		})
	}
}

func TestStep_CommandLine(t *testing.T) {
	s := Step{Tool: "yapf", Args: []string{"-r", "-i", "examples"}}
	if got := s.CommandLine(); got != "yapf -r -i examples" {
		t.Errorf("CommandLine() = %q", got)
	}

	bare := Step{Tool: "pytest"}
	if got := bare.CommandLine(); got != "pytest" {
		t.Errorf("CommandLine() = %q, want 'pytest'", got)
	}
}

func TestPipeline_Validate(t *testing.T) {
	valid := Pipeline{
		Name: "qa",
		Steps: []Step{
			{ID: "typecheck", Tool: "mypy", Policy: PolicyFatal},
			{ID: "format", Tool: "yapf", Policy: PolicyBestEffort},
		},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	invalid := []Pipeline{
		{Name: "", Steps: valid.Steps},
		{Name: "qa"},
		{Name: "qa", Steps: []Step{{ID: "", Tool: "mypy", Policy: PolicyFatal}}},
		{Name: "qa", Steps: []Step{{ID: "a", Tool: "", Policy: PolicyFatal}}},
		{Name: "qa", Steps: []Step{{ID: "a", Tool: "mypy", Policy: "sometimes"}}},
		{Name: "qa", Steps: []Step{
			{ID: "a", Tool: "mypy", Policy: PolicyFatal},
			{ID: "a", Tool: "pytest", Policy: PolicyFatal},
		}},
	}
	for i, p := range invalid {
		if err := p.Validate(); !errors.Is(err, ErrInvalidPipeline) {
			t.Errorf("case %d: Validate() = %v, want ErrInvalidPipeline", i, err)
		}
	}
}

func TestPipeline_StepByID(t *testing.T) {
	p := Pipeline{
		Name: "qa",
		Steps: []Step{
			{ID: "typecheck", Tool: "mypy", Policy: PolicyFatal},
		},
	}

	if s, ok := p.StepByID("typecheck"); !ok || s.Tool != "mypy" {
		t.Errorf("StepByID('typecheck') = (%v, %v)", s, ok)
	}
	if _, ok := p.StepByID("missing"); ok {
		t.Error("StepByID('missing') should not be found")
	}
}
