// Package steps compiles target definitions into executable browser steps
// and drives a page through them under the retry policy.
package steps

import (
	"fmt"
	"time"

	"github.com/copyleftdev/gleaner/internal/config"
	"github.com/copyleftdev/gleaner/internal/schema"
)

type Type string

const (
	TypeNavigate    Type = "navigate"
	TypeWaitVisible Type = "wait_visible"
	TypeWaitDelay   Type = "wait_delay"
	TypeClick       Type = "click"
	TypeFill        Type = "fill"
	TypeFillTOTP    Type = "fill_totp"
	TypeSubmit      Type = "submit"
	TypeScroll      Type = "scroll"
)

// Step is one atomic operation against a page. Immutable once compiled;
// executed zero or more times under retry.
type Step struct {
	Type     Type
	Selector string
	Value    string
	Timeout  time.Duration
}

// Target is a compiled navigation/extraction unit: mirror URLs tried in
// order, a readiness selector, interaction steps, and the record schema.
type Target struct {
	Name       string
	URLs       []string
	WaitFor    string
	Items      string
	MaxRecords int
	Steps      []Step
	Schema     *schema.Schema
}

// CompileTarget validates a target definition up front so a run never
// discovers a malformed step mid-flight.
func CompileTarget(tc config.TargetConfig) (*Target, error) {
	t := &Target{
		Name:       tc.Name,
		URLs:       tc.URLs,
		WaitFor:    tc.WaitFor,
		Items:      tc.Items,
		MaxRecords: tc.MaxRecords,
	}

	for i, sc := range tc.Steps {
		step, err := compileStep(sc)
		if err != nil {
			return nil, fmt.Errorf("target %q step %d: %w", tc.Name, i, err)
		}
		t.Steps = append(t.Steps, step)
	}

	s, err := schema.FromConfig(tc.Fields)
	if err != nil {
		return nil, fmt.Errorf("target %q: %w", tc.Name, err)
	}
	t.Schema = s

	return t, nil
}

func compileStep(sc config.StepConfig) (Step, error) {
	step := Step{
		Type:     Type(sc.Type),
		Selector: sc.Selector,
		Value:    sc.Value,
		Timeout:  sc.Timeout,
	}

	switch step.Type {
	case TypeNavigate:
		if step.Value == "" {
			return Step{}, fmt.Errorf("navigate step requires a non-empty URL value")
		}
	case TypeWaitVisible:
		if step.Selector == "" {
			return Step{}, fmt.Errorf("wait_visible step requires a selector")
		}
	case TypeWaitDelay:
		if _, err := time.ParseDuration(step.Value); err != nil {
			return Step{}, fmt.Errorf("invalid duration value for wait_delay %q: %w", step.Value, err)
		}
	case TypeClick:
		if step.Selector == "" {
			return Step{}, fmt.Errorf("click step requires a selector")
		}
	case TypeFill:
		if step.Selector == "" {
			return Step{}, fmt.Errorf("fill step requires a selector")
		}
	case TypeFillTOTP:
		if step.Selector == "" {
			return Step{}, fmt.Errorf("fill_totp step requires a selector")
		}
		if step.Value == "" {
			return Step{}, fmt.Errorf("fill_totp step requires the shared secret as value")
		}
	case TypeSubmit:
		if step.Selector == "" {
			return Step{}, fmt.Errorf("submit step requires a selector")
		}
	case TypeScroll:
		if step.Value != "top" && step.Value != "bottom" && step.Selector == "" {
			return Step{}, fmt.Errorf("scroll step requires 'top', 'bottom', or a selector")
		}
	default:
		return Step{}, fmt.Errorf("unknown step type %q", sc.Type)
	}

	return step, nil
}
