package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario is one scripted session against the reading domain.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Seed lists records the server starts with, as JSON-like maps
	// carrying "_type". Only Items are accepted.
	Seed []map[string]any `yaml:"seed,omitempty"`

	Flow       []FlowStep  `yaml:"flow"`
	Assertions []Assertion `yaml:"assertions"`
}

// Template selects a record by type, identity fields and requested fields.
type Template struct {
	Type     string         `yaml:"type"`
	Identity map[string]any `yaml:"identity"`
	Fields   []string       `yaml:"fields,omitempty"`
}

// FlowStep is exactly one of sync, act or network.
type FlowStep struct {
	Sync     *Template `yaml:"sync,omitempty"`
	Resolver string    `yaml:"resolver,omitempty"` // local_first (default), local, remote, complete

	Act      string         `yaml:"act,omitempty"`
	Args     map[string]any `yaml:"args,omitempty"`
	Priority string         `yaml:"priority,omitempty"`
	Refresh  *Template      `yaml:"refresh,omitempty"`

	Network *bool `yaml:"network,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect checks a step's status and, for sync steps, result fields.
type Expect struct {
	Status string         `yaml:"status"`
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Assertion validates the final space or the trace.
type Assertion struct {
	Type string `yaml:"type"`

	// Template selects the record (state, absent).
	Template *Template `yaml:"template,omitempty"`
	// Expect holds expected field values (state). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// State and URLs describe a Saves list (list).
	State string   `yaml:"state,omitempty"`
	URLs  []string `yaml:"urls,omitempty"`

	// Action and Count are used by trace_count; Actions by trace_order.
	Action  string   `yaml:"action,omitempty"`
	Count   int      `yaml:"count,omitempty"`
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertState      = "state"
	AssertAbsent     = "absent"
	AssertList       = "list"
	AssertTraceCount = "trace_count"
	AssertTraceOrder = "trace_order"
)

var (
	validResolvers = []string{"", "local_first", "local", "remote", "complete"}
	validStatuses  = []string{StatusSuccess, StatusFailure, StatusNotFound}
)

// LoadScenario reads and validates a scenario file. Unknown keys are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if len(s.Flow) == 0 {
		return errors.New("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return errors.New("assertions list is required and must be non-empty")
	}
	for i, rec := range s.Seed {
		if rec["_type"] == nil {
			return fmt.Errorf("seed[%d]: _type is required", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step FlowStep) error {
	kinds := 0
	if step.Sync != nil {
		kinds++
	}
	if step.Act != "" {
		kinds++
	}
	if step.Network != nil {
		kinds++
	}
	if kinds != 1 {
		return errors.New("exactly one of sync, act or network is required")
	}
	if step.Sync != nil {
		if err := validateTemplate(step.Sync); err != nil {
			return fmt.Errorf("sync: %w", err)
		}
	}
	if step.Refresh != nil {
		if step.Act == "" {
			return errors.New("refresh needs act")
		}
		if err := validateTemplate(step.Refresh); err != nil {
			return fmt.Errorf("refresh: %w", err)
		}
	}
	if !slices.Contains(validResolvers, step.Resolver) {
		return fmt.Errorf("unknown resolver %q", step.Resolver)
	}
	if step.Resolver != "" && step.Sync == nil {
		return errors.New("resolver needs sync")
	}
	if step.Expect != nil {
		if step.Network != nil {
			return errors.New("network steps take no expect")
		}
		if !slices.Contains(validStatuses, step.Expect.Status) {
			return fmt.Errorf("expect: unknown status %q", step.Expect.Status)
		}
		if len(step.Expect.Fields) > 0 && step.Sync == nil {
			return errors.New("expect: fields need sync")
		}
	}
	return nil
}

func validateTemplate(t *Template) error {
	if t.Type == "" {
		return errors.New("type is required")
	}
	if len(t.Identity) == 0 {
		return errors.New("identity is required")
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case "":
		return errors.New("type is required")
	case AssertState:
		if a.Template == nil {
			return errors.New("template is required for state")
		}
		if len(a.Expect) == 0 {
			return errors.New("expect is required for state")
		}
		return validateTemplate(a.Template)
	case AssertAbsent:
		if a.Template == nil {
			return errors.New("template is required for absent")
		}
		return validateTemplate(a.Template)
	case AssertList:
		if a.State == "" {
			return errors.New("state is required for list")
		}
	case AssertTraceCount:
		if a.Action == "" {
			return errors.New("action is required for trace_count")
		}
		if a.Count < 0 {
			return errors.New("count must be non-negative for trace_count")
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return errors.New("actions list is required for trace_order")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
