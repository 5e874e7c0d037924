package ir

// Action is the operation a plan step performs against a resource.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionNoOp   Action = "noop"
)

// Plan is an ordered, diffed set of actions computed before any side effect
// occurs. It is built once per deployment invocation and never mutated after
// execution begins, only annotated with outcomes.
type Plan struct {
	Metadata *PlanMetadata `yaml:"metadata"`
	Steps    []*PlanStep   `yaml:"steps"`
	Summary  *PlanSummary  `yaml:"summary"`
}

type PlanMetadata struct {
	Deployment string `yaml:"deployment"`
	Timestamp  string `yaml:"timestamp"`
}

// PlanStep pairs a resource descriptor with a computed action.
// Prior carries the last-applied snapshot for update and delete steps.
type PlanStep struct {
	ResourceID string                   `yaml:"resource_id"`
	Action     Action                   `yaml:"action"`
	Desired    *Resource                `yaml:"desired,omitempty"`
	Prior      *ResourceState           `yaml:"prior,omitempty"`
	Diff       map[string]*PropertyDiff `yaml:"diff,omitempty"`
	// DependsOn names the step's predecessors within the same plan.
	DependsOn []string `yaml:"depends_on,omitempty"`
}

type PropertyDiff struct {
	Before any    `yaml:"before,omitempty"`
	After  any    `yaml:"after,omitempty"`
	Action Action `yaml:"action"`
}

type PlanSummary struct {
	Create int `yaml:"create"`
	Update int `yaml:"update"`
	Delete int `yaml:"delete"`
	NoOp   int `yaml:"noop"`
}

// Changes returns the steps that perform work, preserving plan order.
func (p *Plan) Changes() []*PlanStep {
	var steps []*PlanStep
	for _, s := range p.Steps {
		if s.Action != ActionNoOp {
			steps = append(steps, s)
		}
	}
	return steps
}
