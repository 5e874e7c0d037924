package ir

// Kind identifies a recognized resource type.
type Kind string

const (
	KindVPC           Kind = "vpc"
	KindSubnet        Kind = "subnet"
	KindSecurityGroup Kind = "security_group"
	KindNATGateway    Kind = "nat_gateway"
	KindInstance      Kind = "instance"
	// KindConfigUnit models post-provisioning configuration (user-data,
	// application setup) as a resource with its own create/update semantics
	// so that a changed payload shows up as drift.
	KindConfigUnit Kind = "config_unit"
)

// KnownKinds lists every recognized resource kind.
var KnownKinds = []Kind{
	KindVPC,
	KindSubnet,
	KindSecurityGroup,
	KindNATGateway,
	KindInstance,
	KindConfigUnit,
}

// IsKnownKind reports whether k is a recognized resource kind.
func IsKnownKind(k Kind) bool {
	for _, known := range KnownKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Resource is the declarative definition of a single infrastructure
// resource. It is immutable once loaded into a plan.
type Resource struct {
	ID         string         `yaml:"id" validate:"required"`
	Type       Kind           `yaml:"type" validate:"required"`
	Properties map[string]any `yaml:"properties"`
	DependsOn  []string       `yaml:"depends_on"`
	// Timeout bounds how long the provisioning engine waits for this
	// resource to stabilize (Go duration string, e.g. "5m").
	Timeout string `yaml:"timeout"`
}

// Deployment is a named set of resource descriptors plus execution settings.
type Deployment struct {
	Name        string      `yaml:"name" validate:"required"`
	Provider    string      `yaml:"provider"`
	Parallelism int         `yaml:"parallelism"`
	Resources   []*Resource `yaml:"resources" validate:"required,dive,required"`
}
