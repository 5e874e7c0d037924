package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/quarry-io/quarry/internal/errs"
	"github.com/quarry-io/quarry/internal/ir"
	"github.com/quarry-io/quarry/internal/logging"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates a deployment definition file. It is a pure
// parse/validate step with no side effects.
func Load(path string) (*ir.Deployment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.NewValidationError("", "", fmt.Sprintf("cannot read %s: %v", path, err))
	}
	return Parse(raw)
}

// Parse decodes a deployment definition from YAML and validates it.
func Parse(raw []byte) (*ir.Deployment, error) {
	var dep ir.Deployment
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&dep); err != nil {
		return nil, errs.NewValidationError("", "", fmt.Sprintf("invalid deployment syntax: %v", err))
	}

	if err := validate.Struct(&dep); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, errs.NewValidationError("", verrs[0].Namespace(), "missing or invalid value")
		}
		return nil, errs.NewValidationError("", "", err.Error())
	}

	if dep.Provider == "" {
		dep.Provider = "memory"
	}

	if err := ValidateResources(dep.Resources); err != nil {
		return nil, err
	}

	logging.Debug("deployment definition loaded",
		"deployment", dep.Name, "resources", len(dep.Resources))
	return &dep, nil
}

// ValidateResources checks identifier uniqueness, recognized kinds and that
// every reference resolves within the same definition set.
func ValidateResources(resources []*ir.Resource) error {
	seen := make(map[string]bool, len(resources))
	for _, res := range resources {
		if res.ID == "" {
			return errs.NewValidationError("", "id", "resource identifier is required")
		}
		if seen[res.ID] {
			return errs.NewValidationError(res.ID, "id", "duplicate resource identifier")
		}
		seen[res.ID] = true

		if !ir.IsKnownKind(res.Type) {
			return errs.NewValidationError(res.ID, "type",
				fmt.Sprintf("unrecognized resource type %q", res.Type))
		}
	}

	// References are checked in a second pass so forward references are
	// legal regardless of declaration order.
	for _, res := range resources {
		deps := append([]string(nil), res.DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if dep == res.ID {
				return errs.NewValidationError(res.ID, "depends_on", "resource references itself")
			}
			if !seen[dep] {
				return errs.NewValidationError(res.ID, "depends_on",
					fmt.Sprintf("reference to undefined resource %q", dep))
			}
		}
	}
	return nil
}
