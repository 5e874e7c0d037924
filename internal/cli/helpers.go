package cli

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/quarry-io/quarry/internal/config"
	"github.com/quarry-io/quarry/internal/engine"
	"github.com/quarry-io/quarry/internal/ir"
	"github.com/quarry-io/quarry/internal/provider"
	"github.com/quarry-io/quarry/internal/state"
	awsprovider "github.com/quarry-io/quarry/providers/aws"
	memoryprovider "github.com/quarry-io/quarry/providers/memory"
)

// timeUnit is the rounding applied to durations in progress output.
const timeUnit = 10 * time.Millisecond

const defaultDescriptor = "quarry.yaml"

// descriptorPath resolves the deployment file from positional args.
func descriptorPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return defaultDescriptor
}

// loadDeployment reads and validates the deployment descriptor.
func loadDeployment(args []string) (*ir.Deployment, error) {
	path := descriptorPath(args)
	dep, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return dep, nil
}

// newRegistry builds the provider registry with every known provider
// registered lazily, so only the one the deployment names is instantiated.
func newRegistry() *provider.Registry {
	registry := provider.NewRegistry()
	registry.Register("memory", func() (provider.Provider, error) {
		return memoryprovider.New(), nil
	})
	registry.Register("aws", func() (provider.Provider, error) {
		return awsprovider.New(rootRegion)
	})
	return registry
}

// newEngine wires the registry into an engine with the deployment's
// concurrency bound.
func newEngine(registry *provider.Registry, dep *ir.Deployment) *engine.Engine {
	eng := engine.NewEngine(registry)
	if dep != nil && dep.Parallelism > 0 {
		eng.Parallelism = dep.Parallelism
	}
	return eng
}

// openStore creates the state store for the named deployment from the
// backend flags.
func openStore(deployment string) (state.Store, error) {
	cfg := &state.BackendConfig{Type: rootBackend, Config: rootBackendC}
	return state.NewStore(cfg, rootStateDir, deployment)
}

// confirm prompts for a yes answer on stdin.
func confirm(prompt string) bool {
	fmt.Printf("%s\n  Only 'yes' will be accepted to approve.\n\n  Enter a value: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "yes"
}

// renderPlanSummary prints the plan summary counts.
func renderPlanSummary(plan *ir.Plan) {
	fmt.Println("\nPlan Summary:")
	fmt.Printf("  Create: %d\n", plan.Summary.Create)
	fmt.Printf("  Update: %d\n", plan.Summary.Update)
	fmt.Printf("  Delete: %d\n", plan.Summary.Delete)
	fmt.Printf("  NoOp:   %d\n", plan.Summary.NoOp)
}

// renderPlanChanges prints the detailed change list for a plan.
func renderPlanChanges(plan *ir.Plan) {
	for _, step := range plan.Changes() {
		symbol := "~"
		color := "\033[33m" // yellow
		switch step.Action {
		case ir.ActionCreate:
			symbol = "+"
			color = "\033[32m" // green
		case ir.ActionDelete:
			symbol = "-"
			color = "\033[31m" // red
		}

		typ := ""
		if step.Desired != nil {
			typ = string(step.Desired.Type)
		} else if step.Prior != nil {
			typ = string(step.Prior.Type)
		}

		fmt.Printf("\n%s  %s %s (%s)\033[0m\n", color, symbol, step.ResourceID, typ)
		renderPropertyDiff(step)
	}
}

// renderPropertyDiff prints one step's property diff.
func renderPropertyDiff(step *ir.PlanStep) {
	for _, key := range sortedDiffKeys(step.Diff) {
		diff := step.Diff[key]
		switch diff.Action {
		case ir.ActionCreate:
			fmt.Printf("\033[32m      + %s = %s\033[0m\n", key, formatValue(diff.After))
		case ir.ActionDelete:
			fmt.Printf("\033[31m      - %s = %s\033[0m\n", key, formatValue(diff.Before))
		case ir.ActionUpdate:
			fmt.Printf("\033[33m      ~ %s = %s -> %s\033[0m\n", key, formatValue(diff.Before), formatValue(diff.After))
		}
	}
}

func sortedDiffKeys(diff map[string]*ir.PropertyDiff) []string {
	keys := make([]string, 0, len(diff))
	for k := range diff {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatValue returns a human-readable representation of a value.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// progressCallback prints step progress as the engine reports it.
func progressCallback(ev engine.ApplyEvent) {
	switch ev.Phase {
	case "started":
		fmt.Printf("%s: %s...\n", ev.ResourceID, presentTense(ev.Action))
	case "completed":
		fmt.Printf("%s: %s complete after %s\n", ev.ResourceID, string(ev.Action), ev.Duration.Round(timeUnit))
	case "failed":
		fmt.Printf("%s: %s failed after %s: %v\n", ev.ResourceID, string(ev.Action), ev.Duration.Round(timeUnit), ev.Err)
	}
}

func presentTense(a ir.Action) string {
	switch a {
	case ir.ActionCreate:
		return "creating"
	case ir.ActionUpdate:
		return "updating"
	case ir.ActionDelete:
		return "deleting"
	}
	return string(a)
}

// failureSummary names the resource a failed apply stopped at and the last
// step that did go through, so the operator knows where to look without
// reading the whole log.
func failureSummary(report *ir.ExecutionReport) string {
	failed := report.FailedResource()
	if failed == "" {
		return ""
	}
	if last := report.LastApplied(); last != "" {
		return fmt.Sprintf("Apply failed at %s; last successful step: %s.", failed, last)
	}
	return fmt.Sprintf("Apply failed at %s; no steps had completed.", failed)
}

// renderReport prints the execution outcome.
func renderReport(report *ir.ExecutionReport) {
	if report == nil {
		return
	}
	applied, failed, rolledBack := 0, 0, 0
	for _, o := range report.Outcomes {
		switch o.Status {
		case ir.StatusApplied:
			applied++
		case ir.StatusFailed:
			failed++
		}
	}
	if report.Rollback != nil {
		rolledBack = len(report.Rollback.Compensated)
	}

	fmt.Println()
	if failed == 0 && !report.Cancelled {
		fmt.Printf("Apply complete! Resources: %d changed.\n", applied)
		return
	}
	if report.Cancelled {
		fmt.Println("Apply interrupted.")
	}
	if summary := failureSummary(report); summary != "" {
		fmt.Println(summary)
	}
	fmt.Printf("Resources: %d changed, %d failed, %d rolled back.\n",
		applied, failed, rolledBack)
	if report.Rollback != nil && report.Rollback.Partial() {
		fmt.Println("\nWARNING: rollback was incomplete. The resources below need")
		fmt.Println("manual cleanup before the deployment can be retried:")
		for _, id := range report.Rollback.Failed {
			fmt.Printf("  - %s\n", id)
		}
	}
}
