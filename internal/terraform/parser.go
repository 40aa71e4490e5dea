package terraform

import (
	"encoding/json"
	"fmt"
	"slices"
)

// PlanStats counts planned resource actions.
type PlanStats struct {
	Create int `json:"create" yaml:"create"`
	Update int `json:"update" yaml:"update"`
	Delete int `json:"delete" yaml:"delete"`
}

// Plan is the subset of `terraform show -json` output anchor reads.
// ResourceChanges is a pointer-to-slice so an absent field can be told
// apart from an empty one.
type Plan struct {
	ResourceChanges *[]ResourceChange `json:"resource_changes"`
}

// ResourceChange is one entry of a plan's resource_changes.
type ResourceChange struct {
	Address string `json:"address"`
	Change  struct {
		Actions []string `json:"actions"`
	} `json:"change"`
}

// ParsePlanStats decodes a structured plan and counts its actions.
// A nil result with a nil error means the plan carried no resource_changes
// field, which callers must treat as "no stats available".
func ParsePlanStats(planJSON []byte) (*PlanStats, error) {
	var plan Plan
	if err := json.Unmarshal(planJSON, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}
	return StatsFromPlan(plan), nil
}

// StatsFromPlan counts entries whose action set contains create, update or
// delete. A replace (["delete","create"]) counts toward both buckets.
func StatsFromPlan(plan Plan) *PlanStats {
	if plan.ResourceChanges == nil {
		return nil
	}

	stats := &PlanStats{}
	for _, rc := range *plan.ResourceChanges {
		actions := rc.Change.Actions
		if slices.Contains(actions, "create") {
			stats.Create++
		}
		if slices.Contains(actions, "update") {
			stats.Update++
		}
		if slices.Contains(actions, "delete") {
			stats.Delete++
		}
	}
	return stats
}
