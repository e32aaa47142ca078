// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package status

import "fmt"

// Phase is one stage of the pipeline a job may be configured with.
type Phase string

const (
	PhaseFullMigration Phase = "full_migration"
	PhaseFullDataCheck Phase = "full_data_check"
	PhaseIncremental   Phase = "incremental_migration"
	PhaseReverse       Phase = "reverse_migration"
)

var phaseOrder = map[Phase]int{
	PhaseFullMigration: 0,
	PhaseFullDataCheck: 1,
	PhaseIncremental:   2,
	PhaseReverse:       3,
}

// ParsePhases converts configured phase names, rejecting unknown ones.
func ParsePhases(names []string) ([]Phase, error) {
	out := make([]Phase, 0, len(names))
	for _, n := range names {
		p := Phase(n)
		if _, ok := phaseOrder[p]; !ok {
			return nil, fmt.Errorf("unknown migration phase %q", n)
		}
		out = append(out, p)
	}
	return out, nil
}

// HasPhase reports whether p is contained in phases.
func HasPhase(phases []Phase, p Phase) bool {
	for _, x := range phases {
		if x == p {
			return true
		}
	}
	return false
}

// Phase returns the pipeline phase a status belongs to, if any.
func (s Status) Phase() (Phase, bool) {
	switch {
	case s.IsFullMigration():
		return PhaseFullMigration, true
	case s.IsFullDataCheck():
		return PhaseFullDataCheck, true
	case s.IsIncremental():
		return PhaseIncremental, true
	case s.IsReverse():
		return PhaseReverse, true
	}
	return "", false
}
