// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package job

import (
	"context"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/config"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/process"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/status"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/workspace"
)

// Runner is a task the job can also wait on.
type Runner interface {
	process.Task
	Wait(ctx context.Context) error
}

// TaskFactory creates an unstarted task.
type TaskFactory func(spec process.TaskSpec) Runner

func defaultFactory(spec process.TaskSpec) Runner { return process.NewTaskProcess(spec) }

// taskSpec resolves a configured process against the workspace layout.
func taskSpec(ps config.ProcessSpec, role process.Role, phase status.Phase, ws *workspace.Workspace, sup config.SupervisorConfig) process.TaskSpec {
	return process.TaskSpec{
		Spec:         ProcessSpec(ps, ws, sup),
		Role:         role,
		Phase:        phase,
		StatusFile:   ws.StatusPath(ps.StatusFile),
		FinishMarker: ws.StatusPath(ps.FinishMarker),
	}
}

// ProcessSpec converts a configured process into a launch spec.
func ProcessSpec(ps config.ProcessSpec, ws *workspace.Workspace, sup config.SupervisorConfig) process.Spec {
	return process.Spec{
		Name:      ps.Name,
		Command:   ps.Command,
		Pattern:   ps.Pattern,
		Dir:       ps.Dir,
		Env:       ps.Env,
		LogPath:   ws.LogPath(ps.LogFile),
		StartWait: ps.StartWait,
		StopGrace: sup.StopGrace,
		StopPoll:  sup.StopPoll,
	}
}

// group is the set of tasks launched for one phase invocation.
type group struct {
	tasks []Runner
}

func (g *group) start(ctx context.Context, reg Registrar, register bool) error {
	for _, t := range g.tasks {
		if err := t.Start(ctx); err != nil {
			return err
		}
		if register && reg != nil {
			reg.AddProcess(t)
		}
	}
	return nil
}

func (g *group) stop() {
	if g == nil {
		return
	}
	for i := len(g.tasks) - 1; i >= 0; i-- {
		g.tasks[i].Stop()
	}
}

func (g *group) finished() bool {
	for _, t := range g.tasks {
		if !t.Finished() {
			return false
		}
	}
	return true
}
