// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package controller

import (
	"context"

	xglog "github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/log"
)

// Phase operations forward to the job with the controller's token and tracker.

func (c *Controller) StopIncremental(ctx context.Context) error {
	return c.phaseOp(ctx, "incremental.stop", func(ctx context.Context) error {
		return c.job.StopIncremental(ctx, c.token, c.tracker)
	})
}

func (c *Controller) ResumeIncremental(ctx context.Context) error {
	return c.phaseOp(ctx, "incremental.resume", func(ctx context.Context) error {
		return c.job.ResumeIncremental(ctx, c.tracker)
	})
}

// RestartIncremental is also called by the recovery policy after a broker restart.
func (c *Controller) RestartIncremental(ctx context.Context) error {
	return c.phaseOp(ctx, "incremental.restart", func(ctx context.Context) error {
		return c.job.RestartIncremental(ctx, c.token, c.tracker)
	})
}

func (c *Controller) StartReverse(ctx context.Context) error {
	return c.phaseOp(ctx, "reverse.start", func(ctx context.Context) error {
		return c.job.StartReverse(ctx, c.token, c.tracker)
	})
}

func (c *Controller) StopReverse(ctx context.Context) error {
	return c.phaseOp(ctx, "reverse.stop", func(ctx context.Context) error {
		return c.job.StopReverse(ctx, c.tracker)
	})
}

func (c *Controller) ResumeReverse(ctx context.Context) error {
	return c.phaseOp(ctx, "reverse.resume", func(ctx context.Context) error {
		return c.job.ResumeReverse(ctx, c.tracker)
	})
}

// RestartReverse is also called by the recovery policy after a broker restart.
func (c *Controller) RestartReverse(ctx context.Context) error {
	return c.phaseOp(ctx, "reverse.restart", func(ctx context.Context) error {
		return c.job.RestartReverse(ctx, c.token, c.tracker)
	})
}

func (c *Controller) phaseOp(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := c.tracer.Start(xglog.ContextWithRunID(ctx, c.runID), "migration."+name)
	defer span.End()

	c.logger.Info().Str(xglog.FieldEvent, "controller.op").Str("op", name).Msg("phase operation requested")
	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		c.logger.Warn().Err(err).Str(xglog.FieldEvent, "controller.op_failed").Str("op", name).Msg("phase operation failed")
	}
	return err
}
