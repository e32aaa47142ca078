// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on migration spans.
const (
	RunIDKey   = "migration.run_id"
	StatusKey  = "migration.status"
	PhaseKey   = "migration.phase"
	ProcessKey = "migration.process"
	RoleKey    = "migration.process_role"
	ReasonKey  = "migration.reason"
)

// RunAttributes describes the run a span belongs to.
func RunAttributes(runID, status string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if runID != "" {
		attrs = append(attrs, attribute.String(RunIDKey, runID))
	}
	if status != "" {
		attrs = append(attrs, attribute.String(StatusKey, status))
	}
	return attrs
}

// ProcessAttributes describes a supervised process.
func ProcessAttributes(name, role string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ProcessKey, name),
		attribute.String(RoleKey, role),
	}
}

// RecordError marks span as failed. A nil error is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
