// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics holds the Prometheus collectors of the migration portal.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StatusTransitions counts accepted status transitions by target status.
	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_status_transitions_total",
		Help: "Accepted migration status transitions by target status",
	}, []string{"status"})

	// StatusRejected counts transitions dropped because the run already failed.
	StatusRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_status_transitions_rejected_total",
		Help: "Status transitions ignored after MIGRATION_FAILED",
	})

	// StatusCurrentCode exposes the numeric code of the current status.
	StatusCurrentCode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portal_status_current_code",
		Help: "Numeric code of the current migration status",
	})

	// ProcessFailures counts supervised process failures by role and detection reason.
	ProcessFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_process_failures_total",
		Help: "Supervised process failures by role and reason",
	}, []string{"role", "reason"}) // reason: exited|stale|broker

	// BrokerRestarts counts broker cluster restart attempts by result.
	BrokerRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_broker_restarts_total",
		Help: "Broker cluster restart attempts by result",
	}, []string{"result"})

	// StaleDetections counts status files declared stale.
	StaleDetections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_stale_detections_total",
		Help: "Connector status files declared stale",
	}, []string{"process"})

	// SupervisedProcesses is the number of task processes currently watched.
	SupervisedProcesses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portal_supervised_processes",
		Help: "Task processes currently under supervision",
	})

	// HeartbeatWrites counts heartbeat touches by result.
	HeartbeatWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_heartbeat_writes_total",
		Help: "Heartbeat file writes by result",
	}, []string{"result"})

	// ProgressWrites counts per-phase progress file writes by phase and result.
	ProgressWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_progress_writes_total",
		Help: "Per-phase progress file writes by phase and result",
	}, []string{"phase", "result"})

	// VerifyRuns counts pre-flight verification runs by scope and result.
	VerifyRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_verify_runs_total",
		Help: "Pre-flight verification runs by scope and result",
	}, []string{"scope", "result"})

	// VerifyCheckFailures counts individual failed checks.
	VerifyCheckFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_verify_check_failures_total",
		Help: "Failed pre-flight checks by check name",
	}, []string{"check"})

	// PhaseOperations counts phase operations requested through the controller.
	PhaseOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_phase_operations_total",
		Help: "Phase operations by phase, operation and result",
	}, []string{"phase", "op", "result"})

	procTerminate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_proc_terminate_total",
		Help: "Signals sent to external processes by signal and result",
	}, []string{"signal", "result"})

	procWait = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_proc_wait_total",
		Help: "Process exit observations by result",
	}, []string{"result"})
)

// IncProcTerminate records a termination signal delivery.
func IncProcTerminate(signal, result string) {
	procTerminate.WithLabelValues(signal, result).Inc()
}

// IncProcWait records how a terminated process exited.
func IncProcWait(result string) {
	procWait.WithLabelValues(result).Inc()
}
