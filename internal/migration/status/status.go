// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package status models the migration status machine: the status catalogue,
// phase membership, and the append-only tracker persisted to disk.
package status

import (
	"fmt"
	"slices"
)

// Status is one step of a migration run. The string form is the persisted name.
type Status string

const (
	NotStart          Status = "NOT_START"
	MigrationStarting Status = "MIGRATION_STARTING"

	StartFullMigration    Status = "START_FULL_MIGRATION"
	FullMigrationRunning  Status = "FULL_MIGRATION_RUNNING"
	FullMigrationFinished Status = "FULL_MIGRATION_FINISHED"

	StartFullDataCheck    Status = "START_FULL_DATA_CHECK"
	FullDataCheckRunning  Status = "FULL_DATA_CHECK_RUNNING"
	FullDataCheckFinished Status = "FULL_DATA_CHECK_FINISHED"

	StartIncrementalMigration       Status = "START_INCREMENTAL_MIGRATION"
	IncrementalMigrationRunning     Status = "INCREMENTAL_MIGRATION_RUNNING"
	IncrementalMigrationFinished    Status = "INCREMENTAL_MIGRATION_FINISHED"
	IncrementalMigrationInterrupted Status = "INCREMENTAL_MIGRATION_INTERRUPTED"

	StartReverseMigration       Status = "START_REVERSE_MIGRATION"
	ReverseMigrationRunning     Status = "REVERSE_MIGRATION_RUNNING"
	ReverseMigrationFinished    Status = "REVERSE_MIGRATION_FINISHED"
	ReverseMigrationInterrupted Status = "REVERSE_MIGRATION_INTERRUPTED"

	MigrationFinished           Status = "MIGRATION_FINISHED"
	MigrationStopping           Status = "MIGRATION_STOPPING"
	MigrationFailed             Status = "MIGRATION_FAILED"
	PreMigrationVerifyFailed    Status = "PRE_MIGRATION_VERIFY_FAILED"
	PreReversePhaseVerifyFailed Status = "PRE_REVERSE_PHASE_VERIFY_FAILED"
)

type entry struct {
	code int
	desc string
}

// catalogue holds the externally visible numeric code and description.
var catalogue = map[Status]entry{
	NotStart:          {0, "Migration not started"},
	MigrationStarting: {1, "Migration starting"},

	StartFullMigration:    {100, "Full migration started"},
	FullMigrationRunning:  {101, "Full migration running"},
	FullMigrationFinished: {102, "Full migration finished"},

	StartFullDataCheck:    {200, "Full data check started"},
	FullDataCheckRunning:  {201, "Full data check running"},
	FullDataCheckFinished: {202, "Full data check finished"},

	StartIncrementalMigration:    {300, "Incremental migration started"},
	IncrementalMigrationRunning:  {301, "Incremental migration running"},
	IncrementalMigrationFinished: {302, "Incremental migration finished"},

	StartReverseMigration:    {401, "Reverse migration started"},
	ReverseMigrationRunning:  {402, "Reverse migration running"},
	ReverseMigrationFinished: {403, "Reverse migration finished"},

	MigrationFailed:                 {500, "Migration failed"},
	IncrementalMigrationInterrupted: {501, "Incremental migration interrupted"},
	ReverseMigrationInterrupted:     {502, "Reverse migration interrupted"},

	MigrationFinished:           {600, "Migration finished"},
	PreMigrationVerifyFailed:    {601, "Pre migration verify failed"},
	PreReversePhaseVerifyFailed: {602, "Pre reverse phase verify failed"},
	MigrationStopping:           {603, "Migration stopping"},
}

var (
	fullMigrationSet = set(StartFullMigration, FullMigrationRunning, FullMigrationFinished)
	fullDataCheckSet = set(StartFullDataCheck, FullDataCheckRunning, FullDataCheckFinished)
	incrementalSet   = set(StartIncrementalMigration, IncrementalMigrationRunning,
		IncrementalMigrationInterrupted, IncrementalMigrationFinished)
	reverseSet = set(StartReverseMigration, ReverseMigrationRunning,
		ReverseMigrationInterrupted, ReverseMigrationFinished)
	notRunningSet = set(NotStart, MigrationStarting, MigrationStopping, MigrationFinished,
		MigrationFailed, PreMigrationVerifyFailed)
)

func set(ss ...Status) map[Status]struct{} {
	m := make(map[Status]struct{}, len(ss))
	for _, s := range ss {
		m[s] = struct{}{}
	}
	return m
}

func in(m map[Status]struct{}, s Status) bool {
	_, ok := m[s]
	return ok
}

// Parse returns the Status with the given persisted name.
func Parse(name string) (Status, error) {
	s := Status(name)
	if !s.Valid() {
		return "", fmt.Errorf("unknown migration status %q", name)
	}
	return s, nil
}

// All returns every status ordered by code.
func All() []Status {
	out := make([]Status, 0, len(catalogue))
	for s := range catalogue {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Status) int { return a.Code() - b.Code() })
	return out
}

func (s Status) String() string { return string(s) }

// Valid reports whether s is part of the catalogue.
func (s Status) Valid() bool {
	_, ok := catalogue[s]
	return ok
}

// Code returns the numeric status code, or -1 for unknown values.
func (s Status) Code() int {
	if e, ok := catalogue[s]; ok {
		return e.code
	}
	return -1
}

// Description returns the human readable description.
func (s Status) Description() string {
	if e, ok := catalogue[s]; ok {
		return e.desc
	}
	return "Unknown status"
}

func (s Status) IsNotRunning() bool    { return in(notRunningSet, s) }
func (s Status) IsFullMigration() bool { return in(fullMigrationSet, s) }
func (s Status) IsFullDataCheck() bool { return in(fullDataCheckSet, s) }
func (s Status) IsIncremental() bool   { return in(incrementalSet, s) }
func (s Status) IsReverse() bool       { return in(reverseSet, s) }
