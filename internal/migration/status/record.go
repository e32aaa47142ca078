// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package status

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Record is one immutable history entry.
type Record struct {
	Status    Status
	Timestamp time.Time
}

type recordJSON struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// MarshalJSON encodes the record as {"status": NAME, "timestamp": epoch-millis}.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{Status: string(r.Status), Timestamp: r.Timestamp.UnixMilli()})
}

// UnmarshalJSON decodes the persisted form and rejects unknown status names.
func (r *Record) UnmarshalJSON(b []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s, err := Parse(raw.Status)
	if err != nil {
		return err
	}
	r.Status = s
	r.Timestamp = time.UnixMilli(raw.Timestamp)
	return nil
}

// Load reads a persisted history file.
func Load(path string) ([]Record, error) {
	// #nosec G304 -- path comes from the workspace layout
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read status history: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode status history %s: %w", path, err)
	}
	return records, nil
}

// Latest returns the last record of a history, or a NOT_START record when empty.
func Latest(records []Record) Record {
	if len(records) == 0 {
		return Record{Status: NotStart}
	}
	return records[len(records)-1]
}
