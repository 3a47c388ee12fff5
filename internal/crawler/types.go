// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a work unit checkpoint.
type Status string

// Checkpoint status values persisted in the checkpoint store.
const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
	StatusFailed     Status = "FAILED"
)

// Valid reports whether s is one of the persisted status values.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDone, StatusFailed:
		return true
	default:
		return false
	}
}

// ParseStatus converts a persisted status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown checkpoint status %q", raw)
	}
	return s, nil
}

// Group types used by the catalogue.
const (
	GroupTypeEngine = "ENGINE"
	GroupTypeFrame  = "FRAME"
)

// UnitKey identifies one (vehicle, group) pair.
type UnitKey struct {
	VehicleID string `json:"vehicle_id"`
	GroupID   string `json:"group_id"`
}

func (k UnitKey) String() string {
	return k.VehicleID + "/" + k.GroupID
}

// VehicleRef is a vehicle card discovered on the catalogue landing page.
type VehicleRef struct {
	VehicleID   string `json:"vehicle_id"`
	VehicleName string `json:"vehicle_name"`
	ModelCode   string `json:"model_code"`
	SourceURL   string `json:"source_url"`
}

// GroupRef is an engine/frame group row listed for a vehicle.
type GroupRef struct {
	GroupID   string `json:"group_id"`
	GroupType string `json:"group_type"`
	TableNo   string `json:"table_no"`
	GroupDesc string `json:"group_desc"`
	Variant   string `json:"variant,omitempty"`
	// ExpectedRowCount is set when the listing exposes a row hint.
	ExpectedRowCount *int `json:"expected_row_count,omitempty"`
}

// WorkUnit is one (vehicle, group) pair to extract. It is never mutated after discovery.
type WorkUnit struct {
	VehicleID        string `json:"vehicle_id"`
	VehicleName      string `json:"vehicle_name"`
	ModelCode        string `json:"model_code"`
	GroupID          string `json:"group_id"`
	GroupType        string `json:"group_type"`
	TableNo          string `json:"table_no"`
	GroupDesc        string `json:"group_desc"`
	Variant          string `json:"variant,omitempty"`
	SourceURL        string `json:"source_url"`
	ExpectedRowCount *int   `json:"expected_row_count,omitempty"`
}

// NewWorkUnit joins a vehicle with one of its groups.
func NewWorkUnit(v VehicleRef, g GroupRef) WorkUnit {
	return WorkUnit{
		VehicleID:        v.VehicleID,
		VehicleName:      v.VehicleName,
		ModelCode:        v.ModelCode,
		GroupID:          g.GroupID,
		GroupType:        g.GroupType,
		TableNo:          g.TableNo,
		GroupDesc:        g.GroupDesc,
		Variant:          g.Variant,
		SourceURL:        v.SourceURL,
		ExpectedRowCount: g.ExpectedRowCount,
	}
}

// Key returns the checkpoint key for the unit.
func (u WorkUnit) Key() UnitKey {
	return UnitKey{VehicleID: u.VehicleID, GroupID: u.GroupID}
}

// CheckpointRecord is the persisted state of a WorkUnit.
type CheckpointRecord struct {
	Key          UnitKey   `json:"key"`
	Status       Status    `json:"status"`
	AttemptCount int       `json:"attempt_count"`
	LastError    string    `json:"last_error,omitempty"`
	RowCount     int       `json:"row_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PartRecord is one validated row of a parts table. PartsPageURL is where the
// table was read from; SourceURL is the page the vehicle was discovered on.
type PartRecord struct {
	VehicleID       string `json:"vehicle_id" bson:"vehicle_id"`
	VehicleName     string `json:"vehicle_name" bson:"vehicle_name"`
	ModelCode       string `json:"model_code" bson:"model_code"`
	GroupID         string `json:"group_id" bson:"group_id"`
	GroupType       string `json:"group_type" bson:"group_type"`
	TableNo         string `json:"table_no" bson:"table_no"`
	GroupDesc       string `json:"group_desc" bson:"group_desc"`
	ReferenceNumber string `json:"reference_number" bson:"reference_number"`
	PartNumber      string `json:"part_number" bson:"part_number"`
	Description     string `json:"description" bson:"description"`
	Remark          string `json:"remark" bson:"remark"`
	ReqNo           string `json:"req_no" bson:"req_no"`
	MRP             string `json:"mrp" bson:"mrp"`
	MOQ             string `json:"moq" bson:"moq"`
	ImagePath       string `json:"image_path,omitempty" bson:"image_path,omitempty"`
	PartsPageURL    string `json:"parts_page_url,omitempty" bson:"parts_page_url,omitempty"`
	SourceURL       string `json:"source_url,omitempty" bson:"source_url,omitempty"`
}

// Key returns the unit the record belongs to.
func (p PartRecord) Key() UnitKey {
	return UnitKey{VehicleID: p.VehicleID, GroupID: p.GroupID}
}

// RawRow is one rendered table row keyed by column header text.
type RawRow struct {
	Cells map[string]string
}

// PageSnapshot is the accumulated state of a paginated table after reveal stops.
type PageSnapshot struct {
	Rows          []RawRow
	ReportedTotal *int
	Reveals       int
	Observations  int
}

// Image is a downloaded diagram.
type Image struct {
	URL         string
	ContentType string
	Data        []byte
}

// QueueItem wraps a unit ready to run.
type QueueItem struct {
	Unit WorkUnit
	// Attempt is the 1-based attempt number within the current run.
	Attempt int
	// Timeouts counts earlier attempts in this run that hit the unit timeout.
	// Unit timeouts are budgeted on this count rather than on Attempt.
	Timeouts int
}

// Next returns the item for the attempt after one that ended with err.
func (q QueueItem) Next(err error) QueueItem {
	next := QueueItem{Unit: q.Unit, Attempt: q.Attempt + 1, Timeouts: q.Timeouts}
	if Classify(err) == KindUnitTimeout {
		next.Timeouts++
	}
	return next
}

// OutcomeKind is the terminal classification of one worker invocation.
type OutcomeKind string

// Outcome kinds reported by the worker.
const (
	OutcomeDone    OutcomeKind = "done"
	OutcomeFailed  OutcomeKind = "failed"
	OutcomeRetry   OutcomeKind = "retry"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeAborted OutcomeKind = "aborted"
)

// Outcome is returned by the worker for one unit attempt.
type Outcome struct {
	Key        UnitKey
	Kind       OutcomeKind
	Err        error
	RetryAfter time.Duration
	Records    int
	ImagePath  string
	Attempt    int
	Duration   time.Duration
}

// UnitFailure captures a failed unit for the run summary.
type UnitFailure struct {
	Key   UnitKey `json:"key"`
	Error string  `json:"error"`
}

// Summary aggregates the outcome of one orchestrator run.
type Summary struct {
	RunID      string        `json:"run_id"`
	Vehicles   int           `json:"vehicles"`
	Discovered int           `json:"discovered"`
	Done       int           `json:"done"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Retried    int           `json:"retried"`
	Aborted    int           `json:"aborted"`
	Records    int           `json:"records"`
	Failures   []UnitFailure `json:"failures,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// UnitEvent is published when a unit reaches a terminal state in a run.
type UnitEvent struct {
	RunID     string    `json:"run_id"`
	VehicleID string    `json:"vehicle_id"`
	GroupID   string    `json:"group_id"`
	Status    Status    `json:"status"`
	Records   int       `json:"records"`
	ImagePath string    `json:"image_path,omitempty"`
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}
