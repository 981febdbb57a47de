// Package toolcall turns ACP tool-call start and progress events into
// display-ready records.
//
// The functions here only mutate the Calls value they are given; callers own
// locking.
package toolcall

import (
	"encoding/json"
	"fmt"

	"github.com/kandev/acpchat/internal/acp/permission"
)

// Tool call statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Permission statuses.
const (
	PermissionPending  = "pending"
	PermissionResolved = "resolved"
)

// Diff is a file change attached to a permission request.
type Diff struct {
	Path    string  `json:"path"`
	OldText *string `json:"old_text,omitempty"`
	NewText string  `json:"new_text"`
}

// Record is the state of one tool call within a turn.
type Record struct {
	ToolCallID        string
	Title             string
	Kind              string
	Status            string
	RawOutput         any
	Locations         []string
	Diffs             []Diff
	PermissionOptions []permission.Option
	PermissionStatus  string
	SelectedOptionID  string
	SessionID         string
}

// Calls holds the tool-call records of a turn in first-seen order.
type Calls struct {
	records map[string]*Record
	order   []string
}

// NewCalls returns an empty set of records.
func NewCalls() *Calls {
	return &Calls{records: make(map[string]*Record)}
}

// Get returns the record for id.
func (c *Calls) Get(id string) (*Record, bool) {
	r, ok := c.records[id]
	return r, ok
}

// Len returns the number of records.
func (c *Calls) Len() int {
	return len(c.records)
}

// Reset drops every record.
func (c *Calls) Reset() {
	c.records = make(map[string]*Record)
	c.order = nil
}

func (c *Calls) put(r *Record) {
	if _, exists := c.records[r.ToolCallID]; !exists {
		c.order = append(c.order, r.ToolCallID)
	}
	c.records[r.ToolCallID] = r
}

// ApplyStart inserts the record with status in_progress. A record that
// already exists, e.g. from an early permission request, keeps its
// permission state and diffs, and a finished status is not reopened.
func ApplyStart(c *Calls, id, title, kind string, locations []string) *Record {
	if len(locations) == 0 {
		locations = nil
	}
	r, ok := c.records[id]
	if !ok {
		r = &Record{
			ToolCallID: id,
			Title:      resolveTitle(title, kind, locations),
			Kind:       kind,
			Status:     StatusInProgress,
			Locations:  locations,
		}
		c.put(r)
		return r
	}

	if kind != "" {
		r.Kind = kind
	}
	if locations != nil {
		r.Locations = locations
	}
	if title != "" || r.Title == "" {
		r.Title = resolveTitle(title, r.Kind, r.Locations)
	}
	if canTransition(r.Status, StatusInProgress) {
		r.Status = StatusInProgress
	}
	return r
}

// Progress carries the optional fields of a progress event. Nil pointers,
// empty strings and empty location lists mean "not provided".
type Progress struct {
	Title     *string
	Kind      *string
	Status    *string
	RawOutput any
	Locations []string
}

// ApplyProgress updates the record for id field by field, creating it with
// the start title policy if it does not exist.
func ApplyProgress(c *Calls, id string, p Progress) *Record {
	title, kind, status := deref(p.Title), deref(p.Kind), deref(p.Status)
	raw := normalizeRawOutput(p.RawOutput)

	locations := p.Locations
	if len(locations) == 0 {
		locations = nil
	}

	r, ok := c.records[id]
	if !ok {
		if status == "" {
			status = StatusInProgress
		}
		r = &Record{
			ToolCallID: id,
			Title:      resolveTitle(title, kind, locations),
			Kind:       kind,
			Status:     status,
			RawOutput:  raw,
			Locations:  locations,
		}
		c.put(r)
		return r
	}

	if title != "" {
		r.Title = shortenTitle(title)
	}
	if kind != "" {
		r.Kind = kind
	}
	if status != "" && canTransition(r.Status, status) {
		r.Status = status
	}
	if raw != nil {
		r.RawOutput = raw
	}
	if locations != nil {
		r.Locations = locations
	}
	return r
}

// ApplyPermissionRequest marks the record as waiting on the user, creating it
// if the agent asked before announcing the tool call. Options are recorded
// only the first time.
func ApplyPermissionRequest(c *Calls, sessionID, id, title, kind string, locations []string, options []permission.Option, diffs []Diff) *Record {
	r, ok := c.records[id]
	if !ok {
		r = &Record{
			ToolCallID: id,
			Title:      resolveTitle(title, kind, locations),
			Kind:       kind,
			Status:     StatusPending,
			Locations:  locations,
		}
		c.put(r)
	}
	r.SessionID = sessionID
	if r.PermissionOptions == nil {
		r.PermissionOptions = options
	}
	if len(diffs) > 0 {
		r.Diffs = diffs
	}
	if r.PermissionStatus != PermissionResolved {
		r.PermissionStatus = PermissionPending
	}
	return r
}

// ApplyPermissionResolved records the chosen option. It returns nil when the
// record no longer exists, e.g. after the turn was reset.
func ApplyPermissionResolved(c *Calls, id, optionID string) *Record {
	r, ok := c.records[id]
	if !ok {
		return nil
	}
	r.PermissionStatus = PermissionResolved
	r.SelectedOptionID = optionID
	return r
}

func isTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// canTransition keeps statuses moving forward: a finished call never goes
// back to pending or in_progress.
func canTransition(from, to string) bool {
	if isTerminal(from) {
		return isTerminal(to)
	}
	if from == StatusInProgress && to == StatusPending {
		return false
	}
	return true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// normalizeRawOutput keeps JSON-compatible values and stores anything else
// as its string form.
func normalizeRawOutput(v any) any {
	switch v.(type) {
	case nil:
		return nil
	case string, bool, json.Number, []any, map[string]any,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Serialize returns the records in first-seen order as plain maps, omitting
// empty fields.
func Serialize(c *Calls) []map[string]any {
	out := make([]map[string]any, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.records[id].toMap())
	}
	return out
}

func (r *Record) toMap() map[string]any {
	m := map[string]any{
		"tool_call_id": r.ToolCallID,
		"title":        r.Title,
	}
	if r.Kind != "" {
		m["kind"] = r.Kind
	}
	if r.Status != "" {
		m["status"] = r.Status
	}
	if r.RawOutput != nil {
		m["raw_output"] = r.RawOutput
	}
	if len(r.Locations) > 0 {
		m["locations"] = append([]string(nil), r.Locations...)
	}
	if len(r.Diffs) > 0 {
		diffs := make([]map[string]any, 0, len(r.Diffs))
		for _, d := range r.Diffs {
			dm := map[string]any{"path": d.Path, "new_text": d.NewText}
			if d.OldText != nil {
				dm["old_text"] = *d.OldText
			}
			diffs = append(diffs, dm)
		}
		m["diffs"] = diffs
	}
	if r.PermissionOptions != nil {
		opts := make([]map[string]any, 0, len(r.PermissionOptions))
		for _, o := range r.PermissionOptions {
			om := map[string]any{"option_id": o.ID, "title": o.Title}
			if o.Description != "" {
				om["description"] = o.Description
			}
			opts = append(opts, om)
		}
		m["permission_options"] = opts
	}
	if r.PermissionStatus != "" {
		m["permission_status"] = r.PermissionStatus
	}
	if r.SelectedOptionID != "" {
		m["selected_option_id"] = r.SelectedOptionID
	}
	if r.SessionID != "" {
		m["session_id"] = r.SessionID
	}
	return m
}
