package api

// Entity field names as they appear in IQM documents, in canonical order.
const (
	FieldSubject = "subject_id"
	FieldSession = "session_id"
	FieldTask    = "task_id"
	FieldAcq     = "acq_id"
	FieldRec     = "rec_id"
	FieldRun     = "run_id"
)

// EntityFields lists the identity fields in canonical parse order.
// The order is part of the on-disk contract and never changes.
var EntityFields = []string{FieldSubject, FieldSession, FieldTask, FieldAcq, FieldRec, FieldRun}

// Entities identifies one image by its BIDS filename entities.
// Optional entities are nil when absent from the filename, never "".
type Entities struct {
	// SubjectID is the label after "sub-". Mandatory.
	SubjectID string  `json:"subject_id"`
	SessionID *string `json:"session_id,omitempty"`
	TaskID    *string `json:"task_id,omitempty"`
	AcqID     *string `json:"acq_id,omitempty"`
	RecID     *string `json:"rec_id,omitempty"`
	RunID     *string `json:"run_id,omitempty"`
}

// Entity pairs an identity field name with its label.
type Entity struct {
	Field string
	Value string
}

// Ordered returns the defined entities in canonical order, subject first.
func (e Entities) Ordered() []Entity {
	out := []Entity{{Field: FieldSubject, Value: e.SubjectID}}
	for i, v := range []*string{e.SessionID, e.TaskID, e.AcqID, e.RecID, e.RunID} {
		if v != nil {
			out = append(out, Entity{Field: EntityFields[i+1], Value: *v})
		}
	}
	return out
}

// Label returns a pointer to s, or nil when s is empty. It is the
// conversion used by flag and column readers where "" means absent.
func Label(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Metadata is a merged sidecar: string keys to arbitrary JSON values.
type Metadata map[string]any

// Document is one IQM output record.
type Document map[string]any
