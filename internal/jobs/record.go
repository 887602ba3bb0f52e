// Package jobs persists the lifecycle of one submitted question:
// absent -> pending -> completed, with every write refreshing the TTL.
package jobs

// Status of a job record. The zero value means no record.
type Status string

const (
	StatusAbsent    Status = ""
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Field names of the stored hash.
const (
	fieldStatus   = "status"
	fieldThreadID = "threadId"
	fieldRunID    = "runId"
	fieldResponse = "response"
)

// Record is the state stored under a job key.
type Record struct {
	Status   Status
	ThreadID string
	RunID    string
	// Response is the placeholder message while pending and the final answer
	// once completed.
	Response string
}

// Absent reports whether there is no usable record.
func (r Record) Absent() bool { return r.Status == StatusAbsent }

// Completed reports whether Response holds the final answer.
func (r Record) Completed() bool { return r.Status == StatusCompleted }

// Resumable reports whether a later request can reuse ThreadID.
func (r Record) Resumable() bool {
	return r.Status == StatusPending && r.ThreadID != ""
}

func (r Record) fields() map[string]string {
	return map[string]string{
		fieldStatus:   string(r.Status),
		fieldThreadID: r.ThreadID,
		fieldRunID:    r.RunID,
		fieldResponse: r.Response,
	}
}

// recordFromFields decodes a stored hash. Unknown statuses decode as absent;
// ok is false in that case so the caller can log it.
func recordFromFields(f map[string]string) (Record, bool) {
	if len(f) == 0 {
		return Record{}, true
	}
	r := Record{
		Status:   Status(f[fieldStatus]),
		ThreadID: f[fieldThreadID],
		RunID:    f[fieldRunID],
		Response: f[fieldResponse],
	}
	switch r.Status {
	case StatusPending, StatusCompleted:
		return r, true
	default:
		return Record{}, false
	}
}
