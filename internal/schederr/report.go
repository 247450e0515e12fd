package schederr

// Skip reason codes returned by batch operations.
const (
	ReasonAlreadyGenerated  = "already_generated"
	ReasonAlreadyOverridden = "already_overridden"
	ReasonNotHoliday        = "not_a_holiday"
	ReasonShiftInactive     = "shift_inactive"
	ReasonSubRoomInactive   = "sub_room_inactive"
	ReasonScheduleEnded     = "schedule_ended"
	ReasonPastMonth         = "past_month"
	ReasonAutoDisabled      = "auto_schedule_disabled"
)

// Outcome records what happened to one item of a batch operation.
type Outcome struct {
	Key    string `json:"key"`
	Status string `json:"status"` // "ok", "skipped", "failed"
	Reason string `json:"reason,omitempty"`
}

// BatchReport aggregates per-item outcomes. Batch operations return it
// instead of failing on the first bad item; no item is dropped without a
// recorded reason.
type BatchReport struct {
	Succeeded []Outcome `json:"succeeded"`
	Skipped   []Outcome `json:"skipped"`
	Failed    []Outcome `json:"failed"`
}

// AddOK records a successful item.
func (r *BatchReport) AddOK(key string) {
	r.Succeeded = append(r.Succeeded, Outcome{Key: key, Status: "ok"})
}

// AddSkip records a skipped item with a reason code.
func (r *BatchReport) AddSkip(key, reason string) {
	r.Skipped = append(r.Skipped, Outcome{Key: key, Status: "skipped", Reason: reason})
}

// AddFail records a failed item with a reason.
func (r *BatchReport) AddFail(key, reason string) {
	r.Failed = append(r.Failed, Outcome{Key: key, Status: "failed", Reason: reason})
}

// Counts returns (succeeded, skipped, failed) totals.
func (r *BatchReport) Counts() (int, int, int) {
	return len(r.Succeeded), len(r.Skipped), len(r.Failed)
}

// Merge appends all outcomes from other into r.
func (r *BatchReport) Merge(other *BatchReport) {
	if other == nil {
		return
	}
	r.Succeeded = append(r.Succeeded, other.Succeeded...)
	r.Skipped = append(r.Skipped, other.Skipped...)
	r.Failed = append(r.Failed, other.Failed...)
}
