package reporting

import "time"

// TimeRange filters on call creation time. A zero range means no filter.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) IsZero() bool { return r.From.IsZero() && r.To.IsZero() }

// CallsSummaryRequest requests aggregated call metrics for one user.
type CallsSummaryRequest struct {
	OwnerID string    `json:"owner_id"`
	Range   TimeRange `json:"range"`
}

type CallsSummary struct {
	OwnerID string `json:"owner_id"`

	TotalCalls      int `json:"total_calls"`
	InboundCalls    int `json:"inbound_calls"`
	OutboundCalls   int `json:"outbound_calls"`
	CompletedCalls  int `json:"completed_calls"`
	DeclinedCalls   int `json:"declined_calls"`
	FailedCalls     int `json:"failed_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	// AnswerRate is completed calls over terminal calls.
	AnswerRate float64 `json:"answer_rate"`
}
