package reporting

import (
	"context"
	"errors"

	"voip-dashboard/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// CallSource is the read side of the call store used for reporting.
type CallSource interface {
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]calls.CallRecord, error)
}

type Service struct {
	calls CallSource
}

func NewService(src CallSource) *Service { return &Service{calls: src} }

// CallsSummary aggregates the owner's most recent calls (at most
// calls.DefaultListLimit), optionally narrowed to a time range.
func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.OwnerID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if !req.Range.IsZero() && (req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From)) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.calls == nil {
		return CallsSummary{}, errors.New("reporting: call source not configured")
	}

	rows, err := s.calls.ListByOwner(ctx, req.OwnerID, calls.DefaultListLimit)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{OwnerID: req.OwnerID}
	timed := 0
	for _, c := range rows {
		if !req.Range.IsZero() && (c.CreatedAt.Before(req.Range.From) || !c.CreatedAt.Before(req.Range.To)) {
			continue
		}
		out.TotalCalls++
		if c.Direction == calls.DirectionInbound {
			out.InboundCalls++
		} else {
			out.OutboundCalls++
		}
		switch c.Status {
		case calls.StatusCompleted:
			out.CompletedCalls++
		case calls.StatusDeclined:
			out.DeclinedCalls++
		case calls.StatusFailed:
			out.FailedCalls++
		default:
			out.InProgressCalls++
		}
		if c.DurationSeconds != nil {
			out.TotalDurationSeconds += *c.DurationSeconds
			timed++
		}
	}
	if timed > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / timed
	}
	if ended := out.CompletedCalls + out.DeclinedCalls + out.FailedCalls; ended > 0 {
		out.AnswerRate = float64(out.CompletedCalls) / float64(ended)
	}
	return out, nil
}
