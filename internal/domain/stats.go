package domain

import (
	"fmt"
	"math"
)

// Summary aggregates request outcomes and actor participation.
type Summary struct {
	Total             int
	Pending           int
	Fulfilled         int
	Failed            int
	TotalActors       int
	ApprovedActors    int
	ApprovalRate      int
	ActorResponseRate int
	AverageApprovals  float64
}

// Summarize computes analytics over requests.
func Summarize(requests []Request) Summary {
	var s Summary
	s.Total = len(requests)
	for _, r := range requests {
		switch r.Status {
		case StatusPending:
			s.Pending++
		case StatusFulfilled:
			s.Fulfilled++
		case StatusFailed:
			s.Failed++
		}
		s.TotalActors += len(r.Actors)
		s.ApprovedActors += r.ApprovedCount()
	}

	completed := s.Fulfilled + s.Failed
	if completed > 0 {
		s.ApprovalRate = percent(s.Fulfilled, completed)
	}
	if s.TotalActors > 0 {
		s.ActorResponseRate = percent(s.ApprovedActors, s.TotalActors)
	}
	if s.Total > 0 {
		s.AverageApprovals = float64(s.ApprovedActors) / float64(s.Total)
	}
	return s
}

// AverageApprovalsLabel formats the per-request average with one decimal.
func (s Summary) AverageApprovalsLabel() string {
	return fmt.Sprintf("%.1f", s.AverageApprovals)
}

// percent rounds half up, matching the dashboard figures.
func percent(n, d int) int {
	return int(math.Floor(float64(n)/float64(d)*100 + 0.5))
}
