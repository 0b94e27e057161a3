package wayback

import "sync/atomic"

// Stats accumulates per-outcome counters across archive attempts. Counters
// are atomic so parallel workers update them without a shared lock; each
// attempt lands in exactly one outcome bucket.
type Stats struct {
	totalAttempted  atomic.Int64
	successful      atomic.Int64
	alreadyArchived atomic.Int64
	failed          atomic.Int64
	notFound        atomic.Int64
	rateLimited     atomic.Int64
	timedOut        atomic.Int64
	errored         atomic.Int64
	unknown         atomic.Int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	TotalAttempted  int64
	Successful      int64
	AlreadyArchived int64
	Failed          int64
	NotFound        int64
	RateLimited     int64
	Timeout         int64
	Errors          int64
	Unknown         int64
}

// record buckets one terminal result. A failed save with HTTP 404 means the
// article itself no longer exists and is tracked separately from other
// failures.
func (s *Stats) record(r Result) {
	switch r.Status {
	case StatusSuccess:
		s.successful.Add(1)
	case StatusExists:
		s.alreadyArchived.Add(1)
	case StatusRateLimited:
		s.rateLimited.Add(1)
	case StatusTimeout:
		s.timedOut.Add(1)
	case StatusError:
		s.errored.Add(1)
	case StatusUnknown:
		s.unknown.Add(1)
	case StatusFailed:
		if r.HTTPStatus == 404 {
			s.notFound.Add(1)
		} else {
			s.failed.Add(1)
		}
	}
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		TotalAttempted:  s.totalAttempted.Load(),
		Successful:      s.successful.Load(),
		AlreadyArchived: s.alreadyArchived.Load(),
		Failed:          s.failed.Load(),
		NotFound:        s.notFound.Load(),
		RateLimited:     s.rateLimited.Load(),
		Timeout:         s.timedOut.Load(),
		Errors:          s.errored.Load(),
		Unknown:         s.unknown.Load(),
	}
}

// Archived is the count of attempts that ended with a snapshot in the
// archive, whether new or pre-existing.
func (s Snapshot) Archived() int64 {
	return s.Successful + s.AlreadyArchived
}

// SuccessRate reports archived attempts as a percentage of the total.
func (s Snapshot) SuccessRate() float64 {
	if s.TotalAttempted == 0 {
		return 0
	}
	return float64(s.Archived()) / float64(s.TotalAttempted) * 100
}
