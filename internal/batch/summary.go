package batch

import (
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/result-harvester/internal/harvest"
)

// Summary tallies a batch by outcome.
type Summary struct {
	RunID     uuid.UUID
	Total     int
	Processed int

	Merged          int
	NotFoundWritten int
	NotFoundSkipped int
	Rejected        int
	TimedOut        int
	OptionNotFound  int
	Failed          int
	Attempts        int

	Canceled bool
	Started  time.Time
	Finished time.Time
	Results  []Result
}

func (s *Summary) add(res Result) {
	s.Processed++
	s.Attempts += res.Attempts
	s.Results = append(s.Results, res)
	switch res.Label {
	case harvest.LabelMerged:
		s.Merged++
	case harvest.LabelNotFound:
		if res.Serial > 0 {
			s.NotFoundWritten++
		} else {
			s.NotFoundSkipped++
		}
	case harvest.LabelRejected:
		s.Rejected++
	case harvest.LabelTimedOut:
		s.TimedOut++
	case harvest.LabelNoOption:
		s.OptionNotFound++
	case harvest.LabelCanceled:
		s.Processed--
	default:
		s.Failed++
	}
}

// Failures counts identifiers that produced no row.
func (s Summary) Failures() int {
	return s.Rejected + s.TimedOut + s.OptionNotFound + s.Failed
}

// Rows counts identifiers that produced a table row.
func (s Summary) Rows() int {
	return s.Merged + s.NotFoundWritten
}
