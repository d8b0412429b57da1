package task

import "time"

// Summary aggregates per-run behavior for the console report.
type Summary struct {
	Trials    int
	Responses int
	Correct   int
	Rewarded  int
	Reversals int
	MeanRT    time.Duration
}

// ResponseRate returns the fraction of trials with an accepted choice.
func (s Summary) ResponseRate() float64 {
	if s.Trials == 0 {
		return 0
	}
	return float64(s.Responses) / float64(s.Trials)
}

// CorrectRate returns the fraction of responded trials choosing the
// favored option.
func (s Summary) CorrectRate() float64 {
	if s.Responses == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Responses)
}

// Summarize folds trial records into a Summary. Reversals are counted from
// contingency flips between consecutive trials.
func Summarize(trials []TrialRecord) Summary {
	var s Summary
	var rtSum time.Duration
	for i, t := range trials {
		s.Trials++
		if t.Responded {
			s.Responses++
			rtSum += t.RT
			if t.Correct {
				s.Correct++
			}
		}
		if t.Rewarded {
			s.Rewarded++
		}
		if i > 0 && t.Favored != trials[i-1].Favored {
			s.Reversals++
		}
	}
	if s.Responses > 0 {
		s.MeanRT = rtSum / time.Duration(s.Responses)
	}
	return s
}
