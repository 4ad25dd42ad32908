package matching

import (
	"github.com/spigell/md-matcher/internal/feedback"
)

// Feedback is what the operator says about an outcome.
type Feedback struct {
	User     string `json:"user,omitempty"`
	Rating   int    `json:"rating,omitempty"`
	Comments string `json:"comments,omitempty"`
	// Directors are the directors the operator picked. When empty the
	// validated matches are recorded instead.
	Directors []string `json:"directors,omitempty"`
}

// FeedbackRecord builds the record for an outcome.
func FeedbackRecord(out *Outcome, fb Feedback) feedback.Record {
	r := feedback.NewRecord(out.StartedAt.Add(out.Duration))
	r.RequestID = out.RequestID
	r.User = fb.User
	r.Rating = fb.Rating
	r.Comments = fb.Comments
	r.QuerySentAt = out.StartedAt.UTC()
	r.DurationMS = out.Duration.Milliseconds()

	if out.Provider != nil {
		r.ProviderRef = out.Provider.Key()
		r.Provider = out.Provider
	}
	if out.Completion != nil {
		r.Model = out.Completion.Model
		r.Params = out.Completion.Params
		r.RawOutput = out.Completion.Text
	}

	switch {
	case len(fb.Directors) > 0:
		r.Directors = append(r.Directors, fb.Directors...)
	case out.Result != nil:
		for _, e := range out.Result.Entries {
			if e.Director != nil {
				r.Directors = append(r.Directors, e.Director.Key())
				continue
			}
			if e.Email != "" {
				r.Directors = append(r.Directors, e.Email)
				continue
			}
			r.Directors = append(r.Directors, e.Name)
		}
	}
	return r
}
