package story

import (
	"errors"
	"fmt"
)

// ErrNoValidAttempts means no attempt produced usable content.
var ErrNoValidAttempts = errors.New("no valid story attempts")

// SelectBestStory picks the assessed attempt with the highest overall score.
// Ties go to the later attempt, since it incorporated more feedback. Without
// any assessment the first valid attempt is used. The returned pointer
// aliases attempts.
func SelectBestStory(attempts []GenerationAttempt) (*GenerationAttempt, int, string, error) {
	var best *GenerationAttempt
	for i := range attempts {
		a := &attempts[i]
		if a.Assessment == nil || !a.Valid() {
			continue
		}
		if best == nil || a.Assessment.OverallScore >= best.Assessment.OverallScore {
			best = a
		}
	}
	if best != nil {
		reason := fmt.Sprintf("highest quality score %d/10 across %d attempt(s)", best.Assessment.OverallScore, len(attempts))
		return best, best.AttemptNumber, reason, nil
	}

	for i := range attempts {
		if attempts[i].Valid() {
			return &attempts[i], attempts[i].AttemptNumber, "no assessment available; selected first valid attempt", nil
		}
	}
	return nil, 0, "", ErrNoValidAttempts
}
