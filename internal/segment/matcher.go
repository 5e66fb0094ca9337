package segment

import (
	"time"

	"go.uber.org/zap"

	"github.com/LeventeLantos/promo-dispatch/internal/model"
)

// Matcher is a compiled segment. A segment whose rules failed to parse
// matches nobody.
type Matcher struct {
	rules   []Rule
	invalid bool
}

// Compile parses seg's rules once so a run can evaluate them per subscriber.
func Compile(seg model.Segment, logger *zap.Logger) *Matcher {
	rules, err := Parse(seg.Rules)
	if err != nil {
		logger.Error("segment rules rejected, segment matches nobody",
			zap.Int64("segment_id", seg.ID),
			zap.String("segment", seg.Name),
			zap.Error(err),
		)
		return &Matcher{invalid: true}
	}
	return &Matcher{rules: rules}
}

func (m *Matcher) Matches(s *model.Subscriber, now time.Time) bool {
	if m.invalid {
		return false
	}
	for _, r := range m.rules {
		if !r.Match(s, now) {
			return false
		}
	}
	return true
}
