package segment

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LeventeLantos/promo-dispatch/internal/model"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func sub() *model.Subscriber {
	engaged := now.Add(-48 * time.Hour)
	return &model.Subscriber{
		ID:             1,
		CreatedAt:      now.Add(-5 * 24 * time.Hour),
		LastEngagement: &engaged,
		Purchases:      0,
		Revenue:        decimal.NewFromFloat(19.99),
		AcqSource:      "facebook",
		AcqCampaign:    "spring",
	}
}

func TestMatches(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		rules string
		want  bool
	}{
		{"empty matches everyone", ``, true},
		{"null matches everyone", `null`, true},
		{"empty object matches everyone", `{}`, true},
		{"created within", `{"createdInLastDays":7}`, true},
		{"created too long ago", `{"createdInLastDays":3}`, false},
		{"purchased via revenue", `{"hasPurchased":true}`, true},
		{"not purchased", `{"hasPurchased":false}`, false},
		{"engaged", `{"isEngaged":true}`, true},
		{"source", `{"acqSource":"facebook"}`, true},
		{"wrong source", `{"acqSource":"google"}`, false},
		{"campaign", `{"acqCampaign":"spring"}`, true},
		{"all together", `{"createdInLastDays":30,"hasPurchased":true,"isEngaged":true,"acqSource":"facebook","acqCampaign":"spring"}`, true},
		{"one failing rule", `{"createdInLastDays":30,"acqCampaign":"fall"}`, false},
		{"invalid json fails closed", `{"createdInLastDays":`, false},
		{"wrong type fails closed", `{"hasPurchased":"yes"}`, false},
		{"unknown rule fails closed", `{"zodiac":"leo"}`, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := Compile(model.Segment{ID: 1, Rules: []byte(tc.rules)}, zap.NewNop())
			assert.Equal(t, tc.want, m.Matches(sub(), now))
		})
	}
}

func TestParse_BuildsTaggedRules(t *testing.T) {
	t.Parallel()

	rules, err := Parse([]byte(`{"createdInLastDays":3,"isEngaged":false,"acqSource":"x"}`))
	require.NoError(t, err)

	assert.Equal(t, []Rule{
		CreatedWithinDays{Days: 3},
		IsEngaged{Want: false},
		AcqSource{Value: "x"},
	}, rules)
}

func TestIsEngaged_NeverEngaged(t *testing.T) {
	t.Parallel()

	s := sub()
	s.LastEngagement = nil

	assert.True(t, IsEngaged{Want: false}.Match(s, now))
	assert.False(t, IsEngaged{Want: true}.Match(s, now))
}
