package model

// BrandSettings is the per-brand pacing of a run.
type BrandSettings struct {
	DailyLimit int    `json:"dailyLimit"`
	Schedule   string `json:"schedule"`
}

// RunConfig is the persisted operator configuration, snapshotted once per
// run and passed by value.
type RunConfig struct {
	SendingEnabled bool
	TestMode       bool
	TestNumbers    []string

	Brands map[Brand]BrandSettings

	MinIntervalMinutes      int
	EngagementWindowEnabled bool
	EngagementWindowDays    int

	GlobalDailyCap int
	DryRunMode     bool

	SourceListID    string
	QueueMinID      int64
	SyncSkip        int
	ActiveSegmentID int64

	Provider string
}

const (
	DefaultDailyLimit           = 2
	DefaultEngagementWindowDays = 90
)

// DailyLimit falls back to DefaultDailyLimit when the brand has no limit set.
func (c RunConfig) DailyLimit(b Brand) int {
	if bs, ok := c.Brands[b]; ok && bs.DailyLimit > 0 {
		return bs.DailyLimit
	}
	return DefaultDailyLimit
}

func (c RunConfig) Schedule(b Brand) string {
	return c.Brands[b].Schedule
}

func (c RunConfig) WindowDays() int {
	if c.EngagementWindowDays > 0 {
		return c.EngagementWindowDays
	}
	return DefaultEngagementWindowDays
}
