package models

// QuotaPeriod defines the time window for a quota policy.
type QuotaPeriod string

const (
	QuotaDaily   QuotaPeriod = "daily"
	QuotaMonthly QuotaPeriod = "monthly"
)

// QuotaPolicy caps how many tracked events a user may generate per
// period. UserID "*" matches every user.
type QuotaPolicy struct {
	UserID    string      `json:"user_id" yaml:"user_id"`
	MaxEvents int64       `json:"max_events" yaml:"max_events"`
	Period    QuotaPeriod `json:"period" yaml:"period"`
}

// QuotaStatus shows current usage against a policy.
type QuotaStatus struct {
	Policy    QuotaPolicy `json:"policy"`
	Used      int64       `json:"used"`
	Remaining int64       `json:"remaining"`
}
