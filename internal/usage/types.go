package usage

import "encoding/json"

// Response is the raw body of the OAuth usage endpoint. Buckets are kept as
// raw JSON so one malformed bucket degrades alone instead of failing the
// whole response.
type Response struct {
	FiveHour       json.RawMessage `json:"five_hour"`
	SevenDay       json.RawMessage `json:"seven_day"`
	SevenDaySonnet json.RawMessage `json:"seven_day_sonnet"`
	SevenDayOpus   json.RawMessage `json:"seven_day_opus"`
	ExtraUsage     json.RawMessage `json:"extra_usage"`
}

// Bucket is a single rate-limit window.
// Utilization can be int, float, or string, so it stays raw until parsed.
type Bucket struct {
	Utilization json.RawMessage `json:"utilization"`
	ResetsAt    *string         `json:"resets_at"`
}

// ExtraUsage is paid overage. Credit amounts are in minor currency units.
type ExtraUsage struct {
	IsEnabled    bool     `json:"is_enabled"`
	UsedCredits  *float64 `json:"used_credits"`
	MonthlyLimit *float64 `json:"monthly_limit"`
	Utilization  *float64 `json:"utilization"`
}
