package models

import "time"

// QuotaState is the process-wide origin API budget and credential pool.
type QuotaState struct {
	RemainingCalls    int       `json:"remainingCalls"`
	ResetAt           time.Time `json:"resetAt"`
	KeyPool           []string  `json:"keyPool"` // obfuscated
	NextPoolRefreshAt time.Time `json:"nextPoolRefreshAt"`
}
