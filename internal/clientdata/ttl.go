package clientdata

import "time"

// TTL constants. These are added to time.Now() when storing to calculate expires_at.
const (
	// Daily closes only change once per trading day.
	TTLDataset = 24 * time.Hour
	// Datasets whose range ends in the past never change again.
	TTLClosedRange = 30 * 24 * time.Hour
)
