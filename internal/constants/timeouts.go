package constants

import "time"

// Shared duration vocabulary used by timeouts and key lifetimes.
// Keep these centralized to simplify system-wide timing tuning.
const (
	Duration1Second   = 1 * time.Second
	Duration5Seconds  = 5 * time.Second
	Duration10Seconds = 10 * time.Second
	Duration30Seconds = 30 * time.Second
	Duration60Seconds = 60 * time.Second

	Duration2Minutes = 2 * time.Minute
	Duration5Minutes = 5 * time.Minute
)

// Domain-level timeout constants.
const (
	RegistryRequestTimeout = Duration30Seconds
	KeyFetchTimeout        = Duration10Seconds
	ObjectFetchTimeout     = Duration5Minutes

	// KeyExpirySafetyMargin is subtracted from the server-declared key
	// lifetime so a key is never used after the registry may have dropped it.
	KeyExpirySafetyMargin = Duration60Seconds

	StoreOpenTimeout = Duration5Seconds
)
