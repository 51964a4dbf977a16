package utils

import "github.com/google/uuid"

// GenerateID returns a random identifier, used for subscription
// registrations and backfill run tags.
func GenerateID() string {
	return uuid.NewString()
}
