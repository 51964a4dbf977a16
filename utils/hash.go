package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// PredictionHash derives the deterministic identifier for a prediction from
// its natural key. Duplicate event deliveries hash to the same value, which
// the predictions table enforces as unique.
func PredictionHash(index, matchID uint64, contractAddress string) string {
	key := fmt.Sprintf("%d_%d_%s", index, matchID, strings.ToLower(contractAddress))
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
