package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/spinneyio/lambdaconnect-go/internal/models"
)

// Hash computes the SHA-256 of the canonical JSON form of a storage
// schema. Table and index order is already canonical after Translate,
// so re-translating an identical document yields an identical hash.
func Hash(storage *models.StorageSchema) (string, error) {
	data, err := json.Marshal(storage)
	if err != nil {
		return "", fmt.Errorf("marshal storage schema: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
