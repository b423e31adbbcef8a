package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseChunkID splits a "{baseID}:{chunkIndex}" identifier into its parts.
// Base IDs may themselves contain colons (e.g. "repo:path/file.py"), so the
// chunk index is taken from the substring after the last colon and must parse
// as a non-negative integer.
// Returns ErrInvalidChunkID if the identifier has no colon or an empty base,
// and ErrInvalidChunkIndex if the index part is not a non-negative integer.
func ParseChunkID(chunkID string) (string, int, error) {
	sep := strings.LastIndex(chunkID, ":")
	if sep <= 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidChunkID, chunkID)
	}

	baseID := chunkID[:sep]
	indexPart := chunkID[sep+1:]

	index, err := strconv.Atoi(indexPart)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidChunkIndex, indexPart)
	}
	if index < 0 {
		return "", 0, fmt.Errorf("%w: %d is negative", ErrInvalidChunkIndex, index)
	}

	return baseID, index, nil
}

// FormatChunkID is the inverse of ParseChunkID.
func FormatChunkID(baseID string, chunkIndex int) string {
	return baseID + ":" + strconv.Itoa(chunkIndex)
}
