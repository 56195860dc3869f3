package models

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

type PageInfo struct {
	StartCursor string `json:"startCursor"`
	EndCursor   string `json:"endCursor"`
	HasNextPage *bool  `json:"hasNextPage,omitempty"`
}

// Cursors are opaque to clients: base64 over either a single key or a
// "sortKey|id" composite for tables whose sort key is not unique.

func DecodeCursor(cursor *string) (string, error) {
	if cursor == nil {
		return "", nil
	}
	b, err := base64.StdEncoding.DecodeString(*cursor)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeCompositeCursor is forgiving: a malformed cursor decodes to the zero
// cursor, which pages from the start instead of erroring.
func DecodeCompositeCursor(cursor *string) (string, int) {
	if cursor == nil || *cursor == "" {
		return "", 0
	}

	decoded, err := base64.StdEncoding.DecodeString(*cursor)
	if err != nil {
		return "", 0
	}

	parts := strings.Split(string(decoded), "|")
	if len(parts) != 2 {
		return "", 0
	}

	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0
	}

	return parts[0], id
}

func EncodeCursor(cursor string) string {
	return base64.StdEncoding.EncodeToString([]byte(cursor))
}

func EncodeCompositeCursor(sortKey string, id int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s|%d", sortKey, id)))
}
