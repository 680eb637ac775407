package service

import (
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const idPrefix = "DLV"

// IDPattern matches generated delivery identifiers.
var IDPattern = regexp.MustCompile(`^DLV[0-9A-F]{10}$`)

// NewDeliveryID returns a random identifier such as DLV3F9A0B12CD.
// The leading bytes of a v4 UUID are fully random.
func NewDeliveryID() string {
	u := uuid.New()
	return idPrefix + strings.ToUpper(hex.EncodeToString(u[:5]))
}
