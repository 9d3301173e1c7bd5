package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// GenerateTicketID returns a random lowercase hex id for a new ticket.
func GenerateTicketID() (string, error) {
	byt := make([]byte, 8)

	if _, err := rand.Read(byt); err != nil {
		return "", err
	}

	return hex.EncodeToString(byt), nil
}

// GenerateCode returns an uppercase hex code, used for operator-visible
// reference codes.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)

	if _, err := rand.Read(byt); err != nil {
		return "", err
	}

	return strings.ToUpper(hex.EncodeToString(byt)), nil
}
