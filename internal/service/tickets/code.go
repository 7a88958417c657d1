package tickets

import (
	"crypto/rand"
	"fmt"
)

// Crockford base32 without I, L, O, U so codes survive being read aloud.
const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const codeLen = 8

func newTicketCode() (string, error) {
	var b [codeLen]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("ticket code: %w", err)
	}

	for i := range b {
		b[i] = crockford[b[i]&31]
	}

	return string(b[:]), nil
}
