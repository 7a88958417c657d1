package credential

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// tagSize is the length of the keyed BLAKE3 tag appended to every payload.
const tagSize = 32

// minRawSize is version byte + at least one byte of claims + tag.
const minRawSize = 1 + 1 + tagSize

var (
	// ErrInvalidCredential is returned for any payload that is malformed,
	// signed with an unknown key, or fails tag verification.
	ErrInvalidCredential = errors.New("credential: invalid credential")

	// ErrEventMismatch is returned by DecodeForEvent when an authentic
	// credential was issued for a different event. It also matches
	// ErrInvalidCredential.
	ErrEventMismatch = fmt.Errorf("%w: issued for another event", ErrInvalidCredential)
)

var payloadEncoding = base64.RawURLEncoding.Strict()

// Claims is what an authentic payload asserts.
type Claims struct {
	TicketID uuid.UUID
	EventID  int64
	IssuedAt time.Time
	// KeyVersion is the keyring version that authenticated the payload.
	KeyVersion uint8
}

type wireClaims struct {
	TicketID []byte `cbor:"1,keyasint"`
	EventID  int64  `cbor:"2,keyasint"`
	IssuedAt int64  `cbor:"3,keyasint"`
}

type Codec struct {
	keys    *Keyring
	encMode cbor.EncMode
	decMode cbor.DecMode
}

func New(keys *Keyring) (*Codec, error) {
	const op = "credential.New"

	if keys == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNoKeys)
	}

	encMode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	decMode, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Codec{keys: keys, encMode: encMode, decMode: decMode}, nil
}

// Encode mints the payload for a ticket with the active key. issuedAt is
// carried with second precision.
func (c *Codec) Encode(ticketID uuid.UUID, eventID int64, issuedAt time.Time) (string, error) {
	const op = "credential.Codec.Encode"

	if ticketID == uuid.Nil {
		return "", fmt.Errorf("%s: nil ticket id", op)
	}

	body, err := c.encMode.Marshal(wireClaims{
		TicketID: ticketID[:],
		EventID:  eventID,
		IssuedAt: issuedAt.Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	version := c.keys.Active()
	key, _ := c.keys.key(version)

	raw := make([]byte, 0, 1+len(body)+tagSize)
	raw = append(raw, version)
	raw = append(raw, body...)

	tag, err := computeTag(key, raw)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	raw = append(raw, tag...)

	return payloadEncoding.EncodeToString(raw), nil
}

// Decode authenticates a payload and returns its claims.
func (c *Codec) Decode(payload string) (Claims, error) {
	raw, err := payloadEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: not base64url", ErrInvalidCredential)
	}

	if len(raw) < minRawSize {
		return Claims{}, fmt.Errorf("%w: too short", ErrInvalidCredential)
	}

	version := raw[0]
	key, ok := c.keys.key(version)
	if !ok {
		return Claims{}, fmt.Errorf("%w: unknown key version %d", ErrInvalidCredential, version)
	}

	split := len(raw) - tagSize
	signed, tag := raw[:split], raw[split:]

	want, err := computeTag(key, signed)
	if err != nil {
		return Claims{}, fmt.Errorf("credential.Codec.Decode: %w", err)
	}
	if subtle.ConstantTimeCompare(want, tag) != 1 {
		return Claims{}, fmt.Errorf("%w: tag mismatch", ErrInvalidCredential)
	}

	var wc wireClaims
	if err := c.decMode.Unmarshal(signed[1:], &wc); err != nil {
		return Claims{}, fmt.Errorf("%w: malformed claims", ErrInvalidCredential)
	}

	ticketID, err := uuid.FromBytes(wc.TicketID)
	if err != nil || ticketID == uuid.Nil {
		return Claims{}, fmt.Errorf("%w: bad ticket id", ErrInvalidCredential)
	}

	return Claims{
		TicketID:   ticketID,
		EventID:    wc.EventID,
		IssuedAt:   time.Unix(wc.IssuedAt, 0).UTC(),
		KeyVersion: version,
	}, nil
}

// DecodeForEvent is Decode plus a check that the credential belongs to the
// gate's event.
func (c *Codec) DecodeForEvent(payload string, eventID int64) (Claims, error) {
	claims, err := c.Decode(payload)
	if err != nil {
		return Claims{}, err
	}

	if claims.EventID != eventID {
		return claims, ErrEventMismatch
	}

	return claims, nil
}

// PayloadHash returns the hex SHA-256 of a raw scanned payload. It is stored
// with every check-in record so rejected scans stay traceable.
func PayloadHash(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func computeTag(key, msg []byte) ([]byte, error) {
	h, err := blake3.NewKeyed(key)
	if err != nil {
		return nil, err
	}
	_, _ = h.Write(msg)
	return h.Sum(nil), nil
}
