package credential

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// KeySize is the required length of a credential key in bytes.
const KeySize = 32

var ErrNoKeys = errors.New("credential: keyring has no keys")

// Keyring is the set of key versions accepted when decoding, plus the one
// used for encoding. It is immutable after construction.
type Keyring struct {
	active uint8
	keys   map[uint8][]byte
}

func NewKeyring(active uint8, keys map[uint8][]byte) (*Keyring, error) {
	const op = "credential.NewKeyring"

	if len(keys) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNoKeys)
	}

	cp := make(map[uint8][]byte, len(keys))
	for v, k := range keys {
		if len(k) != KeySize {
			return nil, fmt.Errorf("%s: key version %d must be %d bytes, got %d", op, v, KeySize, len(k))
		}
		cp[v] = append([]byte(nil), k...)
	}

	if _, ok := cp[active]; !ok {
		return nil, fmt.Errorf("%s: active version %d not in keyring", op, active)
	}

	return &Keyring{active: active, keys: cp}, nil
}

// ParseKeyring parses "version:hexkey" pairs separated by commas, e.g.
// "1:0a1b...,2:ff00...".
func ParseKeyring(list string, active uint8) (*Keyring, error) {
	const op = "credential.ParseKeyring"

	keys := make(map[uint8][]byte)
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		ver, hexKey, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("%s: entry %q is not version:key", op, part)
		}

		v, err := strconv.ParseUint(strings.TrimSpace(ver), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%s: bad version %q: %w", op, ver, err)
		}

		key, err := hex.DecodeString(strings.TrimSpace(hexKey))
		if err != nil {
			return nil, fmt.Errorf("%s: bad key for version %d: %w", op, v, err)
		}

		if _, dup := keys[uint8(v)]; dup {
			return nil, fmt.Errorf("%s: version %d listed twice", op, v)
		}
		keys[uint8(v)] = key
	}

	return NewKeyring(active, keys)
}

func (k *Keyring) Active() uint8 { return k.active }

// Versions returns the accepted versions in ascending order.
func (k *Keyring) Versions() []uint8 {
	out := make([]uint8, 0, len(k.keys))
	for v := range k.keys {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (k *Keyring) key(version uint8) ([]byte, bool) {
	key, ok := k.keys[version]
	return key, ok
}
