package dicom

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// MaxUIDLength is the longest UID the standard allows.
const MaxUIDLength = 64

// ValidateUID checks the UID syntax: at most 64 characters, dot separated
// numeric components, no empty component and no leading zero unless the
// component is the single digit "0".
func ValidateUID(uid string) error {
	if uid == "" {
		return fmt.Errorf("dicom: empty UID")
	}
	if len(uid) > MaxUIDLength {
		return fmt.Errorf("dicom: UID %q longer than %d characters", uid, MaxUIDLength)
	}
	for i, c := range strings.Split(uid, ".") {
		if c == "" {
			return fmt.Errorf("dicom: UID %q has empty component %d", uid, i)
		}
		for _, r := range c {
			if r < '0' || r > '9' {
				return fmt.Errorf("dicom: UID %q has non-digit %q", uid, r)
			}
		}
		if len(c) > 1 && c[0] == '0' {
			return fmt.Errorf("dicom: UID %q component %q has a leading zero", uid, c)
		}
	}
	return nil
}

// NewUID returns a random UID under the 2.25 arc (a UUID rendered as an integer).
func NewUID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	// RFC 4122 version 4, variant 1.
	b[6] = b[6]&0x0f | 0x40
	b[8] = b[8]&0x3f | 0x80
	return "2.25." + new(big.Int).SetBytes(b[:]).String(), nil
}
