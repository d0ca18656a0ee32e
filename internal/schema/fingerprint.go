package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Fingerprint is the hex digest that identifies a scan for deduplication.
type Fingerprint string

// String implements fmt.Stringer.
func (f Fingerprint) String() string {
	return string(f)
}

// Short returns the first 12 characters, enough for log lines.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// fingerprintSep joins the identity fields. The unit separator never appears
// in scanner output.
const fingerprintSep = "\x1f"

// FingerprintOf digests first name, last name, license number and scanner
// timestamp as they appear in the scanned row. Absent fields contribute an
// empty string. Values the transformer filled in (a generated license, a
// processing-time timestamp) are left out so the same row always yields the
// same fingerprint.
func FingerprintOf(c *Customer) Fingerprint {
	license := Deref(c.LicenseNo)
	if c.LicenseGenerated {
		license = ""
	}

	var ts string
	switch {
	case c.ScannerTimeFallback:
		ts = "raw:" + c.ScannerTimeRaw
	case !c.ScannerCreatedAt.IsZero():
		ts = c.ScannerCreatedAt.UTC().Format(time.RFC3339)
	}

	key := strings.Join([]string{
		Deref(c.FirstName),
		Deref(c.LastName),
		license,
		ts,
	}, fingerprintSep)

	sum := sha256.Sum256([]byte(key))
	return Fingerprint(hex.EncodeToString(sum[:]))
}
