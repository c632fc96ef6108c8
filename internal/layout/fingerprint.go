package layout

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"git.home.luguber.info/inful/dashrender/internal/foundation/errors"
)

// Fingerprint is the hex SHA-256 of a layout's canonical encoding.
type Fingerprint string

// Short returns a prefix suitable for logs.
func (f Fingerprint) Short() string {
	if len(f) > 12 {
		return string(f[:12])
	}
	return string(f)
}

// ComputeFingerprint hashes the canonical JSON form of a normalized layout.
// Struct fields encode in declaration order and layouts hold no maps, so the
// encoding is stable regardless of source format or key order on disk.
func ComputeFingerprint(l *Layout) (Fingerprint, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return "", errors.InternalError("failed to encode layout for fingerprint").WithCause(err).Build()
	}
	sum := sha256.Sum256(data)
	return Fingerprint(hex.EncodeToString(sum[:])), nil
}
