package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
)

// FusedKey computes the claim digest the game client sends as fusedKey:
// sha256(nonce || secret || score || fid) as lowercase hex. Absent score or
// fid contribute an empty string. Field order must match the client.
func FusedKey(nonce, secret string, score, fid *int64) string {
	var b strings.Builder
	b.WriteString(nonce)
	b.WriteString(secret)
	if score != nil {
		b.WriteString(strconv.FormatInt(*score, 10))
	}
	if fid != nil {
		b.WriteString(strconv.FormatInt(*fid, 10))
	}

	h := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(h[:])
}

// VerifyFusedKey recomputes the digest and compares it in constant time.
// Any malformed candidate simply fails.
func VerifyFusedKey(candidate, nonce, secret string, score, fid *int64) bool {
	candidate = strings.ToLower(strings.TrimSpace(candidate))
	if len(candidate) != hex.EncodedLen(sha256.Size) {
		return false
	}

	expected := FusedKey(nonce, secret, score, fid)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) == 1
}
