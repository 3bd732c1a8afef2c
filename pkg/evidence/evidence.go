// Package evidence derives stable references for proof attachments. A
// reference is content-addressed, so re-submitting the same attachment always
// yields the same ref and the stored record can be checked against the bytes
// later.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Ref returns the content-addressed reference for raw attachment bytes.
func Ref(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// CanonicalRef hashes the canonical JSON encoding of v. Structured evidence
// (a list of links, a form payload) goes through here so key order in the
// original request cannot change the ref.
func CanonicalRef(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return Ref(b), nil
}
