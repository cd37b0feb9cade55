// Package checksum computes the identity fingerprint of a managed trigger.
//
// The fingerprint is the basis for drift comparison: two triggers with
// identical defining attributes must hash identically, and any change to
// any attribute must change the hash. The encoding is an internal contract
// (version 1); stored checksums are invalidated if it ever changes.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Version identifies the fingerprint encoding. Bump on any change to the
// field order or framing below.
const Version = 1

// Compute returns the hex SHA-256 fingerprint of a trigger's defining
// attributes. Nil-able inputs (functionBody, condition) are passed as empty
// strings. Each field is framed as "<len>:<value>" before hashing so that
// adjacent fields can never collide by shifting bytes between them
// (e.g. ("ab","c") vs ("a","bc")).
func Compute(triggerName, tableName string, version int, functionBody, condition string) string {
	h := sha256.New()
	writeField(h, triggerName)
	writeField(h, tableName)
	writeField(h, strconv.Itoa(version))
	writeField(h, functionBody)
	writeField(h, condition)
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h interface{ Write(p []byte) (int, error) }, field string) {
	fmt.Fprintf(h, "%d:%s", len(field), field)
}
