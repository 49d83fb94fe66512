package polystore

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	docIDTimeLayout   = "20060102150405"
	fingerprintLength = 12

	// TablePrefix starts the name of every per-document SQL table
	TablePrefix = "json_data_"

	maxTableNameLength = 63
)

var docIDPattern = regexp.MustCompile(`^doc_[0-9]{14}_[0-9a-f]{12}$`)

// NewDocID derives the storage handle of a document submitted by owner at
// now. The fingerprint covers the owner and the canonical serialization of
// the document; the timestamp keeps resubmissions of the same content apart.
func NewDocID(owner string, doc Value, now time.Time) string {
	h := sha256.New()
	h.Write([]byte(owner))
	h.Write([]byte{0})
	h.Write([]byte(doc.String()))
	sum := hex.EncodeToString(h.Sum(nil))

	return "doc_" + now.UTC().Format(docIDTimeLayout) + "_" + sum[:fingerprintLength]
}

// SaltDocID derives a sibling of docID with the same timestamp and a
// fingerprint mixed with salt. The result is deterministic, so equal salts
// map to the same id.
func SaltDocID(docID, salt string) string {
	h := sha256.New()
	h.Write([]byte(docID))
	h.Write([]byte{0})
	h.Write([]byte(salt))
	sum := hex.EncodeToString(h.Sum(nil))

	cut := strings.LastIndexByte(docID, '_')
	if cut < 0 {
		return docID + "_" + sum[:fingerprintLength]
	}
	return docID[:cut+1] + sum[:fingerprintLength]
}

// IsValidDocID checks that s has the doc_<timestamp>_<fingerprint> form
func IsValidDocID(s string) bool {
	return docIDPattern.MatchString(s)
}

// NewObjectID generates a UUIDv7 (time-ordered) identifier for a NoSQL
// document
func NewObjectID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// IsValidObjectID checks if a string is a valid UUID
func IsValidObjectID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// TableName returns the SQL table that holds the rows of docID
func TableName(docID string) string {
	var b strings.Builder
	b.WriteString(TablePrefix)
	for _, r := range strings.ToLower(docID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	name := b.String()
	if len(name) > maxTableNameLength {
		name = name[:maxTableNameLength]
	}
	return name
}
