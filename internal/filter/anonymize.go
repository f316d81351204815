package filter

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// Anonymizer replaces author names with pseudonyms that are stable within
// one job but meaningless outside it. The key is random per job and never
// persisted, so the mapping cannot be reversed after the run.
type Anonymizer struct {
	key []byte
}

func NewAnonymizer() *Anonymizer {
	key := make([]byte, 16)
	_, _ = rand.Read(key)
	return &Anonymizer{key: key}
}

// Pseudonym maps a username to "user_<12 hex chars>". Repeated authors get
// the same token, keeping them linkable inside the job's dataset.
func (a *Anonymizer) Pseudonym(username string) string {
	if username == "" || username == "[deleted]" {
		return username
	}
	mac := hmac.New(sha256.New, a.key)
	mac.Write([]byte(username))
	return "user_" + hex.EncodeToString(mac.Sum(nil))[:12]
}
