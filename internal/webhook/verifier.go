package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"
)

// Tolerance bounds replay exposure: events older or newer than this are
// rejected outright.
const Tolerance = 5 * time.Minute

// Verifier authenticates provider webhook callbacks. The provider signs
// "id.timestamp.payload" with HMAC-SHA256 and sends the digest base64
// encoded (base64 is the one encoding this verifier accepts). The secret
// may carry the provider's "whsec_" prefix, in which case the remainder is
// base64-decoded to get the raw key.
type Verifier struct {
	secret string
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret, now: time.Now}
}

// Verify returns true iff the timestamp is within tolerance of now and any
// of the space-separated "v1,<sig>" candidates matches the recomputed
// signature. It fails closed: any parse or decode problem yields false.
func (v *Verifier) Verify(payload []byte, id, timestamp, signature string) bool {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := v.now().Sub(time.Unix(ts, 0))
	if age > Tolerance || age < -Tolerance {
		return false
	}

	key, err := signingKey(v.secret)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id + "." + timestamp + "."))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, candidate := range strings.Fields(signature) {
		sig, ok := strings.CutPrefix(candidate, "v1,")
		if !ok {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}

func signingKey(secret string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(secret, "whsec_"); ok {
		return base64.StdEncoding.DecodeString(rest)
	}
	return []byte(secret), nil
}
