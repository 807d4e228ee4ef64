// internal/reconciler/signature.go
package reconciler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	commonerrors "summarybot/internal/common/errors"
)

// SignatureHeader is the HTTP header carrying the webhook signature,
// formatted as "t=<unix-ts>,v1=<hex-hmac>".
const SignatureHeader = "X-Billing-Signature"

// Verifier authenticates webhook payloads with HMAC-SHA256 over the
// timestamped payload. The timestamp bound rejects replays of old captures.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Verifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Sign produces a header value for payload at time ts. Exported for tests and
// for the local event injection tool.
func (v *Verifier) Sign(payload []byte, ts time.Time) string {
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), v.digest(payload, ts.Unix()))
}

// Verify checks the signature header against the raw payload. Any parse
// failure, digest mismatch, or out-of-tolerance timestamp fails verification.
func (v *Verifier) Verify(header string, payload []byte) error {
	var (
		tsRaw  string
		sigHex string
	)
	for _, part := range strings.Split(header, ",") {
		key, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			tsRaw = val
		case "v1":
			sigHex = val
		}
	}
	if tsRaw == "" || sigHex == "" {
		return commonerrors.NewEventAuthenticationFailedError("signature header missing t or v1 element")
	}

	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return commonerrors.NewEventAuthenticationFailedError("signature timestamp is not an integer")
	}

	age := v.now().Sub(time.Unix(ts, 0))
	if age > v.tolerance || age < -v.tolerance {
		return commonerrors.NewEventAuthenticationFailedError("signature timestamp outside tolerance")
	}

	expected := v.digest(payload, ts)
	if !hmac.Equal([]byte(expected), []byte(sigHex)) {
		return commonerrors.NewEventAuthenticationFailedError("signature digest mismatch")
	}
	return nil
}

func (v *Verifier) digest(payload []byte, ts int64) string {
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
