package carrier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const DefaultSignatureTolerance = 5 * time.Minute

// SignatureVerifier checks HMAC-SHA256 webhook signatures. The signed payload
// is "<timestamp>.<body>". A signature over the bare body, without a
// timestamp, is accepted only after AllowMissingTimestamp(true): it can be
// replayed forever.
//
// With an empty secret it fails open and says so in the log on every call.
type SignatureVerifier struct {
	secret           []byte
	tolerance        time.Duration
	allowMissingTime bool
	now              func() time.Time
}

func NewSignatureVerifier(secret string, tolerance time.Duration) *SignatureVerifier {
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	return &SignatureVerifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (v *SignatureVerifier) WithClock(now func() time.Time) *SignatureVerifier {
	v.now = now
	return v
}

// AllowMissingTimestamp lets legacy senders sign the bare body.
func (v *SignatureVerifier) AllowMissingTimestamp(allow bool) *SignatureVerifier {
	v.allowMissingTime = allow
	return v
}

func (v *SignatureVerifier) FailOpen() bool {
	return len(v.secret) == 0
}

func (v *SignatureVerifier) Verify(rawBody []byte, signature, timestamp string) bool {
	if v.FailOpen() {
		slog.Warn("webhook secret is not configured, accepting unsigned webhook")
		return true
	}

	sig := strings.TrimSpace(signature)
	if sig == "" {
		return false
	}
	for _, p := range []string{"sha256=", "v1="} {
		sig = strings.TrimPrefix(sig, p)
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	ts := strings.TrimSpace(timestamp)
	if ts == "" && !v.allowMissingTime {
		return false
	}
	if ts != "" {
		if !v.timestampFresh(ts) {
			return false
		}
		mac.Write([]byte(ts))
		mac.Write([]byte("."))
	}
	mac.Write(rawBody)

	return hmac.Equal(got, mac.Sum(nil))
}

func (v *SignatureVerifier) timestampFresh(ts string) bool {
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	d := v.now().Sub(time.Unix(sec, 0))
	if d < 0 {
		d = -d
	}
	return d <= v.tolerance
}

// Sign produces the header value Verify expects. Used by the simulated
// carrier and by tests.
func Sign(secret string, rawBody []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	if timestamp != "" {
		mac.Write([]byte(timestamp))
		mac.Write([]byte("."))
	}
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}
