// Package webhook implements signed change-notification delivery: Stripe-style
// HMAC signatures with replay protection and rotation grace, plus the HTTP
// deliverer with its bounded retry schedule.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultToleranceSeconds is the replay protection window.
const DefaultToleranceSeconds = 300

// Signer produces and verifies webhook signature headers of the form
// "t={unix_seconds},v1={hex(HMAC_SHA256(secret, t.body))}".
type Signer struct {
	toleranceSeconds int64
	now              func() time.Time
}

// NewSigner creates a Signer with the given replay tolerance in seconds;
// zero or negative falls back to the default 300s window.
func NewSigner(toleranceSeconds int) *Signer {
	if toleranceSeconds <= 0 {
		toleranceSeconds = DefaultToleranceSeconds
	}
	return &Signer{
		toleranceSeconds: int64(toleranceSeconds),
		now:              time.Now,
	}
}

// Sign generates the signature header for a payload, using the current time.
func (s *Signer) Sign(payload []byte, secret string) (header string, timestamp int64) {
	return s.SignAt(payload, secret, s.now().Unix())
}

// SignAt generates the signature header for a payload at a fixed timestamp.
func (s *Signer) SignAt(payload []byte, secret string, timestamp int64) (string, int64) {
	sig := computeSignature(payload, secret, timestamp)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, sig), timestamp
}

// Verify checks a signature header against a payload and secret. A false
// result carries a human-readable reason.
func (s *Signer) Verify(payload []byte, header, secret string) (bool, string) {
	timestamp, received, err := parseHeader(header)
	if err != nil {
		log.Warn().Err(err).Msg("failed to parse webhook signature header")
		return false, "malformed signature header: " + err.Error()
	}

	diff := s.now().Unix() - timestamp
	if diff < 0 {
		diff = -diff
	}
	if diff > s.toleranceSeconds {
		return false, fmt.Sprintf("signature timestamp too old (diff: %ds, max: %ds)", diff, s.toleranceSeconds)
	}

	expected := computeSignature(payload, secret, timestamp)
	if !hmac.Equal([]byte(expected), []byte(received)) {
		return false, "signature verification failed"
	}
	return true, ""
}

// VerifyWithRotation tries the current secret first, then the previous one
// if set. During a rotation grace period both verify successfully.
func (s *Signer) VerifyWithRotation(payload []byte, header, currentSecret string, previousSecret *string) (bool, string) {
	ok, reason := s.Verify(payload, header, currentSecret)
	if ok {
		return true, ""
	}
	if previousSecret != nil && *previousSecret != "" {
		if ok, _ := s.Verify(payload, header, *previousSecret); ok {
			log.Info().Msg("webhook verified with previous secret during rotation")
			return true, ""
		}
	}
	return false, reason
}

func computeSignature(payload []byte, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseHeader(header string) (timestamp int64, signature string, err error) {
	var timestampStr string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestampStr = value
		case "v1":
			signature = value
		}
	}

	if timestampStr == "" || signature == "" {
		return 0, "", fmt.Errorf("missing t or v1")
	}
	timestamp, err = strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid timestamp: %w", err)
	}
	return timestamp, signature, nil
}
