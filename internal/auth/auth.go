package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

const signatureMaxAge = 5 * time.Minute

// SignBody computes the hex signature the gift pipeline attaches to an ingest
// request: HMAC-SHA256 over "<unix ts>.<body>" with a key derived from the
// shared ingest secret.
func SignBody(body []byte, ts int64, secret string) string {
	key := hmacSHA256([]byte("gift-ingest"), []byte(secret))
	msg := append([]byte(strconv.FormatInt(ts, 10)+"."), body...)
	return hex.EncodeToString(hmacSHA256(key, msg))
}

// ValidateBody checks an ingest request signature and its timestamp freshness.
func ValidateBody(body []byte, ts int64, signature, secret string) error {
	if signature == "" {
		return fmt.Errorf("missing signature")
	}
	if age := time.Since(time.Unix(ts, 0)); age > signatureMaxAge || age < -signatureMaxAge {
		return fmt.Errorf("signature expired")
	}
	expected := SignBody(body, ts, secret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// SignSession computes the token an overlay consumer presents to subscribe to
// a session's event stream.
func SignSession(sessionID string, ts int64, secret string) string {
	key := hmacSHA256([]byte("overlay-subscribe"), []byte(secret))
	msg := []byte(strconv.FormatInt(ts, 10) + "." + sessionID)
	return hex.EncodeToString(hmacSHA256(key, msg))
}

// ValidateSession checks an overlay subscribe token.
func ValidateSession(sessionID string, ts int64, token, secret string) error {
	if token == "" {
		return fmt.Errorf("missing token")
	}
	if age := time.Since(time.Unix(ts, 0)); age > signatureMaxAge || age < -signatureMaxAge {
		return fmt.Errorf("token expired")
	}
	expected := SignSession(sessionID, ts, secret)
	if !hmac.Equal([]byte(expected), []byte(token)) {
		return fmt.Errorf("token mismatch")
	}
	return nil
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
