package rpc

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AuthTokenLength is the length of auth tokens in bytes.
const AuthTokenLength = 32

// authParams is the request for "auth".
type authParams struct {
	Token string `json:"token"`
}

// loadOrCreateToken reads the hex token at path. A missing or malformed file
// is replaced by a freshly generated token readable only by the owner.
func loadOrCreateToken(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		token, decErr := hex.DecodeString(strings.TrimSpace(string(data)))
		if decErr == nil && len(token) == AuthTokenLength {
			log.WithField("path", path).Debug("loaded existing auth token")
			return token, nil
		}
		log.WithField("path", path).Warn("invalid auth token file, regenerating")
	}

	token := make([]byte, AuthTokenLength)
	if _, err := rand.Read(token); err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating auth dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(token)), 0o600); err != nil {
		return nil, fmt.Errorf("writing token: %w", err)
	}

	log.WithField("path", path).Info("generated new auth token")
	return token, nil
}

// verifyToken checks the params of an "auth" request against want.
func verifyToken(want []byte, params json.RawMessage) *Error {
	var p authParams
	if err := json.Unmarshal(params, &p); err != nil || p.Token == "" {
		return ErrInvalidParams("token required")
	}
	got, err := hex.DecodeString(p.Token)
	if err != nil {
		return ErrInvalidParams("invalid token format")
	}
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrPermissionDenied("invalid token")
	}
	return nil
}
