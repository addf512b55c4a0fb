// Package state persists the CLI's login between runs.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenState is the saved access token plus the identity the server
// resolved it to.
type TokenState struct {
	AccessToken   string    `json:"access_token"`
	ParticipantID string    `json:"participant_id,omitempty"`
	TeamID        string    `json:"team_id,omitempty"`
	Role          string    `json:"role,omitempty"`
	VerifiedAt    time.Time `json:"verified_at,omitempty"`

	// LastQuestionID is reopened on start.
	LastQuestionID string `json:"last_question_id,omitempty"`
}

func (s TokenState) Identified() bool {
	return s.AccessToken != "" && s.ParticipantID != ""
}

// ExpiresAt reads the exp claim without verifying the signature.
func (s TokenState) ExpiresAt() (time.Time, bool) {
	if s.AccessToken == "" {
		return time.Time{}, false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, &claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Load returns the zero state when path does not exist.
func Load(path string) (TokenState, error) {
	var st TokenState
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return st, nil
	case err != nil:
		return st, fmt.Errorf("read token state: %w", err)
	case len(data) == 0:
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse token state %s: %w", path, err)
	}
	return st, nil
}

// Save replaces path atomically.
func Save(path string, st TokenState) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token state dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("create temp token state: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write token state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write token state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace token state: %w", err)
	}
	return nil
}

func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove token state: %w", err)
	}
	return nil
}
