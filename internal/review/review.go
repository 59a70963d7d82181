// Package review parks fraud-blocked transfers for operator approval. Each
// case is guarded by a single-use approval token: cryptographically random,
// stored only as a bcrypt hash, and expiring with the case itself through the
// Redis TTL. Expiry is guaranteed by the store, not by in-process timers.
package review

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const casePrefix = "review:v1:"

var (
	// ErrCaseExpired covers both unknown and timed-out cases; the two are
	// indistinguishable once the TTL fires.
	ErrCaseExpired = errors.New("review case expired or unknown")

	// ErrInvalidToken indicates the presented approval token does not match.
	ErrInvalidToken = errors.New("invalid approval token")
)

// Case captures a blocked transfer awaiting manual approval.
type Case struct {
	ID           string    `json:"id"`
	FromWalletID string    `json:"from_wallet_id"`
	ToWalletID   string    `json:"to_wallet_id"`
	Amount       int64     `json:"amount"`
	ClientTxID   string    `json:"client_tx_id"`
	Principal    string    `json:"principal"`
	RiskScore    int       `json:"risk_score"`
	CreatedAt    time.Time `json:"created_at"`
}

type storedCase struct {
	Case      Case   `json:"case"`
	TokenHash []byte `json:"token_hash"`
}

// Service issues and redeems review cases backed by Redis.
type Service struct {
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewService builds a review service. ttl bounds how long a case stays
// approvable.
func NewService(cache *redis.Client, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{cache: cache, ttl: ttl, logger: logger}
}

// Open parks the case and returns the plaintext approval token. The token is
// shown exactly once; only its bcrypt hash is stored.
func (s *Service) Open(ctx context.Context, c Case) (Case, string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return Case{}, "", fmt.Errorf("generate approval token: %w", err)
	}
	token := hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return Case{}, "", err
	}

	payload, err := json.Marshal(storedCase{Case: c, TokenHash: hash})
	if err != nil {
		return Case{}, "", err
	}
	if err := s.cache.Set(ctx, casePrefix+c.ID, payload, s.ttl).Err(); err != nil {
		return Case{}, "", fmt.Errorf("persist review case: %w", err)
	}

	s.logger.Info("review case opened", "case_id", c.ID, "principal", c.Principal, "risk_score", c.RiskScore)
	return c, token, nil
}

// Redeem validates the token and consumes the case. A case can be redeemed at
// most once; a second attempt fails with ErrCaseExpired.
func (s *Service) Redeem(ctx context.Context, caseID, token string) (Case, error) {
	key := casePrefix + caseID
	payload, err := s.cache.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Case{}, ErrCaseExpired
	}
	if err != nil {
		return Case{}, err
	}

	var stored storedCase
	if err := json.Unmarshal(payload, &stored); err != nil {
		return Case{}, fmt.Errorf("decode review case %s: %w", caseID, err)
	}

	if err := bcrypt.CompareHashAndPassword(stored.TokenHash, []byte(token)); err != nil {
		return Case{}, ErrInvalidToken
	}

	if err := s.cache.Del(ctx, key).Err(); err != nil {
		return Case{}, err
	}

	s.logger.Info("review case approved", "case_id", caseID)
	return stored.Case, nil
}
