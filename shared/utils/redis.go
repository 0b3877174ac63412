package utils

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/suite33/backoffice/shared/models"
)

// ErrSessionNotFound is returned for unknown, revoked or expired sessions.
var ErrSessionNotFound = errors.New("session not found")

const (
	sessionKeyPrefix     = "session:"
	userSessionKeyPrefix = "user_sessions:"
)

// RedisConfig holds the session store connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	return client, nil
}

// SessionStore keeps opaque session tokens in Redis. Only a SHA-256 of the
// token is used as the key; the token itself is never stored.
type SessionStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewSessionStore creates a session store on top of client
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client, now: time.Now}
}

// NewSessionToken returns a random URL-safe token.
func NewSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken is the hex SHA-256 of token.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func sessionKey(token string) string {
	return sessionKeyPrefix + HashToken(token)
}

func userSessionsKey(userID uuid.UUID) string {
	return userSessionKeyPrefix + userID.String()
}

// Create stores a new session for identity under token.
func (s *SessionStore) Create(ctx context.Context, token string, identity models.UserIdentity, ttl time.Duration) (*models.TokenSession, error) {
	now := s.now()
	identity.SessionID = uuid.New().String()

	session := &models.TokenSession{
		Identity:   identity,
		CreatedAt:  now,
		LastUsedAt: now,
		ExpiresAt:  now.Add(ttl),
		SessionID:  identity.SessionID,
	}

	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	// user_sessions:<id> indexes the user's session keys for RevokeAllForUser.
	// It lives as long as the newest session; stale members are harmless.
	key := sessionKey(token)
	userKey := userSessionsKey(identity.UserID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, ttl)
		pipe.SAdd(ctx, userKey, key)
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store session in Redis: %w", err)
	}

	return session, nil
}

// Get loads the session for token.
func (s *SessionStore) Get(ctx context.Context, token string) (*models.TokenSession, error) {
	key := sessionKey(token)

	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	var session models.TokenSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	if session.IsExpired(s.now()) {
		s.client.Del(ctx, key)
		return nil, ErrSessionNotFound
	}

	return &session, nil
}

// Touch records that session, already loaded for token, was just used.
// The key keeps its TTL and is only written if it still exists, so a
// concurrent revoke is never undone.
func (s *SessionStore) Touch(ctx context.Context, token string, session *models.TokenSession) error {
	now := s.now()
	if session.IsExpired(now) {
		return ErrSessionNotFound
	}

	touched := *session
	touched.Touch(now)

	data, err := json.Marshal(&touched)
	if err != nil {
		return fmt.Errorf("failed to marshal updated session: %w", err)
	}

	ok, err := s.client.SetXX(ctx, sessionKey(token), data, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

// Revoke removes the session for token. Revoking an unknown token is not an error.
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, sessionKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser removes every session belonging to userID and returns
// how many were still live.
func (s *SessionStore) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	userKey := userSessionsKey(userID)

	keys, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list user sessions: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	var revoked *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		revoked = pipe.Del(ctx, keys...)
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user sessions: %w", err)
	}
	return int(revoked.Val()), nil
}
