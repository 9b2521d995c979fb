package tokencache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/stocksync_backend/config"
	"github.com/dgrijalva/jwt-go"
	"github.com/sirupsen/logrus"
)

// The token feeder (a separate process at the ERP side) pushes one JSON
// entry per tenant into this shared list. This service only reads.
const (
	tokensListKey = "tokens:mm"
	lastSyncKey   = "tokens:mm:last_sync"
	statsCacheKey = "tokens:mm:stats"

	refreshInterval = 30 * time.Minute
	statsCacheTTL   = time.Minute
)

// TenantToken is one entry of the shared token list.
type TenantToken struct {
	EmpId int    `json:"empId"`
	Token string `json:"token"`
}

// TokenStatus is the decoded, unverified view of one bearer token.
type TokenStatus struct {
	IsValid   bool   `json:"isValid"`
	EmpId     int    `json:"empId"`
	ExpiresAt string `json:"expiresAt,omitempty"`
	Terminal  string `json:"terminal,omitempty"`
}

// TokenStats summarizes the cached token list for the dashboard.
type TokenStats struct {
	Total     int   `json:"total"`
	Valid     int   `json:"valid"`
	Expired   int   `json:"expired"`
	Companies []int `json:"companies"`
}

// SyncStatus reports the token refresh bookkeeping.
type SyncStatus struct {
	LastSync    *time.Time `json:"lastSync"`
	NextSync    *time.Time `json:"nextSync"`
	IsRunning   bool       `json:"isRunning"`
	TokensCount int        `json:"tokensCount"`
	Errors      []string   `json:"errors"`
}

// Service reads tenant bearer tokens from the shared Redis list and
// keeps the last-refresh timestamp. It never writes tokens itself.
type Service struct {
	logger *logrus.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
}

func NewService(logger *logrus.Logger) *Service {
	return &Service{logger: logger}
}

// GetTokens loads every tenant token from the shared list. Entries that
// fail to parse are skipped with a log line; a Redis failure is fatal.
func (s *Service) GetTokens(ctx context.Context) ([]TenantToken, error) {
	raw, err := config.GetRedisListRange(ctx, tokensListKey, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant tokens: %w", err)
	}

	tokens := make([]TenantToken, 0, len(raw))
	for _, entry := range raw {
		var token TenantToken
		if err := json.Unmarshal([]byte(entry), &token); err != nil {
			s.logger.Warn("skipping unparsable token entry: ", err.Error())
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

// TokenMap returns the token table keyed by tenant id, ready for the
// catalog client. Later entries win on duplicate tenant ids.
func (s *Service) TokenMap(ctx context.Context) (map[int]string, error) {
	tokens, err := s.GetTokens(ctx)
	if err != nil {
		return nil, err
	}
	table := make(map[int]string, len(tokens))
	for _, token := range tokens {
		table[token.EmpId] = token.Token
	}
	return table, nil
}

// DecodeToken decodes the JWT payload without verifying the signature;
// the ERP owns signing, this side only needs expiry and tenant info.
func DecodeToken(token string) TokenStatus {
	parser := new(jwt.Parser)
	parsed, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return TokenStatus{IsValid: false}
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return TokenStatus{IsValid: false}
	}

	status := TokenStatus{IsValid: true}
	if empId, ok := claims["empId"].(float64); ok {
		status.EmpId = int(empId)
	}
	if expiresAt, ok := claims["expiresAt"].(string); ok {
		status.ExpiresAt = expiresAt
	}
	if terminal, ok := claims["terminal"].(string); ok {
		status.Terminal = terminal
	}
	return status
}

// IsTokenValid reports whether the token decodes and has not expired.
func IsTokenValid(token string) bool {
	status := DecodeToken(token)
	if !status.IsValid || status.ExpiresAt == "" {
		return false
	}
	expiresAt, err := time.Parse(time.RFC3339, status.ExpiresAt)
	if err != nil {
		return false
	}
	return expiresAt.After(time.Now())
}

// GetTokenStats counts valid/expired tokens and the tenants present.
// The result is cached in Redis for a minute so dashboard polling does
// not re-walk the token list on every request.
func (s *Service) GetTokenStats(ctx context.Context) (TokenStats, error) {
	var cached TokenStats
	if hit, err := config.GetRedisObject(statsCacheKey, &cached); err == nil && hit {
		return cached, nil
	}

	tokens, err := s.GetTokens(ctx)
	if err != nil {
		return TokenStats{}, err
	}

	stats := TokenStats{Total: len(tokens), Companies: []int{}}
	seen := make(map[int]struct{})
	for _, token := range tokens {
		if _, dup := seen[token.EmpId]; !dup {
			seen[token.EmpId] = struct{}{}
			stats.Companies = append(stats.Companies, token.EmpId)
		}
		if IsTokenValid(token.Token) {
			stats.Valid++
		} else {
			stats.Expired++
		}
	}

	if err := config.SetRedisObject(statsCacheKey, stats, statsCacheTTL); err != nil {
		s.logger.Warn("failed to cache token stats: ", err.Error())
	}
	return stats, nil
}

// GetSyncStatus reports when tokens were last refreshed and when the
// next refresh is expected. Redis trouble degrades to an error entry
// instead of failing the dashboard read.
func (s *Service) GetSyncStatus(ctx context.Context) SyncStatus {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	status := SyncStatus{IsRunning: running, Errors: []string{}}

	value, exists, err := config.GetRedisValue(lastSyncKey)
	if err != nil {
		status.Errors = append(status.Errors, "failed to read token sync status")
		return status
	}
	if exists {
		if lastSync, parseErr := time.Parse(time.RFC3339, value); parseErr == nil {
			status.LastSync = &lastSync
			nextSync := lastSync.Add(refreshInterval)
			status.NextSync = &nextSync
		}
	}

	tokens, err := s.GetTokens(ctx)
	if err != nil {
		status.Errors = append(status.Errors, "failed to load tenant tokens")
		return status
	}
	status.TokensCount = len(tokens)
	return status
}

// ForceSync stamps the last-sync key immediately and drops the cached
// token stats so the next read reflects the refreshed list.
func (s *Service) ForceSync(ctx context.Context) error {
	if err := config.RemoveRedisKey(statsCacheKey); err != nil {
		s.logger.Warn("failed to drop token stats cache: ", err.Error())
	}
	return config.SetRedisValue(lastSyncKey, time.Now().UTC().Format(time.RFC3339), 0)
}

// StartAutoSync refreshes the last-sync stamp every 30 minutes until
// StopAutoSync. A second call while running is a no-op.
func (s *Service) StartAutoSync(ctx context.Context) {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		s.logger.Info("token auto refresh already running")
		return
	}
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	go func() {
		s.performSync(ctx)
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.performSync(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Service) StopAutoSync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
		s.running = false
	}
}

func (s *Service) performSync(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if err := s.ForceSync(ctx); err != nil {
		config.LogError(s.logger, "tokencache", "performSync", "set last sync", nil, err)
		return
	}
	tokens, err := s.GetTokens(ctx)
	if err != nil {
		config.LogError(s.logger, "tokencache", "performSync", "load tokens", nil, err)
		return
	}
	s.logger.WithFields(logrus.Fields{"tokens": len(tokens)}).Info("token refresh complete")
}
