// Package ice issues STUN/TURN connectivity configuration with
// coturn-compatible ephemeral TURN credentials (TURN REST mechanism):
//
//	username   = <unix_expiry>:<prefix>:<user_id>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// Validation is stateless on the TURN server side; the active set kept
// here exists only for cleanup bookkeeping, revocation and telemetry.
package ice

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/intervue/interview-rtc/internal/config"
	"github.com/intervue/interview-rtc/internal/metrics"
)

// Credential is one minted TURN credential tracked for bookkeeping.
type Credential struct {
	Username string    `json:"username"`
	Password string    `json:"password"`
	UserID   string    `json:"userId"`
	IssuedAt time.Time `json:"issuedAt"`
	Expiry   time.Time `json:"expiry"`
}

// ServerConfig is the client-facing ICE server list.
type ServerConfig struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

// Service mints credentials and owns the bookkeeping set.
type Service struct {
	cfg config.ICE

	mu     sync.Mutex
	active map[string]Credential

	now      func() time.Time
	randomID func() string
}

func NewService(cfg config.ICE) *Service {
	return &Service{
		cfg:      cfg,
		active:   make(map[string]Credential),
		now:      time.Now,
		randomID: randomHex,
	}
}

// ServerConfig returns the STUN list plus, when TURN is configured, a
// fresh ephemeral credential pair. It never fails: with no TURN servers
// the caller simply gets a STUN-only list.
func (s *Service) ServerConfig(userID string) ServerConfig {
	servers := []webrtc.ICEServer{{URLs: append([]string(nil), s.cfg.STUNURLs...)}}

	if len(s.cfg.TURNURLs) > 0 && s.cfg.TURNSecret != "" {
		cred := s.mint(userID)
		servers = append(servers, webrtc.ICEServer{
			URLs:       append([]string(nil), s.cfg.TURNURLs...),
			Username:   cred.Username,
			Credential: cred.Password,
		})
	}
	return ServerConfig{ICEServers: servers}
}

func (s *Service) mint(userID string) Credential {
	if userID == "" || strings.Contains(userID, ":") {
		userID = s.randomID()
	}
	now := s.now().UTC()
	expiry := now.Add(s.cfg.CredentialTTL)
	username := fmt.Sprintf("%d:%s:%s", expiry.Unix(), s.cfg.TURNPrefix, userID)

	mac := hmac.New(sha1.New, []byte(s.cfg.TURNSecret))
	_, _ = mac.Write([]byte(username))
	password := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	cred := Credential{
		Username: username,
		Password: password,
		UserID:   userID,
		IssuedAt: now,
		Expiry:   expiry,
	}

	s.mu.Lock()
	s.active[username] = cred
	metrics.CredentialsActive.Set(float64(len(s.active)))
	s.mu.Unlock()

	metrics.CredentialsIssued.Inc()
	log.Debug().Str("module", "ice").Str("user", userID).Time("expiry", expiry).Msg("credential minted")
	return cred
}

// CleanupExpired drops bookkeeping entries whose expiry has passed and
// returns how many were purged. A credential is never purged before its
// expiry.
func (s *Service) CleanupExpired() int {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for username, cred := range s.active {
		if now.After(cred.Expiry) {
			delete(s.active, username)
			purged++
		}
	}
	metrics.CredentialsActive.Set(float64(len(s.active)))
	if purged > 0 {
		log.Info().Str("module", "ice").Int("purged", purged).Msg("expired credentials cleaned up")
	}
	return purged
}

// Revoke removes a credential from the active set. The TURN server
// keeps honoring it until expiry; revocation is bookkeeping only.
func (s *Service) Revoke(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[username]; !ok {
		return false
	}
	delete(s.active, username)
	metrics.CredentialsActive.Set(float64(len(s.active)))
	return true
}

// ActiveCount reports the bookkeeping set size.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Run drives the cleanup sweep until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	t := time.NewTicker(s.cfg.CleanupEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.CleanupExpired()
		}
	}
}

func randomHex() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
