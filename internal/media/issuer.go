// Package media issues join credentials for the external audio/video provider and handles its webhooks.
package media

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/models"
)

// DefaultTTL is the credential lifetime when none is configured.
const DefaultTTL = 6 * time.Hour

// ErrNotConfigured is returned when the provider key or secret is missing.
var ErrNotConfigured = errors.New("media provider not configured")

// VideoGrant is the room permission block carried by a credential.
type VideoGrant struct {
	Room           string `json:"room"`
	RoomJoin       bool   `json:"roomJoin"`
	RoomAdmin      bool   `json:"roomAdmin,omitempty"`
	CanPublish     bool   `json:"canPublish"`
	CanSubscribe   bool   `json:"canSubscribe"`
	CanPublishData bool   `json:"canPublishData"`
}

// Claims is the signed credential body.
type Claims struct {
	Name     string            `json:"name,omitempty"`
	Video    VideoGrant        `json:"video"`
	Metadata map[string]string `json:"metadata,omitempty"`
	jwt.RegisteredClaims
}

// Config holds provider settings.
type Config struct {
	URL       string
	APIKey    string
	APISecret string
	TTL       time.Duration
}

// Issuer signs media credentials.
type Issuer struct {
	cfg Config
	now func() time.Time
}

// NewIssuer creates a credential issuer.
func NewIssuer(cfg Config) *Issuer {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Issuer{cfg: cfg, now: time.Now}
}

// Issue signs a credential admitting who to the meeting's room. Tutors get room admin.
func (i *Issuer) Issue(m *models.Meeting, who models.Identity) (*models.MediaCredential, error) {
	if i.cfg.APIKey == "" || i.cfg.APISecret == "" {
		return nil, apperr.Upstream("media credentials unavailable", ErrNotConfigured)
	}
	now := i.now().UTC()
	exp := now.Add(i.cfg.TTL)
	identity := who.UserID.String()
	claims := Claims{
		Name: who.DisplayName,
		Video: VideoGrant{
			Room:           m.RoomName,
			RoomJoin:       true,
			RoomAdmin:      who.Role == models.RoleTutor,
			CanPublish:     true,
			CanSubscribe:   true,
			CanPublishData: true,
		},
		Metadata: map[string]string{"role": string(who.Role), "meeting_id": m.ID.String()},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.APIKey,
			Subject:   identity,
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.cfg.APISecret))
	if err != nil {
		return nil, err
	}
	return &models.MediaCredential{
		Token:     token,
		URL:       i.cfg.URL,
		RoomName:  m.RoomName,
		Identity:  identity,
		ExpiresAt: exp,
	}, nil
}

// Parse validates a credential and returns its claims.
func (i *Issuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(i.cfg.APISecret), nil
	}, jwt.WithIssuer(i.cfg.APIKey))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// MeetingIDFromRoom extracts the meeting ID from a room name of the form meeting-<id>.
func MeetingIDFromRoom(room string) (uuid.UUID, bool) {
	rest, ok := strings.CutPrefix(room, "meeting-")
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(rest)
	return id, err == nil
}
