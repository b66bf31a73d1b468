package auth

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"moonwatch/internal/logger"
	"golang.org/x/sync/singleflight"
)

// Session represents a stored character credential.
type Session struct {
	UserID        string
	CharacterID   int64
	CharacterName string
	AccessToken   string
	RefreshToken  string
	ExpiresAt     time.Time
}

// SessionStore handles credential persistence in SQLite.
// Token refreshes are coalesced per character through a singleflight group
// so concurrent reconciliation jobs never race the SSO refresh endpoint.
type SessionStore struct {
	db      *sql.DB
	refresh singleflight.Group
}

const defaultUserID = "default"

// NewSessionStore creates a store backed by the given SQL database.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func normalizeUserID(userID string) string {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return defaultUserID
	}
	return trimmed
}

// Save stores or updates a character credential.
func (s *SessionStore) Save(sess *Session) error {
	if sess == nil {
		return fmt.Errorf("nil session")
	}
	userID := normalizeUserID(sess.UserID)

	_, err := s.db.Exec(`
		INSERT INTO auth_session (user_id, character_id, character_name, access_token, refresh_token, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, character_id) DO UPDATE SET
			character_name = excluded.character_name,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at`,
		userID, sess.CharacterID, sess.CharacterName, sess.AccessToken, sess.RefreshToken, sess.ExpiresAt.Unix(),
	)
	return err
}

// GetByCharacterID returns the stored credential for a character, or nil.
// Credentials are searched across enrolling users; the character is the
// identity that matters for token acquisition.
func (s *SessionStore) GetByCharacterID(characterID int64) *Session {
	return s.querySession(`
		SELECT user_id, character_id, character_name, access_token, refresh_token, expires_at
		FROM auth_session
		WHERE character_id = ?
		ORDER BY user_id ASC
		LIMIT 1`, characterID)
}

// List returns all stored credentials ordered by character name.
func (s *SessionStore) List() []*Session {
	rows, err := s.db.Query(`
		SELECT user_id, character_id, character_name, access_token, refresh_token, expires_at
		FROM auth_session
		ORDER BY character_name ASC, character_id ASC`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var sess Session
		var expiresUnix int64
		if err := rows.Scan(&sess.UserID, &sess.CharacterID, &sess.CharacterName,
			&sess.AccessToken, &sess.RefreshToken, &expiresUnix); err != nil {
			continue
		}
		sess.ExpiresAt = time.Unix(expiresUnix, 0)
		out = append(out, &sess)
	}
	return out
}

// DeleteByCharacterID removes a character's stored credential.
func (s *SessionStore) DeleteByCharacterID(characterID int64) error {
	_, err := s.db.Exec(`DELETE FROM auth_session WHERE character_id = ?`, characterID)
	return err
}

// EnsureValidToken returns a valid access token for the character,
// refreshing through SSO if the stored token is stale. Concurrent callers
// for the same character share one refresh.
func (s *SessionStore) EnsureValidToken(sso *SSOConfig, characterID int64) (string, error) {
	key := strconv.FormatInt(characterID, 10)
	token, err, _ := s.refresh.Do(key, func() (interface{}, error) {
		return s.ensureValidToken(sso, characterID)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (s *SessionStore) ensureValidToken(sso *SSOConfig, characterID int64) (string, error) {
	sess := s.GetByCharacterID(characterID)
	if sess == nil {
		return "", fmt.Errorf("no credential for character %d", characterID)
	}

	// If token is still valid (with 60s buffer), return it
	if time.Now().Before(sess.ExpiresAt.Add(-60 * time.Second)) {
		return sess.AccessToken, nil
	}
	if sso == nil {
		return "", fmt.Errorf("sso not configured")
	}

	logger.Info("Auth", fmt.Sprintf("Refreshing token for %s", sess.CharacterName))
	tok, err := sso.RefreshToken(sess.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("refresh failed: %w", err)
	}

	sess.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		sess.RefreshToken = tok.RefreshToken
	}
	sess.ExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	if err := s.Save(sess); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}

	return sess.AccessToken, nil
}

func (s *SessionStore) querySession(query string, args ...interface{}) *Session {
	var sess Session
	var expiresUnix int64
	err := s.db.QueryRow(query, args...).
		Scan(&sess.UserID, &sess.CharacterID, &sess.CharacterName, &sess.AccessToken, &sess.RefreshToken, &expiresUnix)
	if err != nil {
		return nil
	}
	sess.ExpiresAt = time.Unix(expiresUnix, 0)
	return &sess
}
