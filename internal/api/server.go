package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"moonwatch/internal/auth"
	"moonwatch/internal/config"
	"moonwatch/internal/db"
	"moonwatch/internal/esi"
	"moonwatch/internal/logger"
	"moonwatch/internal/scheduler"
	"moonwatch/internal/value"
)

// Server is the HTTP API over the extraction timeline and moon data.
type Server struct {
	cfg      *config.Config
	esi      *esi.Client
	db       *db.DB
	sso      *auth.SSOConfig
	sessions *auth.SessionStore
	sched    *scheduler.Scheduler
	valuer   *value.Valuer

	// Pending SSO login flows: CSRF state token -> metadata.
	ssoStatesMu sync.Mutex
	ssoStates   map[string]ssoStateEntry
}

type ssoStateEntry struct {
	ExpiresAt time.Time
	UserID    string
}

// NewServer creates a Server over the given dependencies. sched and valuer
// may be nil in tests.
func NewServer(cfg *config.Config, esiClient *esi.Client, database *db.DB,
	ssoConfig *auth.SSOConfig, sessions *auth.SessionStore,
	sched *scheduler.Scheduler, valuer *value.Valuer) *Server {
	return &Server{
		cfg:       cfg,
		esi:       esiClient,
		db:        database,
		sso:       ssoConfig,
		sessions:  sessions,
		sched:     sched,
		valuer:    valuer,
		ssoStates: make(map[string]ssoStateEntry),
	}
}

// Handler returns the HTTP handler with all API routes and CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/config", s.handleSetConfig)

	mux.HandleFunc("GET /api/auth/login", s.handleAuthLogin)
	mux.HandleFunc("GET /api/auth/callback", s.handleAuthCallback)
	mux.HandleFunc("GET /api/auth/characters", s.handleAuthCharacters)
	mux.HandleFunc("DELETE /api/auth/characters/{characterID}", s.handleAuthRemoveCharacter)

	mux.HandleFunc("POST /api/scan", s.handleScan)
	mux.HandleFunc("GET /api/extractions", s.handleExtractions)
	mux.HandleFunc("GET /api/moons", s.handleMoons)
	mux.HandleFunc("GET /api/moons/{moonID}/resources", s.handleMoonResources)
	mux.HandleFunc("GET /api/moons/{moonID}/extractions", s.handleMoonExtractions)
	mux.HandleFunc("GET /api/refineries", s.handleRefineries)
	mux.HandleFunc("GET /api/notifications", s.handleNotifications)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	chars, _ := s.db.ListTrackingCharacters()
	writeJSON(w, map[string]interface{}{
		"status":              "ok",
		"esi":                 s.esi.HealthCheck(r.Context()),
		"tracking_characters": len(chars),
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.cfg)
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	// Start from the current config so omitted fields keep their values.
	in := *s.cfg
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, 400, "invalid json")
		return
	}
	in.Normalize()
	*s.cfg = in
	if err := s.db.SaveConfig(s.cfg); err != nil {
		writeError(w, 500, "save config: "+err.Error())
		return
	}
	writeJSON(w, s.cfg)
}

// --- Auth ---

func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	if s.sso == nil {
		writeError(w, 500, "SSO not configured")
		return
	}
	state := auth.GenerateState()
	userID := r.URL.Query().Get("user")

	s.ssoStatesMu.Lock()
	now := time.Now()
	for k, v := range s.ssoStates {
		if now.After(v.ExpiresAt) {
			delete(s.ssoStates, k)
		}
	}
	s.ssoStates[state] = ssoStateEntry{ExpiresAt: now.Add(10 * time.Minute), UserID: userID}
	s.ssoStatesMu.Unlock()

	http.Redirect(w, r, s.sso.BuildAuthURL(state), http.StatusTemporaryRedirect)
}

// handleAuthCallback completes the SSO flow and enrolls the character for
// tracking. Re-enrollment refreshes the credential but keeps the character's
// notification cursor.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.sso == nil {
		writeError(w, 500, "SSO not configured")
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	s.ssoStatesMu.Lock()
	entry, ok := s.ssoStates[state]
	if ok {
		delete(s.ssoStates, state) // consume: one-time use
	}
	s.ssoStatesMu.Unlock()

	if state == "" || !ok || time.Now().After(entry.ExpiresAt) {
		writeError(w, 400, "invalid or expired state parameter")
		return
	}

	tok, err := s.sso.ExchangeCode(code)
	if err != nil {
		logger.Error("Auth", fmt.Sprintf("Exchange: %v", err))
		writeError(w, 500, "token exchange failed: "+err.Error())
		return
	}

	info, err := s.sso.Verify(tok.AccessToken)
	if err != nil {
		logger.Error("Auth", fmt.Sprintf("Verify: %v", err))
		writeError(w, 500, "token verify failed: "+err.Error())
		return
	}

	sess := &auth.Session{
		UserID:        entry.UserID,
		CharacterID:   info.CharacterID,
		CharacterName: info.CharacterName,
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		ExpiresAt:     time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}
	if err := s.sessions.Save(sess); err != nil {
		logger.Error("Auth", fmt.Sprintf("Save session: %v", err))
		writeError(w, 500, "save session failed")
		return
	}
	if err := s.db.AddTrackingCharacter(info.CharacterID, info.CharacterName); err != nil {
		writeError(w, 500, "enroll character failed")
		return
	}
	logger.Success("Auth", fmt.Sprintf("Enrolled %s (ID %d)", info.CharacterName, info.CharacterID))

	// Pull this character's data right away rather than waiting for a tick.
	if s.sched != nil {
		s.sched.EnqueueImport()
	}

	writeJSON(w, map[string]interface{}{
		"enrolled":       true,
		"character_id":   info.CharacterID,
		"character_name": info.CharacterName,
	})
}

func (s *Server) handleAuthCharacters(w http.ResponseWriter, r *http.Request) {
	chars, err := s.db.ListTrackingCharacters()
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"characters": chars})
}

func (s *Server) handleAuthRemoveCharacter(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("characterID"), 10, 64)
	if err != nil {
		writeError(w, 400, "invalid character id")
		return
	}
	if err := s.sessions.DeleteByCharacterID(id); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"deleted": id})
}

// --- Scan ---

type scanRequest struct {
	Text string `json:"text"`
	User string `json:"user"`
}

// handleScan accepts pasted moon survey text. Processing is asynchronous;
// the outcome lands in the submitter's notification log.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json")
		return
	}
	if req.Text == "" {
		writeError(w, 400, "empty scan text")
		return
	}
	if s.sched == nil {
		writeError(w, 503, "scheduler not running")
		return
	}
	s.sched.EnqueueScan(req.Text, req.User)
	writeJSON(w, map[string]string{"status": "queued"})
}

// --- Timeline ---

func (s *Server) handleExtractions(w http.ResponseWriter, r *http.Request) {
	since := time.Now()
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, 400, "invalid since timestamp")
			return
		}
		since = t
	}
	extractions, err := s.db.ListExtractionsArrivingAfter(since)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"extractions": s.decorate(extractions)})
}

func (s *Server) handleMoonExtractions(w http.ResponseWriter, r *http.Request) {
	moonID, err := strconv.ParseInt(r.PathValue("moonID"), 10, 64)
	if err != nil {
		writeError(w, 400, "invalid moon id")
		return
	}
	extractions, err := s.db.ListExtractionsByMoon(moonID)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"extractions": s.decorate(extractions)})
}

// extractionView joins the stored extraction with display names.
type extractionView struct {
	db.Extraction
	MoonName     string `json:"moon_name"`
	RefineryName string `json:"refinery_name"`
}

func (s *Server) decorate(extractions []db.Extraction) []extractionView {
	out := make([]extractionView, 0, len(extractions))
	for _, e := range extractions {
		v := extractionView{Extraction: e}
		if m := s.db.GetMoon(e.MoonID); m != nil {
			v.MoonName = m.Name
		}
		if r := s.db.GetRefinery(e.StructureID); r != nil {
			v.RefineryName = r.Name
		}
		out = append(out, v)
	}
	return out
}

// --- Moons ---

type resourceView struct {
	db.Resource
	OreName  string  `json:"ore_name,omitempty"`
	Rarity   int     `json:"rarity"`
	IskPerM3 float64 `json:"isk_per_m3,omitempty"`
}

func (s *Server) handleMoons(w http.ResponseWriter, r *http.Request) {
	moons, err := s.db.ListMoonsWithResources()
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}

	type moonView struct {
		db.Moon
		Value float64 `json:"value,omitempty"`
	}
	out := make([]moonView, 0, len(moons))
	for _, m := range moons {
		v := moonView{Moon: m}
		if s.valuer != nil {
			v.Value, _ = s.valuer.MoonValue(m.MoonID, s.cfg.RefinePercent)
		}
		out = append(out, v)
	}
	writeJSON(w, map[string]interface{}{"moons": out})
}

func (s *Server) handleMoonResources(w http.ResponseWriter, r *http.Request) {
	moonID, err := strconv.ParseInt(r.PathValue("moonID"), 10, 64)
	if err != nil {
		writeError(w, 400, "invalid moon id")
		return
	}
	resources, err := s.db.MoonResources(moonID)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}

	out := make([]resourceView, 0, len(resources))
	for _, res := range resources {
		v := resourceView{Resource: res}
		if t := s.db.GetOreType(res.OreID); t != nil {
			v.OreName = t.Name
			v.Rarity = db.OreRarity(t.GroupID)
		}
		if s.valuer != nil {
			v.IskPerM3, _ = s.valuer.OreValue(res.OreID, s.cfg.RefinePercent)
		}
		out = append(out, v)
	}
	writeJSON(w, map[string]interface{}{"moon_id": moonID, "resources": out})
}

func (s *Server) handleRefineries(w http.ResponseWriter, r *http.Request) {
	corps, err := s.db.ListRefineryCorporations()
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	var out []db.Refinery
	for _, corpID := range corps {
		refineries, err := s.db.ListRefineriesByCorporation(corpID)
		if err != nil {
			writeError(w, 500, err.Error())
			return
		}
		out = append(out, refineries...)
	}
	writeJSON(w, map[string]interface{}{"refineries": out})
}

// --- Notifications ---

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		userID = "default"
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	notifications, err := s.db.ListUserNotifications(userID, limit)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"notifications": notifications})
}
