// Package apitest runs an in-process fake of the dashboard API for tests.
package apitest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/guarzo/qualityapi/common/model"
)

const refreshCookie = "refresh_token"

// Recorded is one request as the fake saw it.
type Recorded struct {
	Method        string
	Path          string
	Query         string
	Authorization string
	HasCookie     bool
}

// Upload is a file received by an upload endpoint.
type Upload struct {
	Path     string
	Filename string
	Content  string
	Hard     string
}

// Fixtures are the canned payloads served by the read endpoints.
type Fixtures struct {
	Cards       model.Cards
	Disciplines []model.DisciplineRow
	Groups      []model.GroupRow
	Subsystems  map[string][]model.SubsystemRow
	Duplicates  []model.DuplicateRow
	Summary     model.ChangesSummary
	Unmatched   model.UnmatchedPage
	Options     model.ProtocolOptions
	Protocols   []model.ProtocolRow
	// CSV maps a download path (without query) to its body.
	CSV map[string]string
}

type account struct {
	user     model.User
	password string
}

// Server is the fake API. Zero configuration gives an empty but working backend.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	accounts  map[string]*account
	access    map[string]string // access token -> email
	refresh   map[string]string // refresh token -> email
	seq       int
	nextID    int64
	overrides map[string]http.HandlerFunc
	requests  []Recorded
	uploads   []Upload
	fixtures  Fixtures

	refreshCalls    atomic.Int32
	refreshHandler  http.HandlerFunc
	refreshAuthSeen atomic.Bool
}

// New starts a fake API that is closed when the test ends.
func New(t testing.TB) *Server {
	s := &Server{
		accounts:  make(map[string]*account),
		access:    make(map[string]string),
		refresh:   make(map[string]string),
		overrides: make(map[string]http.HandlerFunc),
		nextID:    1,
	}
	s.Server = httptest.NewServer(s.router())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record, s.override)

	r.Post("/auth/login", s.login)
	r.Post("/auth/refresh", s.refreshToken)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/auth/logout", s.logout)
		r.Post("/auth/change-password", s.changePassword)

		r.Get("/metrics/cards", s.serveJSON(func(f *Fixtures) interface{} { return f.Cards }))
		r.Get("/metrics/disciplinas", s.serveJSON(func(f *Fixtures) interface{} { return nonNil(f.Disciplines) }))
		r.Get("/metrics/grupos", s.serveJSON(func(f *Fixtures) interface{} { return nonNil(f.Groups) }))
		r.Get("/metrics/changes/summary", s.serveJSON(func(f *Fixtures) interface{} { return f.Summary }))
		r.Get("/metrics/subsistemas", s.subsystems)
		r.Get("/aconex/duplicates", s.serveJSON(func(f *Fixtures) interface{} { return nonNil(f.Duplicates) }))
		r.Get("/aconex/unmatched", s.serveJSON(func(f *Fixtures) interface{} { return f.Unmatched }))
		r.Get("/apsa/options", s.serveJSON(func(f *Fixtures) interface{} { return f.Options }))
		r.Get("/apsa/list", s.protocolList)

		r.Get("/metrics/subsistemas/changes.csv", s.csv)
		r.Get("/aconex/unmatched.csv", s.csv)
		r.Get("/aconex/duplicates.csv", s.csv)
		r.Get("/export/aconex-ss-errors.csv", s.csv)
		r.Get("/export/apsa.csv", s.csv)

		r.Post("/admin/upload/apsa", s.upload)
		r.Post("/admin/upload/aconex", s.upload)

		r.Get("/admin/users", s.listUsers)
		r.Post("/admin/users", s.createUser)
		r.Patch("/admin/users/{id}", s.updateUser)
		r.Delete("/admin/users/{id}", s.deleteUser)
		r.Post("/admin/users/{id}/set-password", s.setPassword)
	})
	return r
}

// ---------------------------------------------------------------------------
// configuration
// ---------------------------------------------------------------------------

// AddUser registers an account that can log in.
func (s *Server) AddUser(email, password, name string, roles ...string) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := model.User{ID: s.nextID, Email: email, FullName: name, Roles: roles, IsActive: true}
	s.nextID++
	s.accounts[email] = &account{user: u, password: password}
	return u
}

// IssueToken mints a valid access token for email without logging in.
func (s *Server) IssueToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mintAccess(email)
}

// ExpireAccessTokens makes every issued access token answer 401.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = make(map[string]string)
}

// RevokeRefreshTokens invalidates every renewal cookie.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = make(map[string]string)
}

// SetFixtures replaces the canned read payloads.
func (s *Server) SetFixtures(f Fixtures) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixtures = f
}

// Override serves h for "METHOD /path" instead of the built-in handler.
func (s *Server) Override(method, path string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[method+" "+path] = h
}

// SetRefreshHandler replaces /auth/refresh. Calls are still counted.
func (s *Server) SetRefreshHandler(h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshHandler = h
}

// RefreshCalls is the number of /auth/refresh calls received.
func (s *Server) RefreshCalls() int {
	return int(s.refreshCalls.Load())
}

// RefreshSawAuthorization reports whether any refresh call carried an Authorization header.
func (s *Server) RefreshSawAuthorization() bool {
	return s.refreshAuthSeen.Load()
}

// Requests returns a copy of the request log.
func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recorded(nil), s.requests...)
}

// RequestsTo filters the request log by path.
func (s *Server) RequestsTo(path string) []Recorded {
	var out []Recorded
	for _, r := range s.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// Uploads returns the files received so far.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

// User looks up an account by email.
func (s *Server) User(email string) (model.User, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[email]
	if !ok {
		return model.User{}, "", false
	}
	return a.user, a.password, true
}

// ---------------------------------------------------------------------------
// middleware
// ---------------------------------------------------------------------------

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := r.Cookie(refreshCookie)
		s.mu.Lock()
		s.requests = append(s.requests, Recorded{
			Method:        r.Method,
			Path:          r.URL.Path,
			Query:         r.URL.RawQuery,
			Authorization: r.Header.Get("Authorization"),
			HasCookie:     err == nil,
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) override(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		h, ok := s.overrides[r.Method+" "+r.URL.Path]
		s.mu.Unlock()
		if ok {
			h(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		_, ok := s.access[tok]
		s.mu.Unlock()
		if tok == "" || !ok {
			WriteDetail(w, http.StatusUnauthorized, "Token inválido")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// auth handlers
// ---------------------------------------------------------------------------

func (s *Server) mintAccess(email string) string {
	s.seq++
	tok := fmt.Sprintf("T%d", s.seq)
	s.access[tok] = email
	return tok
}

func (s *Server) mintRefresh(w http.ResponseWriter, email string) {
	s.seq++
	rt := fmt.Sprintf("R%d", s.seq)
	s.refresh[rt] = email
	http.SetCookie(w, &http.Cookie{Name: refreshCookie, Value: rt, Path: "/auth", HttpOnly: true})
}

func (s *Server) loginResponse(email, tok string) model.LoginResponse {
	a := s.accounts[email]
	resp := model.LoginResponse{AccessToken: tok, TokenType: "bearer", ExpiresIn: 900, Email: email}
	if a != nil {
		resp.Roles = a.user.Roles
		resp.Name = a.user.FullName
	}
	return resp
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var body model.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[body.Email]
	if !ok || a.password != body.Password || !a.user.IsActive {
		WriteDetail(w, http.StatusUnauthorized, "Credenciales inválidas")
		return
	}
	tok := s.mintAccess(body.Email)
	s.mintRefresh(w, body.Email)
	WriteJSON(w, http.StatusOK, s.loginResponse(body.Email, tok))
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	if r.Header.Get("Authorization") != "" {
		s.refreshAuthSeen.Store(true)
	}
	s.mu.Lock()
	custom := s.refreshHandler
	s.mu.Unlock()
	if custom != nil {
		custom(w, r)
		return
	}

	c, err := r.Cookie(refreshCookie)
	if err != nil {
		WriteDetail(w, http.StatusUnauthorized, "Sin refresh token")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.refresh[c.Value]
	if !ok {
		WriteDetail(w, http.StatusUnauthorized, "Refresh inválido o expirado")
		return
	}
	delete(s.refresh, c.Value)
	tok := s.mintAccess(email)
	s.mintRefresh(w, email)
	WriteJSON(w, http.StatusOK, s.loginResponse(email, tok))
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(refreshCookie); err == nil {
		s.mu.Lock()
		delete(s.refresh, c.Value)
		s.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: refreshCookie, Value: "", Path: "/auth", MaxAge: -1})
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var body model.ChangePassword
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accounts[s.access[tok]]
	if a == nil || a.password != body.CurrentPassword {
		WriteDetail(w, http.StatusBadRequest, "Contraseña actual incorrecta")
		return
	}
	a.password = body.NewPassword
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ---------------------------------------------------------------------------
// read handlers
// ---------------------------------------------------------------------------

func (s *Server) serveJSON(pick func(*Fixtures) interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		v := pick(&s.fixtures)
		s.mu.Unlock()
		WriteJSON(w, http.StatusOK, v)
	}
}

func (s *Server) subsystems(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")
	s.mu.Lock()
	rows := s.fixtures.Subsystems[group]
	s.mu.Unlock()
	WriteJSON(w, http.StatusOK, nonNil(rows))
}

func (s *Server) protocolList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 50
	}
	s.mu.Lock()
	var rows []model.ProtocolRow
	for _, p := range s.fixtures.Protocols {
		if v := q.Get("subsistema"); v != "" && p.Subsystem != v {
			continue
		}
		if v := q.Get("q"); v != "" && !strings.Contains(strings.ToLower(p.DocumentNo+" "+p.Description+" "+p.Tag), strings.ToLower(v)) {
			continue
		}
		if v := q.Get("status"); v != "" && p.Status != v {
			continue
		}
		rows = append(rows, p)
	}
	s.mu.Unlock()

	total := len(rows)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	WriteJSON(w, http.StatusOK, model.ProtocolPage{Rows: nonNil(rows[start:end]), Total: total, Page: page, PageSize: size})
}

func (s *Server) csv(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	body, ok := s.fixtures.CSV[r.URL.Path]
	s.mu.Unlock()
	if !ok {
		WriteDetail(w, http.StatusBadRequest, "No hay carga disponible")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

// ---------------------------------------------------------------------------
// admin handlers
// ---------------------------------------------------------------------------

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	f, hdr, err := r.FormFile("file")
	if err != nil {
		WriteDetail(w, http.StatusUnprocessableEntity, "file required")
		return
	}
	defer f.Close()
	b, _ := io.ReadAll(f)
	content := string(b)
	s.mu.Lock()
	s.uploads = append(s.uploads, Upload{Path: r.URL.Path, Filename: hdr.Filename, Content: content, Hard: r.URL.Query().Get("hard")})
	s.mu.Unlock()

	rows := 0
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		if strings.TrimSpace(line) != "" {
			rows++
		}
	}
	if rows > 0 {
		rows-- // header
	}
	header := 0
	WriteJSON(w, http.StatusOK, model.UploadResult{OK: true, RowsInserted: rows, Sheet: "Sheet1", HeaderRow: &header})
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	users := make([]model.User, 0, len(s.accounts))
	for _, a := range s.accounts {
		users = append(users, a.user)
	}
	s.mu.Unlock()
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	WriteJSON(w, http.StatusOK, users)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var body model.UserCreate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	s.mu.Lock()
	if _, exists := s.accounts[body.Email]; exists {
		s.mu.Unlock()
		WriteDetail(w, http.StatusBadRequest, "Ya existe un usuario con ese email")
		return
	}
	u := model.User{ID: s.nextID, Email: body.Email, FullName: body.FullName, Roles: body.Roles, IsActive: body.IsActive}
	s.nextID++
	s.accounts[body.Email] = &account{user: u, password: body.Password}
	s.mu.Unlock()
	WriteJSON(w, http.StatusOK, u)
}

// byID must be called with s.mu held.
func (s *Server) byID(r *http.Request) *account {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return nil
	}
	for _, a := range s.accounts {
		if a.user.ID == id {
			return a
		}
	}
	return nil
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	var body model.UserUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.byID(r)
	if a == nil {
		WriteDetail(w, http.StatusNotFound, "Usuario no encontrado")
		return
	}
	if body.FullName != nil {
		a.user.FullName = *body.FullName
	}
	if body.Roles != nil {
		a.user.Roles = body.Roles
	}
	if body.IsActive != nil {
		a.user.IsActive = *body.IsActive
	}
	WriteJSON(w, http.StatusOK, a.user)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.byID(r)
	if a == nil {
		WriteDetail(w, http.StatusNotFound, "Usuario no encontrado")
		return
	}
	a.user.IsActive = false
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) setPassword(w http.ResponseWriter, r *http.Request) {
	var body model.SetPassword
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.byID(r)
	if a == nil {
		WriteDetail(w, http.StatusNotFound, "Usuario no encontrado")
		return
	}
	a.password = body.Password
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteDetail writes the API's error document {"detail": msg}.
func WriteDetail(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"detail": msg})
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
