package model

import (
	"encoding/json"
	"strconv"
)

// JSONUnmarshal is the one place response bodies are decoded.
func JSONUnmarshal(data []byte, out interface{}) error {
	return json.Unmarshal(data, out)
}

// Role labels known to the dashboard API.
const (
	RoleAdmin = "Admin"
	RoleUser  = "User"
)

// ----------------------------------------------------------------------
// Authentication
// ----------------------------------------------------------------------

// Profile is the signed-in identity as reported by login/refresh.
type Profile struct {
	Email string   `json:"email"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles"`
}

// HasRole reports whether the profile carries the given role label.
func (p *Profile) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is returned by both /auth/login and /auth/refresh.
// Only AccessToken is guaranteed; everything else may be absent.
type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type,omitempty"`
	ExpiresIn   int      `json:"expires_in,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Email       string   `json:"email,omitempty"`
	Name        string   `json:"name,omitempty"`
}

// Profile extracts the profile part of the response. Absent roles become an empty set.
func (r *LoginResponse) Profile() *Profile {
	roles := r.Roles
	if roles == nil {
		roles = []string{}
	}
	return &Profile{Email: r.Email, Name: r.Name, Roles: roles}
}

// ----------------------------------------------------------------------
// Dashboard metrics
// ----------------------------------------------------------------------

// Cards is GET /metrics/cards.
type Cards struct {
	Universe              int  `json:"universo"`
	Open                  int  `json:"abiertos"`
	Closed                int  `json:"cerrados"`
	AconexLoaded          int  `json:"aconex_cargados"`
	AconexValid           *int `json:"aconex_validos,omitempty"`
	AconexInvalid         *int `json:"aconex_invalidos,omitempty"`
	AconexSubsystemErrors *int `json:"aconex_error_ss,omitempty"`
}

// DisciplineRow is one row of GET /metrics/disciplinas.
type DisciplineRow struct {
	Discipline string `json:"disciplina"`
	Universe   int    `json:"universo"`
	Open       int    `json:"abiertos"`
	Closed     int    `json:"cerrados"`
	Aconex     int    `json:"aconex"`
}

func (DisciplineRow) Header() []string {
	return []string{"disciplina", "universo", "abiertos", "cerrados", "aconex"}
}

func (r DisciplineRow) Record() []string {
	return []string{r.Discipline, itoa(r.Universe), itoa(r.Open), itoa(r.Closed), itoa(r.Aconex)}
}

// GroupRow is one row of GET /metrics/grupos.
type GroupRow struct {
	Group    string `json:"grupo"`
	Universe int    `json:"universo"`
	Open     int    `json:"abiertos"`
	Closed   int    `json:"cerrados"`
	Aconex   int    `json:"aconex"`
}

func (GroupRow) Header() []string {
	return []string{"grupo", "universo", "abiertos", "cerrados", "aconex"}
}

func (r GroupRow) Record() []string {
	return []string{r.Group, itoa(r.Universe), itoa(r.Open), itoa(r.Closed), itoa(r.Aconex)}
}

// SubsystemRow is one row of GET /metrics/subsistemas.
type SubsystemRow struct {
	Subsystem     string `json:"subsistema"`
	Universe      int    `json:"universo"`
	Open          int    `json:"abiertos"`
	Closed        int    `json:"cerrados"`
	PendingClose  int    `json:"pendiente_cierre"`
	AconexLoaded  int    `json:"cargado_aconex"`
	AconexPending int    `json:"pendiente_aconex"`
}

func (SubsystemRow) Header() []string {
	return []string{"subsistema", "universo", "abiertos", "cerrados", "pendiente_cierre", "cargado_aconex", "pendiente_aconex"}
}

func (r SubsystemRow) Record() []string {
	return []string{
		r.Subsystem, itoa(r.Universe), itoa(r.Open), itoa(r.Closed),
		itoa(r.PendingClose), itoa(r.AconexLoaded), itoa(r.AconexPending),
	}
}

// DuplicateRow is one row of GET /aconex/duplicates.
type DuplicateRow struct {
	DocumentNo string `json:"document_no"`
	Count      int    `json:"count"`
}

func (DuplicateRow) Header() []string { return []string{"document_no", "count"} }

func (r DuplicateRow) Record() []string { return []string{r.DocumentNo, itoa(r.Count)} }

// ChangesSummary compares the latest protocol load with the previous one.
type ChangesSummary struct {
	HasPrevious  bool    `json:"has_previous"`
	NewLoadedAt  *string `json:"new_loaded_at,omitempty"`
	PrevLoadedAt *string `json:"prev_loaded_at,omitempty"`
	ChangedCount int     `json:"changed_count"`
}

// UnmatchedItem is an Aconex document with no protocol counterpart.
type UnmatchedItem struct {
	DocumentNo   string `json:"document_no"`
	Title        string `json:"title"`
	Function     string `json:"function"`
	Subsystem    string `json:"subsystem"`
	Revision     string `json:"revision"`
	FileName     string `json:"file_name"`
	DateReceived string `json:"date_received"`
}

func (UnmatchedItem) Header() []string {
	return []string{"document_no", "title", "function", "subsystem", "revision", "file_name", "date_received"}
}

func (i UnmatchedItem) Record() []string {
	return []string{i.DocumentNo, i.Title, i.Function, i.Subsystem, i.Revision, i.FileName, i.DateReceived}
}

// UnmatchedPage is GET /aconex/unmatched.
type UnmatchedPage struct {
	Strict bool            `json:"strict"`
	Total  int             `json:"total"`
	Items  []UnmatchedItem `json:"items"`
}

// ----------------------------------------------------------------------
// Protocol log
// ----------------------------------------------------------------------

// ProtocolOptions lists the filter values present in the latest load.
type ProtocolOptions struct {
	Disciplines []string `json:"disciplinas"`
	Subsystems  []string `json:"subsistemas"`
}

// ProtocolRow is one line of the protocol log.
type ProtocolRow struct {
	DocumentNo  string `json:"document_no"`
	Rev         string `json:"rev"`
	Description string `json:"descripcion"`
	Tag         string `json:"tag"`
	Subsystem   string `json:"subsistema"`
	Aconex      string `json:"aconex,omitempty"`
	Status      string `json:"status,omitempty"`
}

func (ProtocolRow) Header() []string {
	return []string{"document_no", "rev", "descripcion", "tag", "subsistema", "aconex", "status"}
}

func (r ProtocolRow) Record() []string {
	return []string{r.DocumentNo, r.Rev, r.Description, r.Tag, r.Subsystem, r.Aconex, r.Status}
}

// ProtocolPage is GET /apsa/list.
type ProtocolPage struct {
	Rows     []ProtocolRow `json:"rows"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// ----------------------------------------------------------------------
// Uploads
// ----------------------------------------------------------------------

// UploadResult is returned by the admin upload endpoints.
type UploadResult struct {
	OK           bool   `json:"ok"`
	RowsInserted int    `json:"rows_inserted"`
	Sheet        string `json:"sheet,omitempty"`
	HeaderRow    *int   `json:"header_row,omitempty"`
}

// ----------------------------------------------------------------------
// User administration
// ----------------------------------------------------------------------

// User is an account as listed by GET /admin/users.
type User struct {
	ID              int64    `json:"id"`
	Email           string   `json:"email"`
	FullName        string   `json:"full_name,omitempty"`
	Roles           []string `json:"roles"`
	IsActive        bool     `json:"is_active"`
	IsEmailVerified bool     `json:"is_email_verified"`
}

func (User) Header() []string {
	return []string{"id", "email", "full_name", "roles", "is_active", "is_email_verified"}
}

func (u User) Record() []string {
	roles := ""
	for i, r := range u.Roles {
		if i > 0 {
			roles += ","
		}
		roles += r
	}
	return []string{
		strconv.FormatInt(u.ID, 10), u.Email, u.FullName, roles,
		strconv.FormatBool(u.IsActive), strconv.FormatBool(u.IsEmailVerified),
	}
}

// UserCreate is the body of POST /admin/users.
type UserCreate struct {
	Email    string   `json:"email" validate:"required,email"`
	FullName string   `json:"full_name"`
	Password string   `json:"password" validate:"required,min=8"`
	Roles    []string `json:"roles" validate:"dive,oneof=Admin User"`
	IsActive bool     `json:"is_active"`
}

// UserUpdate is the body of PATCH /admin/users/{id}; nil fields are left unchanged.
type UserUpdate struct {
	FullName *string  `json:"full_name,omitempty"`
	Roles    []string `json:"roles,omitempty" validate:"omitempty,dive,oneof=Admin User"`
	IsActive *bool    `json:"is_active,omitempty"`
}

// SetPassword is the body of POST /admin/users/{id}/set-password.
type SetPassword struct {
	Password string `json:"password" validate:"required,min=8"`
}

// ChangePassword is the body of POST /auth/change-password.
type ChangePassword struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

func itoa(n int) string { return strconv.Itoa(n) }
