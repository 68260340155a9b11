// Copyright 2026 The TrialIQ Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package backendtest runs an in-memory clinical-trial REST backend for
// tests of the backend client and the console API.
package backendtest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
)

// Module is a permission module record.
type Module struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Permission is a role's bits on one module.
type Permission struct {
	ID        string  `json:"id"`
	RoleID    string  `json:"role_id"`
	ModuleID  string  `json:"module_id"`
	Module    *Module `json:"module,omitempty"`
	CanView   bool    `json:"can_view"`
	CanCreate bool    `json:"can_create"`
	CanEdit   bool    `json:"can_edit"`
	CanDelete bool    `json:"can_delete"`
}

// Role is a role record with its permissions.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	EntityType  string       `json:"entity_type"`
	EntityID    *string      `json:"entity_id"`
	Permissions []Permission `json:"permissions"`
}

// User is a user record. RoleID links to Roles.
type User struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Phone      string `json:"phone,omitempty"`
	Name       string `json:"name"`
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	RoleID     string `json:"role_id"`
	Password   string `json:"-"`
}

// Call is one request the server received with a valid bearer.
type Call struct {
	Method string
	Path   string
	Token  string
	Body   []byte
}

// Server is the fake backend. Zero-valued knobs give a well-behaved server.
type Server struct {
	*httptest.Server

	// Envelope wraps success bodies in {"data": ...}.
	Envelope atomic.Bool
	// FailRefresh makes /auth/refresh answer 401.
	FailRefresh atomic.Bool

	refreshCalls atomic.Int32
	unauthorized atomic.Int32
	assignsHeld  atomic.Int32

	mu       sync.Mutex
	gate     chan struct{}
	assign   chan struct{}
	seq      int
	access   map[string]string // token -> user id
	refresh  map[string]string
	modules  []Module
	roles    map[string]*Role
	users    map[string]*User
	records  map[string]map[string]map[string]any
	sites    map[string][]string        // owner ("trials/t-1", "sponsors/sp-1") -> site ids
	sponsors map[string]map[string]bool // trial id -> sponsor id -> can_edit
	calls    []Call
}

// resources served by the generic record handlers.
var resources = []string{"trials", "sites", "sponsors", "organizations", "patients", "providers"}

// NewServer starts a server that is closed when t finishes.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		access:   map[string]string{},
		refresh:  map[string]string{},
		roles:    map[string]*Role{},
		users:    map[string]*User{},
		records:  map[string]map[string]map[string]any{},
		sites:    map[string][]string{},
		sponsors: map[string]map[string]bool{},
	}
	for _, r := range resources {
		s.records[r] = map[string]map[string]any{}
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/refresh", s.handleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(s.requireBearer)

		r.Post("/auth/logout", s.handleLogout)
		r.Get("/auth/me", s.handleMe)

		r.Get("/modules", s.handleModules)

		r.Get("/roles", s.handleListRoles)
		r.Post("/roles", s.handleCreateRole)
		r.Get("/roles/{id}", s.handleGetRole)
		r.Put("/roles/{id}", s.handleUpdateRole)
		r.Put("/roles/{id}/permissions", s.handleRolePermissions)
		r.Delete("/roles/{id}", s.handleDeleteRole)

		r.Get("/users", s.handleListUsers)
		r.Post("/users", s.handleCreateUser)
		r.Get("/users/{id}", s.handleGetUser)
		r.Put("/users/{id}", s.handleUpdateUser)
		r.Delete("/users/{id}", s.handleDeleteUser)

		r.Post("/trials/{id}/sites", s.handleAssignSites("trials"))
		r.Post("/sponsors/{id}/sites", s.handleAssignSites("sponsors"))
		r.Post("/trials/{id}/sponsors", s.handleAssignSponsor)
		r.Delete("/trials/{id}/sponsors", s.handleRemoveSponsor)
		r.Post("/trials/{id}/documents", s.handleDocuments)

		r.Get("/{resource}", s.handleListRecords)
		r.Post("/{resource}", s.handleCreateRecord)
		r.Get("/{resource}/{id}", s.handleGetRecord)
		r.Put("/{resource}/{id}", s.handleUpdateRecord)
		r.Delete("/{resource}/{id}", s.handleDeleteRecord)
	})
	return r
}

// --- seeding and inspection ---

// AddModule registers a module.
func (s *Server) AddModule(m Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules = append(s.modules, m)
}

// AddRole stores a role. Permissions referencing a known module id get the
// module embedded.
func (s *Server) AddRole(r Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rr := r
	s.embedModules(&rr)
	s.roles[r.ID] = &rr
}

// AddUser stores a user.
func (s *Server) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uu := u
	s.users[u.ID] = &uu
}

// AddRecord stores a generic record. rec must carry an "id".
func (s *Server) AddRecord(resource string, rec map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[resource][fmt.Sprint(rec["id"])] = rec
}

// LinkSites sets the sites linked to owner ("trials" or "sponsors").
func (s *Server) LinkSites(owner, id string, siteIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sites[owner+"/"+id] = sortedUnique(siteIDs)
}

// LinkedSites returns the sites linked to owner.
func (s *Server) LinkedSites(owner, id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sites[owner+"/"+id]...)
}

// TrialSponsors returns the sponsor edges of a trial with their can_edit flag.
func (s *Server) TrialSponsors(trialID string) map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]bool{}
	for k, v := range s.sponsors[trialID] {
		out[k] = v
	}
	return out
}

// Role returns a stored role.
func (s *Server) Role(id string) (Role, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return Role{}, false
	}
	return *r, true
}

// IssueTokens mints a valid token pair for userID without a login.
func (s *Server) IssueTokens(userID string) (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mint(userID)
}

// ExpireAccessTokens invalidates every access token issued so far.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = map[string]string{}
}

// HoldRefresh blocks /auth/refresh until release is called.
func (s *Server) HoldRefresh() (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	s.gate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// HoldAssignments blocks site assignment calls until release is called.
func (s *Server) HoldAssignments() (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	s.assign = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// AssignmentsHeld counts site assignment calls that reached a HoldAssignments gate.
func (s *Server) AssignmentsHeld() int { return int(s.assignsHeld.Load()) }

// RefreshCalls counts /auth/refresh requests.
func (s *Server) RefreshCalls() int { return int(s.refreshCalls.Load()) }

// Unauthorized counts requests rejected for a bad bearer.
func (s *Server) Unauthorized() int { return int(s.unauthorized.Load()) }

// Calls returns the authorized calls received so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// --- auth ---

func (s *Server) mint(userID string) (string, string) {
	s.seq++
	access := fmt.Sprintf("access-%d", s.seq)
	refresh := fmt.Sprintf("refresh-%d", s.seq)
	s.access[access] = userID
	s.refresh[refresh] = userID
	return access, refresh
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		_, ok := s.access[token]
		s.mu.Unlock()
		if !ok {
			s.unauthorized.Add(1)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
			return
		}

		body, _ := readBody(r)
		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Token: token, Body: body})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, in.Email) && u.Password == in.Password {
			access, refresh := s.mint(u.ID)
			s.respond(w, http.StatusOK, map[string]any{
				"access_token":  access,
				"refresh_token": refresh,
				"user":          s.renderUser(u),
			})
			return
		}
	}
	writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusForbidden, map[string]string{"message": "registration is closed"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&in)

	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.refresh[in.RefreshToken]
	if s.FailRefresh.Load() || !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "refresh token invalid"})
		return
	}
	s.seq++
	access := fmt.Sprintf("access-%d", s.seq)
	s.access[access] = userID
	s.respond(w, http.StatusOK, map[string]string{"access_token": access})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&in)
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	delete(s.access, token)
	delete(s.refresh, in.RefreshToken)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[s.access[token]]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "no profile for this token"})
		return
	}
	s.respond(w, http.StatusOK, s.renderUser(u))
}

// --- roles and modules ---

func (s *Server) embedModules(r *Role) {
	for i := range r.Permissions {
		p := &r.Permissions[i]
		p.RoleID = r.ID
		if p.Module != nil {
			continue
		}
		for _, m := range s.modules {
			if m.ID == p.ModuleID {
				mm := m
				p.Module = &mm
			}
		}
	}
}

func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.respond(w, http.StatusOK, s.modules)
}

func (s *Server) sortedRoles() []Role {
	out := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.respond(w, http.StatusOK, s.sortedRoles())
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[chi.URLParam(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "role not found"})
		return
	}
	s.respond(w, http.StatusOK, role)
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var in Role
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" || in.EntityType == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "name and entity_type are required"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	in.ID = fmt.Sprintf("role-%d", s.seq)
	in.Permissions = []Permission{}
	s.roles[in.ID] = &in
	s.respond(w, http.StatusCreated, in)
}

func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[chi.URLParam(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "role not found"})
		return
	}
	if in.Name != nil {
		role.Name = *in.Name
	}
	if in.Description != nil {
		role.Description = *in.Description
	}
	s.respond(w, http.StatusOK, role)
}

func (s *Server) handleRolePermissions(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Permissions []Permission `json:"permissions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[chi.URLParam(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "role not found"})
		return
	}
	for _, p := range in.Permissions {
		replaced := false
		for i := range role.Permissions {
			if role.Permissions[i].ModuleID == p.ModuleID {
				id := role.Permissions[i].ID
				role.Permissions[i] = p
				role.Permissions[i].ID = id
				replaced = true
			}
		}
		if !replaced {
			s.seq++
			p.ID = fmt.Sprintf("perm-%d", s.seq)
			role.Permissions = append(role.Permissions, p)
		}
	}
	s.embedModules(role)
	s.respond(w, http.StatusOK, role.Permissions)
}

func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "role not found"})
		return
	}
	for _, u := range s.users {
		if u.RoleID == id {
			writeJSON(w, http.StatusConflict, map[string]string{"message": "role is assigned to users"})
			return
		}
	}
	delete(s.roles, id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Role deleted"})
}

// --- users ---

func (s *Server) renderUser(u *User) map[string]any {
	out := map[string]any{
		"id":          u.ID,
		"email":       u.Email,
		"phone":       u.Phone,
		"name":        u.Name,
		"entity_type": u.EntityType,
		"entity_id":   u.EntityID,
		"role":        nil,
	}
	if role, ok := s.roles[u.RoleID]; ok {
		out["role"] = role
	}
	return out
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.renderUser(s.users[id]))
	}
	s.respond(w, http.StatusOK, out)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[chi.URLParam(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "user not found"})
		return
	}
	s.respond(w, http.StatusOK, s.renderUser(u))
}

type userBody struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Password   string `json:"password"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	RoleID     string `json:"role_id"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var in userBody
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Email == "" || in.Password == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "email and password are required"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, in.Email) {
			writeJSON(w, http.StatusConflict, map[string]string{"message": "email already in use"})
			return
		}
	}
	s.seq++
	u := &User{
		ID: fmt.Sprintf("user-%d", s.seq), Email: in.Email, Phone: in.Phone, Name: in.Name,
		EntityType: in.EntityType, EntityID: in.EntityID, RoleID: in.RoleID, Password: in.Password,
	}
	s.users[u.ID] = u
	s.respond(w, http.StatusCreated, s.renderUser(u))
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var in userBody
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}
	if in.Password != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "password cannot be changed here"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[chi.URLParam(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "user not found"})
		return
	}
	u.Name, u.Email, u.Phone = in.Name, in.Email, in.Phone
	u.EntityType, u.EntityID, u.RoleID = in.EntityType, in.EntityID, in.RoleID
	s.respond(w, http.StatusOK, s.renderUser(u))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := chi.URLParam(r, "id")
	if _, ok := s.users[id]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "user not found"})
		return
	}
	delete(s.users, id)
	w.WriteHeader(http.StatusNoContent)
}

// --- assignments ---

func (s *Server) handleAssignSites(owner string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			SiteIDs []string `json:"site_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.SiteIDs == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "site_ids is required"})
			return
		}
		s.mu.Lock()
		gate := s.assign
		s.mu.Unlock()
		if gate != nil {
			s.assignsHeld.Add(1)
			<-gate
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.sites[owner+"/"+chi.URLParam(r, "id")] = sortedUnique(in.SiteIDs)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Sites assigned successfully"})
	}
}

func (s *Server) handleAssignSponsor(w http.ResponseWriter, r *http.Request) {
	var in struct {
		SponsorID string `json:"sponsor_id"`
		CanEdit   bool   `json:"can_edit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.SponsorID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "sponsor_id is required"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	trialID := chi.URLParam(r, "id")
	if s.sponsors[trialID] == nil {
		s.sponsors[trialID] = map[string]bool{}
	}
	s.sponsors[trialID][in.SponsorID] = in.CanEdit
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Sponsor assigned successfully"})
}

func (s *Server) handleRemoveSponsor(w http.ResponseWriter, r *http.Request) {
	var in struct {
		SponsorID string `json:"sponsor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.SponsorID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "sponsor_id is required"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sponsors[chi.URLParam(r, "id")], in.SponsorID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Sponsor removed"})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid multipart body"})
		return
	}
	var names, tags []string
	if err := json.Unmarshal([]byte(r.FormValue("document_names")), &names); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "document_names must be a JSON array"})
		return
	}
	if err := json.Unmarshal([]byte(r.FormValue("document_tags")), &tags); err != nil || len(tags) != len(names) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "document_tags must match document_names"})
		return
	}
	ids := make([]string, 0, len(names))
	for i := range names {
		if _, _, err := r.FormFile(fmt.Sprintf("documents[%d]", i)); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": fmt.Sprintf("documents[%d] missing", i)})
			return
		}
		ids = append(ids, fmt.Sprintf("doc-%d", i+1))
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "message": "Documents uploaded", "document_ids": ids})
}

// --- generic records ---

func (s *Server) collection(w http.ResponseWriter, r *http.Request) (string, bool) {
	res := chi.URLParam(r, "resource")
	if _, ok := s.records[res]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
		return "", false
	}
	return res, true
}

// renderRecord merges the linked sites and sponsors into owners.
func (s *Server) renderRecord(res string, rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec)+2)
	for k, v := range rec {
		out[k] = v
	}
	id := fmt.Sprint(rec["id"])
	if res == "trials" || res == "sponsors" {
		links := []map[string]string{}
		for _, sid := range s.sites[res+"/"+id] {
			links = append(links, map[string]string{"id": sid})
		}
		out["sites"] = links
	}
	if res == "trials" {
		links := []map[string]any{}
		ids := make([]string, 0, len(s.sponsors[id]))
		for sid := range s.sponsors[id] {
			ids = append(ids, sid)
		}
		sort.Strings(ids)
		for _, sid := range ids {
			links = append(links, map[string]any{"sponsor_id": sid, "can_edit": s.sponsors[id][sid]})
		}
		out["sponsors"] = links
	}
	return out
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.collection(w, r)
	if !ok {
		return
	}
	ids := make([]string, 0, len(s.records[res]))
	for id := range s.records[res] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.renderRecord(res, s.records[res][id]))
	}
	s.respond(w, http.StatusOK, out)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.collection(w, r)
	if !ok {
		return
	}
	rec, ok := s.records[res][chi.URLParam(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
		return
	}
	s.respond(w, http.StatusOK, s.renderRecord(res, rec))
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var in map[string]any
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.collection(w, r)
	if !ok {
		return
	}
	s.seq++
	in["id"] = fmt.Sprintf("%s-%d", strings.TrimSuffix(res, "s"), s.seq)
	s.records[res][in["id"].(string)] = in
	s.respond(w, http.StatusCreated, in)
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	var in map[string]any
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.collection(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if _, ok := s.records[res][id]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
		return
	}
	in["id"] = id
	s.records[res][id] = in
	s.respond(w, http.StatusOK, in)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.collection(w, r)
	if !ok {
		return
	}
	delete(s.records[res], chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	if s.Envelope.Load() {
		v = map[string]any{"data": v}
	}
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	b, err := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(b))
	return b, err
}

func sortedUnique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
