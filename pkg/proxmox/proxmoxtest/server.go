// Package proxmoxtest provides an in-memory Proxmox VE API for tests.
package proxmoxtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/hangar/pkg/types"
)

// Request is a request received by the fake server
type Request struct {
	Method string
	Path   string
	Cookie string
	CSRF   string
}

// Server is a fake Proxmox node
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	username     string
	password     string
	realm        string
	ticket       string
	csrfToken    string
	resources    []map[string]any
	authStatus   int
	listStatus   int
	actionStatus int
	actionBody   string
	delay        time.Duration
	requests     []Request
}

// NewServer starts a fake node accepting username/password in realm pam.
// It is closed when the test finishes.
func NewServer(t testing.TB, username, password string) *Server {
	t.Helper()

	s := &Server{
		username:  username,
		password:  password,
		realm:     types.DefaultRealm,
		ticket:    "PVE:" + username + "@pam:6710A2B3::c2lnbmF0dXJl",
		csrfToken: "6710A2B3:Y3NyZnRva2Vu",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api2/json/access/ticket", s.handleTicket)
	mux.HandleFunc("GET /api2/json/cluster/resources", s.handleResources)
	mux.HandleFunc("POST /api2/json/nodes/{node}/{kind}/{vmid}/status/{action}", s.handleAction)

	s.Server = httptest.NewServer(s.record(mux))
	t.Cleanup(s.Close)
	return s
}

// Node returns a node configuration pointing at the server
func (s *Server) Node(name string) *types.NodeConfig {
	return &types.NodeConfig{
		Name:          name,
		Host:          s.URL,
		Username:      s.username,
		Realm:         s.realm,
		CredentialRef: "node/" + name + "/password",
	}
}

// Ticket returns the ticket issued on successful login
func (s *Server) Ticket() string { return s.ticket }

// CSRFToken returns the anti-forgery token issued on successful login
func (s *Server) CSRFToken() string { return s.csrfToken }

// SetResources replaces the cluster resource listing
func (s *Server) SetResources(resources ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources = resources
}

// FailAuth makes every login answer with status
func (s *Server) FailAuth(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authStatus = status
}

// FailList makes the resource listing answer with status
func (s *Server) FailList(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listStatus = status
}

// FailAction makes status actions answer with status and body
func (s *Server) FailAction(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actionStatus = status
	s.actionBody = body
}

// SetDelay delays every response
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Requests returns every request received so far
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Cookie: r.Header.Get("Cookie"),
			CSRF:   r.Header.Get("CSRFPreventionToken"),
		})
		delay := s.delay
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleTicket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.authStatus != 0 {
		writeData(w, s.authStatus, nil)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeData(w, http.StatusBadRequest, nil)
		return
	}
	if r.PostForm.Get("username") != s.username || r.PostForm.Get("password") != s.password || r.PostForm.Get("realm") != s.realm {
		writeData(w, http.StatusUnauthorized, nil)
		return
	}

	writeData(w, http.StatusOK, map[string]string{
		"ticket":              s.ticket,
		"CSRFPreventionToken": s.csrfToken,
		"username":            s.username + "@" + s.realm,
	})
}

func (s *Server) authorized(r *http.Request, mutating bool) bool {
	if r.Header.Get("Cookie") != "PVEAuthCookie="+s.ticket {
		return false
	}
	return !mutating || r.Header.Get("CSRFPreventionToken") == s.csrfToken
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authorized(r, false) {
		writeData(w, http.StatusUnauthorized, nil)
		return
	}
	if s.listStatus != 0 {
		writeData(w, s.listStatus, nil)
		return
	}

	resources := s.resources
	if resources == nil {
		resources = []map[string]any{}
	}
	writeData(w, http.StatusOK, resources)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authorized(r, true) {
		writeData(w, http.StatusUnauthorized, nil)
		return
	}
	if s.actionStatus != 0 {
		w.WriteHeader(s.actionStatus)
		_, _ = w.Write([]byte(s.actionBody))
		return
	}

	upid := fmt.Sprintf("UPID:%s:0000C350:00A1B2C3:6710A2B3:%s%s:%s:root@pam:",
		r.PathValue("node"), r.PathValue("kind"), r.PathValue("action"), r.PathValue("vmid"))
	writeData(w, http.StatusOK, upid)
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}
