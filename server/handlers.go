package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/jrsteele09/go-auth-session/identity"
	"github.com/jrsteele09/go-auth-session/idp"
	"github.com/jrsteele09/go-auth-session/session"
)

// maxInspectBytes bounds how much of a proxied JSON response is read for invalidation signals.
const maxInspectBytes = 1 << 20

// SessionView is the public view of the session. Tokens are never exposed.
type SessionView struct {
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func (s *Server) view() SessionView {
	state := s.supervisor.State()
	return SessionView{Status: state.Status.String(), ExpiresAt: state.ExpiresAt}
}

// CallbackHandler starts the session from the tokens on the login redirect.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callback := *r.URL
		if r.Method == http.MethodPost {
			if err := r.ParseForm(); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
				return
			}
			callback.RawQuery = r.PostForm.Encode()
		}

		tokens, err := idp.ParseCallback(&callback)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_callback", err.Error())
			return
		}

		err = s.supervisor.Login(r.Context(), tokens)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, s.view())
		case errors.Is(err, session.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "already_signed_in", err.Error())
		case errors.Is(err, session.ErrSessionExpired):
			writeError(w, http.StatusUnauthorized, "session_expired", err.Error())
		default:
			// The identity check could not run; the session waits in authenticating.
			s.logger.Warn().Err(err).Msg("Identity check pending")
			writeJSON(w, http.StatusAccepted, s.view())
		}
	}
}

// LogoutHandler ends the session everywhere and redirects to the provider's end-session URL.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endSession, err := s.supervisor.Logout(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "no_session", err.Error())
			return
		}
		if endSession == "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Redirect(w, r, endSession, http.StatusFound)
	}
}

func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.view())
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

// APIProxy forwards requests to target through the gate. A 401 from the API is returned as is;
// an invalidation signal in a JSON response ends the session.
func (s *Server) APIProxy(target *url.URL) http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del("Cookie")
		},
		Transport:      s.gate.Transport(nil),
		ModifyResponse: s.inspectResponse,
		ErrorHandler:   s.proxyError,
	}
}

func (s *Server) inspectResponse(resp *http.Response) error {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "application/json" && mediaType != "application/graphql-response+json" {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInspectBytes+1))
	if err != nil {
		return err
	}
	if len(body) > maxInspectBytes {
		resp.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(body), resp.Body), resp.Body}
		return nil
	}
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	if err := identity.DecodeResponse(body, nil); err != nil {
		if s.supervisor.HandleError(resp.Request.Context(), err) {
			s.logger.Warn().Err(err).Str("path", resp.Request.URL.Path).Msg("API invalidated the session")
		}
	}
	return nil
}

func (s *Server) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, session.ErrSessionExpired) {
		writeError(w, http.StatusUnauthorized, "session_expired", "sign in again")
		return
	}
	s.logError(r.Method, r.URL.Path, err.Error())
	writeError(w, http.StatusBadGateway, "bad_gateway", "API unavailable")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{Error: code, ErrorDescription: description})
}
