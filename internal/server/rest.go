package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/JoshJarabek7/messenger-backend/internal/auth"
	"github.com/JoshJarabek7/messenger-backend/internal/authz"
	"github.com/JoshJarabek7/messenger-backend/internal/handler"
	"github.com/JoshJarabek7/messenger-backend/internal/ierr"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HealthChecker reports whether the dispatch core is accepting work.
type HealthChecker func() bool

type RESTServer struct {
	logger *zap.Logger

	authenticator  *auth.Authenticator
	publishHandler *handler.PublishHandler
	historyHandler *handler.HistoryHandler
	memberships    authz.Store
	healthy        HealthChecker
}

func NewRESTServer(
	logger *zap.Logger,
	authenticator *auth.Authenticator,
	publishHandler *handler.PublishHandler,
	historyHandler *handler.HistoryHandler,
	memberships authz.Store,
	healthy HealthChecker,
) *RESTServer {
	return &RESTServer{
		logger,
		authenticator,
		publishHandler,
		historyHandler,
		memberships,
		healthy,
	}
}

func (s *RESTServer) Register(router *mux.Router) {
	router.HandleFunc("/scopes/{scopeId}/events", s.publish).Methods("POST")
	router.HandleFunc("/scopes/{scopeId}/events", s.history).Methods("GET")
	router.HandleFunc("/scopes/{scopeId}/members/{userId}", s.grant).Methods("PUT")
	router.HandleFunc("/scopes/{scopeId}/members/{userId}", s.revoke).Methods("DELETE")
	router.HandleFunc("/healthz", s.health).Methods("GET")
}

// authenticate resolves either an API key or a bearer token to a
// principal. Producers calling server-to-server use API keys.
func (s *RESTServer) authenticate(r *http.Request) (*auth.Authentication, error) {
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		return s.authenticator.AuthenticateAPIKey(apiKey)
	}

	authorization := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok {
		return nil, ierr.New(ierr.ErrorCodeInvalidCredential, errors.New("missing credentials"))
	}

	return s.authenticator.ValidateCredential(token)
}

func (s *RESTServer) publish(w http.ResponseWriter, r *http.Request) {
	authentication, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req handler.PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid request body")))
		return
	}
	req.ScopeId = mux.Vars(r)["scopeId"]

	response, err := s.publishHandler.Handle(r.Context(), req, authentication)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *RESTServer) history(w http.ResponseWriter, r *http.Request) {
	authentication, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	req := handler.HistoryRequest{
		ScopeId:    mux.Vars(r)["scopeId"],
		LastSeenId: r.URL.Query().Get("after"),
	}

	records, err := s.historyHandler.Handle(r.Context(), req, authentication)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, records)
}

func (s *RESTServer) grant(w http.ResponseWriter, r *http.Request) {
	s.mutateMembership(w, r, s.memberships.Grant)
}

func (s *RESTServer) revoke(w http.ResponseWriter, r *http.Request) {
	s.mutateMembership(w, r, s.memberships.Revoke)
}

func (s *RESTServer) mutateMembership(
	w http.ResponseWriter,
	r *http.Request,
	mutate func(ctx context.Context, userId string, scopeId string) error,
) {
	authentication, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if !authentication.IsService {
		s.writeError(w, ierr.New(ierr.ErrorCodeScopeForbidden,
			errors.New("membership management requires a service credential")))
		return
	}

	vars := mux.Vars(r)
	if err := mutate(r.Context(), vars["userId"], vars["scopeId"]); err != nil {
		s.writeError(w, ierr.New(ierr.ErrorCodeInternal, err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *RESTServer) health(w http.ResponseWriter, r *http.Request) {
	if !s.healthy() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *RESTServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *RESTServer) writeError(w http.ResponseWriter, err error) {
	var coded ierr.Error
	if !errors.As(err, &coded) {
		s.logger.Error("unhandled error in rest handler", zap.Error(err))
		coded = ierr.New(ierr.ErrorCodeInternal, errors.New("internal error"))
	}

	status := http.StatusInternalServerError
	switch coded.Code {
	case ierr.ErrorCodeInvalidArgument, ierr.ErrorCodeMalformedFrame:
		status = http.StatusBadRequest
	case ierr.ErrorCodeInvalidCredential, ierr.ErrorCodeAuthTimeout:
		status = http.StatusUnauthorized
	case ierr.ErrorCodeScopeForbidden:
		status = http.StatusForbidden
	case ierr.ErrorCodeNotFound:
		status = http.StatusNotFound
	}

	s.writeJSON(w, status, coded)
}
