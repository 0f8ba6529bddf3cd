package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"banward/internal/daemon"
)

// Server exposes the event and admin API. It holds no core state; every
// request is forwarded into the daemon's control flow.
type Server struct {
	daemon *daemon.Daemon
	listen string

	server *http.Server
}

func New(d *daemon.Daemon, listen string) *Server {
	return &Server{
		daemon: d,
		listen: listen,
	}
}

func (s *Server) ListenAndServe() error {
	s.server = &http.Server{Addr: s.listen, Handler: s.handler()}

	return s.server.ListenAndServe()
}

func (s *Server) handler() http.Handler {
	router := mux.NewRouter().StrictSlash(true)

	apiRouter := router.PathPrefix("/api").Subrouter()
	// The custom pattern lets CIDR-form addresses through the path.
	apiRouter.HandleFunc("/attempt/{ip:.+}", s.reportAttempt).Methods(http.MethodPut)
	apiRouter.HandleFunc("/records", s.listRecords).Methods(http.MethodGet)
	apiRouter.HandleFunc("/banned", s.listBanned).Methods(http.MethodGet)
	apiRouter.HandleFunc("/unban/{ip:.+}", s.unban).Methods(http.MethodPost)
	apiRouter.HandleFunc("/whitelist/{ip:.+}", s.whitelist).Methods(http.MethodPut)
	apiRouter.HandleFunc("/policy", s.getPolicy).Methods(http.MethodGet)
	apiRouter.HandleFunc("/policy", s.updatePolicy).Methods(http.MethodPatch)
	apiRouter.HandleFunc("/flush", s.flush).Methods(http.MethodPost)
	apiRouter.HandleFunc("/reset", s.reset).Methods(http.MethodPost)

	return cors.Default().Handler(router)
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}
