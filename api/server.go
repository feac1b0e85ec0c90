// Package api exposes reservations and walk-up queues over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/kilianp07/chargeslot/infra/logger"
)

// Config holds the HTTP listener settings.
type Config struct {
	Addr string `json:"addr"`
	// AdminToken enables the station approval routes when set.
	AdminToken string `json:"admin_token"`
}

// SetDefaults applies the default listen address.
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}

// Deps are the collaborators served by the router. Admin may be nil.
type Deps struct {
	Booking    Booking
	Queue      Queue
	Admin      StationAdmin
	Auth       Authenticator
	AdminToken string
}

// NewRouter registers every route on a new ServeMux. Handler panics are
// reported and answered with a 500.
func NewRouter(d Deps) http.Handler {
	if d.Auth == nil {
		d.Auth = HeaderAuthenticator{}
	}
	rh := reservationHandlers{booking: d.Booking}
	qh := queueHandlers{queue: d.Queue}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/stations/{id}/reservations", requireAuth(d.Auth, rh.reserve))
	mux.HandleFunc("GET /api/stations/{id}/reservations", rh.listByStation)
	mux.HandleFunc("GET /api/stations/{id}/availability", rh.availability)
	mux.HandleFunc("DELETE /api/reservations/{id}", requireAuth(d.Auth, rh.cancel))
	mux.HandleFunc("GET /api/reservations/mine", requireAuth(d.Auth, rh.listMine))
	mux.HandleFunc("POST /api/stations/{id}/queue", requireAuth(d.Auth, qh.join))
	mux.HandleFunc("GET /api/stations/{id}/queue", qh.status)
	if d.Admin != nil {
		ah := adminHandlers{admin: d.Admin}
		mux.HandleFunc("GET /api/admin/stations/unverified", requireToken(d.AdminToken, ah.unverified))
		mux.HandleFunc("POST /api/admin/stations/{id}/verify", requireToken(d.AdminToken, ah.verify))
	}
	return recoverPanics(mux)
}

// Serve runs an HTTP server for h on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	log := logger.New("api-server")
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("api server shutdown: %v", err)
		}
		cancel()
	}()
	log.Infof("serving api on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
