package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kilianp07/chargeslot/core/directory"
	"github.com/kilianp07/chargeslot/core/model"
)

// RequesterHeader carries the caller identity for HeaderAuthenticator.
const RequesterHeader = "X-Requester-ID"

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Principal(r *http.Request) (model.Principal, error)
}

// HeaderAuthenticator trusts the X-Requester-ID header set by an upstream
// gateway. When Directory is set the requester must be known to it.
type HeaderAuthenticator struct {
	Directory directory.Directory
}

// Principal implements Authenticator.
func (a HeaderAuthenticator) Principal(r *http.Request) (model.Principal, error) {
	id := strings.TrimSpace(r.Header.Get(RequesterHeader))
	if id == "" {
		return model.Principal{}, fmt.Errorf("missing %s header: %w", RequesterHeader, model.ErrUnauthenticated)
	}
	if a.Directory != nil {
		_, err := a.Directory.LookupRequester(r.Context(), id)
		switch {
		case errors.Is(err, model.ErrNotFound):
			return model.Principal{}, fmt.Errorf("requester %s: %w", id, model.ErrUnauthenticated)
		case err != nil:
			return model.Principal{}, fmt.Errorf("resolve requester %s: %w", id, err)
		}
	}
	return model.Principal{RequesterID: id}, nil
}

type principalKey struct{}

// requireAuth rejects unauthenticated requests and stores the principal in
// the request context.
func requireAuth(auth Authenticator, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.Principal(r)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	}
}

func principalFrom(ctx context.Context) model.Principal {
	p, _ := ctx.Value(principalKey{}).(model.Principal)
	return p
}

// requireToken guards admin routes with a static bearer token. An empty
// token disables the routes entirely.
func requireToken(token string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token == "" || r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
