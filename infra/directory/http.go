// Package directory resolves stations and requesters from the station
// management HTTP API.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kilianp07/chargeslot/auth"
	coredir "github.com/kilianp07/chargeslot/core/directory"
	"github.com/kilianp07/chargeslot/core/model"
	"github.com/kilianp07/chargeslot/infra/logger"
)

// HTTPDirectory implements coredir.Directory with GET {url}/stations/{id}
// and GET {url}/requesters/{id}.
type HTTPDirectory struct {
	base   string
	client *http.Client
	ttl    time.Duration
	now    func() time.Time
	log    logger.Logger

	mu    sync.Mutex
	cache map[string]cached
}

type cached struct {
	value   any
	expires time.Time
}

// NewHTTPDirectory builds a client for cfg. Requests carry an OAuth2 bearer
// token when cfg.Auth is configured.
func NewHTTPDirectory(cfg coredir.RemoteConfig) (*HTTPDirectory, error) {
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("%w: directory.remote.url: %v", model.ErrValidation, err)
	}
	timeout := 5 * time.Second
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	hc := &http.Client{Timeout: timeout}
	if cfg.Auth.Enabled() {
		hc.Transport = auth.NewClientCred(cfg.Auth).Transport(nil)
	}
	return &HTTPDirectory{
		base:   strings.TrimRight(cfg.URL, "/"),
		client: hc,
		ttl:    time.Duration(cfg.CacheTTLMS) * time.Millisecond,
		now:    time.Now,
		log:    logger.New("directory"),
		cache:  make(map[string]cached),
	}, nil
}

func (d *HTTPDirectory) LookupStation(ctx context.Context, id string) (model.Station, error) {
	var st model.Station
	if err := d.get(ctx, "stations", id, &st); err != nil {
		return model.Station{}, err
	}
	return st, nil
}

func (d *HTTPDirectory) LookupRequester(ctx context.Context, id string) (model.Requester, error) {
	var r model.Requester
	if err := d.get(ctx, "requesters", id, &r); err != nil {
		return model.Requester{}, err
	}
	return r, nil
}

func (d *HTTPDirectory) get(ctx context.Context, kind, id string, out any) error {
	if id == "" {
		return fmt.Errorf("%s id: %w", kind, model.ErrNotFound)
	}
	key := kind + "/" + id
	if d.fromCache(key, out) {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.base+"/"+kind+"/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", key, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", key, model.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("lookup %s: unexpected status %d", key, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	d.store(key, out)
	d.log.Debugf("resolved %s", key)
	return nil
}

func (d *HTTPDirectory) fromCache(key string, out any) bool {
	if d.ttl <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cache[key]
	if !ok || !d.now().Before(c.expires) {
		delete(d.cache, key)
		return false
	}
	switch v := c.value.(type) {
	case model.Station:
		*(out.(*model.Station)) = v
	case model.Requester:
		*(out.(*model.Requester)) = v
	default:
		return false
	}
	return true
}

func (d *HTTPDirectory) store(key string, out any) {
	if d.ttl <= 0 {
		return
	}
	var v any
	switch o := out.(type) {
	case *model.Station:
		v = *o
	case *model.Requester:
		v = *o
	default:
		return
	}
	d.mu.Lock()
	d.cache[key] = cached{value: v, expires: d.now().Add(d.ttl)}
	d.mu.Unlock()
}
