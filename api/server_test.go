package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/chargeslot/core/admission"
	"github.com/kilianp07/chargeslot/core/booking"
	"github.com/kilianp07/chargeslot/core/directory"
	"github.com/kilianp07/chargeslot/core/model"
	"github.com/kilianp07/chargeslot/core/monitoring"
	"github.com/kilianp07/chargeslot/infra/logger"
	"github.com/kilianp07/chargeslot/infra/store/memory"
)

type fixture struct {
	mux http.Handler
	dir *directory.MemoryDirectory
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := directory.NewMemoryDirectory()
	dir.PutStation(model.Station{ID: "s1", Capacity: 1, Verified: true})
	dir.PutStation(model.Station{ID: "pending", Capacity: 2})
	dir.PutRequester(model.Requester{ID: "alice"})
	dir.PutRequester(model.Requester{ID: "bob"})

	st := memory.New()
	res := booking.NewResolver(dir, st, nil, nil, logger.NopLogger{})
	sched, err := admission.New(admission.Config{
		BaseServiceTimeMS:    1800000,
		MinServiceTimeMS:     900000,
		DecrementPerWaiterMS: 500,
		CleanupIntervalMS:    3600000,
	}, dir, st, nil, logger.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sched.Close() })

	mux := NewRouter(Deps{
		Booking:    res,
		Queue:      sched,
		Admin:      dir,
		Auth:       HeaderAuthenticator{Directory: dir},
		AdminToken: "secret",
	})
	return fixture{mux: mux, dir: dir}
}

func (f fixture) do(t *testing.T, method, target, requester, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if requester != "" {
		req.Header.Set(RequesterHeader, requester)
	}
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestReserveAndConflict(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, "POST", "/api/stations/s1/reservations", "alice",
		`{"start":"2025-06-02T10:00:00Z","end":"2025-06-02T20:00:00Z","payment_amount":"12.50","remarks":"night"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created model.Reservation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, "alice", created.RequesterID)
	assert.Equal(t, "12.5", created.PaymentAmount.String())

	rr = f.do(t, "POST", "/api/stations/s1/reservations", "bob",
		`{"start":"2025-06-02T15:00:00Z","end":"2025-06-02T22:00:00Z"}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	body := decodeError(t, rr)
	assert.Equal(t, model.CodeConflict, body.Code)
	require.NotNil(t, body.EarliestFree)
	assert.True(t, body.EarliestFree.Equal(time.Date(2025, 6, 2, 20, 0, 0, 0, time.UTC)))
}

func TestReserveErrors(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name      string
		target    string
		requester string
		body      string
		status    int
		code      string
	}{
		{"no header", "/api/stations/s1/reservations", "", `{}`, http.StatusUnauthorized, model.CodeUnauthenticated},
		{"unknown requester", "/api/stations/s1/reservations", "mallory", `{}`, http.StatusUnauthorized, model.CodeUnauthenticated},
		{"bad json", "/api/stations/s1/reservations", "alice", `{`, http.StatusBadRequest, model.CodeValidation},
		{"inverted", "/api/stations/s1/reservations", "alice", `{"start":"2025-06-02T10:00:00Z","end":"2025-06-02T09:00:00Z"}`, http.StatusBadRequest, model.CodeValidation},
		{"unknown station", "/api/stations/nope/reservations", "alice", `{"start":"2025-06-02T10:00:00Z","end":"2025-06-02T11:00:00Z"}`, http.StatusNotFound, model.CodeNotFound},
		{"unverified", "/api/stations/pending/reservations", "alice", `{"start":"2025-06-02T10:00:00Z","end":"2025-06-02T11:00:00Z"}`, http.StatusForbidden, model.CodeUnverified},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(t, "POST", tc.target, tc.requester, tc.body)
			assert.Equal(t, tc.status, rr.Code)
			assert.Equal(t, tc.code, decodeError(t, rr).Code)
		})
	}
}

func TestListCancelAndAvailability(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, "POST", "/api/stations/s1/reservations", "alice",
		`{"start":"2025-06-02T10:00:00Z","end":"2025-06-02T11:00:00Z"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var created model.Reservation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	rr = f.do(t, "GET", "/api/reservations/mine", "alice", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var mine []model.Reservation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &mine))
	require.Len(t, mine, 1)

	rr = f.do(t, "GET", "/api/reservations/mine", "bob", "")
	assert.Equal(t, "[]\n", rr.Body.String())

	rr = f.do(t, "GET", "/api/stations/s1/availability?at=2025-06-02T10:30:00Z", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var a booking.Availability
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &a))
	assert.Equal(t, 1, a.Reserved)
	assert.Equal(t, 0, a.Available)

	rr = f.do(t, "GET", "/api/stations/s1/availability?at=yesterday", "", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, "DELETE", "/api/reservations/"+created.ID, "bob", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = f.do(t, "DELETE", "/api/reservations/"+created.ID, "bob", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, "GET", "/api/stations/s1/reservations", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]\n", rr.Body.String())
}

func TestQueueJoinAndStatus(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, "POST", "/api/stations/s1/queue", "alice", "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var first admission.JoinResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &first))
	assert.Equal(t, 1, first.Position)
	assert.Equal(t, model.DefaultPriority, first.Entry.Priority)

	rr = f.do(t, "POST", "/api/stations/s1/queue", "bob", `{"priority":1}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = f.do(t, "GET", "/api/stations/s1/queue", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var snap admission.StatusSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.True(t, snap.Busy)
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, "bob", snap.Entries[0].RequesterID)
	assert.Equal(t, model.QueueWaiting, snap.Entries[0].Status)
	assert.Equal(t, model.QueueProcessing, snap.Entries[1].Status)

	rr = f.do(t, "POST", "/api/stations/nope/queue", "alice", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = f.do(t, "POST", "/api/stations/s1/queue", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest("GET", "/api/admin/stations/unverified", nil)
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest("POST", "/api/admin/stations/pending/verify", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	st, err := f.dir.LookupStation(context.Background(), "pending")
	require.NoError(t, err)
	assert.True(t, st.Verified)
	assert.Empty(t, f.dir.ListUnverified(context.Background()))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusFor(model.CodeInternal))
	assert.Equal(t, http.StatusConflict, StatusFor(model.CodeConflict))
}

type panickingQueue struct{ Queue }

func (panickingQueue) Status(context.Context, string) (admission.StatusSnapshot, error) {
	panic("boom")
}

type capture struct{ panics int }

func (c *capture) CaptureException(error, map[string]string) {}
func (c *capture) CapturePanic(any, map[string]string)       { c.panics++ }
func (c *capture) Flush(time.Duration)                       {}

func TestPanicsAreReported(t *testing.T) {
	rec := &capture{}
	monitoring.Init(rec)
	t.Cleanup(func() { monitoring.Init(nil) })

	h := NewRouter(Deps{Queue: panickingQueue{}})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/stations/s1/queue", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, model.CodeInternal, decodeError(t, rr).Code)
	assert.Equal(t, 1, rec.panics)
}

type downDirectory struct{}

func (downDirectory) LookupStation(context.Context, string) (model.Station, error) {
	return model.Station{}, errors.New("directory unavailable")
}

func (downDirectory) LookupRequester(context.Context, string) (model.Requester, error) {
	return model.Requester{}, errors.New("directory unavailable")
}

func TestDirectoryOutageIsNotUnauthenticated(t *testing.T) {
	_, err := HeaderAuthenticator{Directory: downDirectory{}}.Principal(func() *http.Request {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set(RequesterHeader, "alice")
		return r
	}())
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrUnauthenticated)
	assert.Equal(t, model.CodeInternal, model.Code(err))

	h := NewRouter(Deps{Auth: HeaderAuthenticator{Directory: downDirectory{}}})
	req := httptest.NewRequest("GET", "/api/reservations/mine", nil)
	req.Header.Set(RequesterHeader, "alice")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	f := newFixture(t)
	rr = f.do(t, "GET", "/api/reservations/mine", "stranger", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, model.CodeUnauthenticated, decodeError(t, rr).Code)
}
