package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
	"github.com/iliyamo/seat-reservation-pipeline/internal/query"
	"github.com/iliyamo/seat-reservation-pipeline/internal/service"
	"github.com/iliyamo/seat-reservation-pipeline/internal/ticketstream"
)

type fakeReservations struct {
	created   model.ReservationCommand
	createRes service.CreateResult
	createErr error

	view    model.ReservationView
	pending bool
	err     error
	awaited bool
}

func (f *fakeReservations) CreateReservation(_ context.Context, cmd model.ReservationCommand) (service.CreateResult, error) {
	f.created = cmd
	if f.createErr != nil {
		return service.CreateResult{}, f.createErr
	}
	if err := cmd.Validate(); err != nil {
		return service.CreateResult{}, err
	}
	return f.createRes, nil
}

func (f *fakeReservations) GetReservation(context.Context, string) (model.ReservationView, error) {
	return f.view, f.err
}

func (f *fakeReservations) AwaitReservation(context.Context, string) (model.ReservationView, bool, error) {
	f.awaited = true
	return f.view, f.pending, f.err
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("body %q: %v", rec.Body.String(), err)
	}
	return m
}

func reservationServer(f *fakeReservations) *echo.Echo {
	e := echo.New()
	h := NewReservationHandler(f)
	e.POST("/v1/reservations", h.Create)
	e.GET("/v1/reservations/:id", h.Get)
	return e
}

func TestCreateReservationAccepted(t *testing.T) {
	f := &fakeReservations{createRes: service.CreateResult{ReservationID: "r-1"}}
	rec := do(reservationServer(f), http.MethodPost, "/v1/reservations", `{"eventId":1,"section":" A ","seatCount":2,"userId":"u"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	m := decode(t, rec)
	if m["reservationId"] != "r-1" {
		t.Fatalf("body = %v", m)
	}
	if _, ok := m["status"]; ok {
		t.Fatalf("status present for undecided reservation: %v", m)
	}
	if f.created.Section != "A" {
		t.Fatalf("section not trimmed: %q", f.created.Section)
	}
}

func TestCreateReservationRejectedImmediately(t *testing.T) {
	f := &fakeReservations{createRes: service.CreateResult{ReservationID: "r-2", Status: model.StatusRejected}}
	rec := do(reservationServer(f), http.MethodPost, "/v1/reservations", `{"eventId":1,"section":"A","seatCount":50,"userId":"u"}`)
	if rec.Code != http.StatusAccepted || decode(t, rec)["status"] != "REJECTED" {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestCreateReservationValidation(t *testing.T) {
	f := &fakeReservations{}
	rec := do(reservationServer(f), http.MethodPost, "/v1/reservations", `{"eventId":1,"section":"A","seatCount":0,"userId":"u"}`)
	if rec.Code != http.StatusBadRequest || decode(t, rec)["field"] != "seatCount" {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	rec = do(reservationServer(f), http.MethodPost, "/v1/reservations", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", rec.Code)
	}
}

func TestCreateReservationUsesTokenSubject(t *testing.T) {
	f := &fakeReservations{createRes: service.CreateResult{ReservationID: "r-3"}}
	e := echo.New()
	h := NewReservationHandler(f)
	e.POST("/v1/reservations", h.Create, func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("user_id", "from-token")
			return next(c)
		}
	})
	do(e, http.MethodPost, "/v1/reservations", `{"eventId":1,"section":"A","seatCount":1,"userId":"spoofed"}`)
	if f.created.UserID != "from-token" {
		t.Fatalf("user = %q", f.created.UserID)
	}
}

func TestGetReservationOutcomes(t *testing.T) {
	confirmed := model.ReservationView{ReservationID: "r", Status: model.StatusConfirmed, AllocatedSeats: []string{"A-1"}}
	cases := []struct {
		name   string
		f      *fakeReservations
		target string
		code   int
	}{
		{"confirmed", &fakeReservations{view: confirmed}, "/v1/reservations/r", http.StatusOK},
		{"pending", &fakeReservations{pending: true}, "/v1/reservations/r", http.StatusAccepted},
		{"not ready", &fakeReservations{err: query.ErrNotReady}, "/v1/reservations/r", http.StatusServiceUnavailable},
		{"remote down", &fakeReservations{err: fmt.Errorf("peer b: %w", query.ErrRemoteUnavailable)}, "/v1/reservations/r", http.StatusBadGateway},
		{"no wait not found", &fakeReservations{err: query.ErrNotFound}, "/v1/reservations/r?wait=false", http.StatusNotFound},
		{"no wait found", &fakeReservations{view: confirmed}, "/v1/reservations/r?wait=false", http.StatusOK},
		{"internal", &fakeReservations{err: fmt.Errorf("disk")}, "/v1/reservations/r", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(reservationServer(tc.f), http.MethodGet, tc.target, "")
			if rec.Code != tc.code {
				t.Fatalf("status = %d, want %d body=%s", rec.Code, tc.code, rec.Body.String())
			}
			waited := !strings.Contains(tc.target, "wait=false")
			if tc.f.awaited != waited {
				t.Fatalf("awaited = %v, want %v", tc.f.awaited, waited)
			}
		})
	}
}

func TestGetPendingBody(t *testing.T) {
	rec := do(reservationServer(&fakeReservations{pending: true}), http.MethodGet, "/v1/reservations/abc", "")
	m := decode(t, rec)
	if m["reservationId"] != "abc" || m["status"] != "PENDING" {
		t.Fatalf("body = %v", m)
	}
}

type fakeLocal struct {
	view model.ReservationView
	err  error
}

func (f fakeLocal) QueryLocal(context.Context, string) (model.ReservationView, error) { return f.view, f.err }

func TestInternalReservation(t *testing.T) {
	cases := map[string]struct {
		local fakeLocal
		code  int
	}{
		"found":     {fakeLocal{view: model.ReservationView{ReservationID: "x"}}, http.StatusOK},
		"not found": {fakeLocal{err: query.ErrNotFound}, http.StatusNotFound},
		"not ready": {fakeLocal{err: query.ErrNotReady}, http.StatusServiceUnavailable},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			e := echo.New()
			e.GET("/internal/reservations/:id", InternalReservation(tc.local))
			if rec := do(e, http.MethodGet, "/internal/reservations/x", ""); rec.Code != tc.code {
				t.Fatalf("status = %d, want %d", rec.Code, tc.code)
			}
		})
	}
}

type fakeSections struct {
	inits  []model.SectionInit
	events []model.SeatStatusEvent
	counts map[string]int
}

func (f *fakeSections) InitSection(_ context.Context, cmd model.SectionInit) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	f.inits = append(f.inits, cmd)
	return nil
}

func (f *fakeSections) PublishSeatEvent(_ context.Context, ev model.SeatStatusEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeSections) SectionAvailability(_ context.Context, eventID int64, section string) (int, bool) {
	n, ok := f.counts[model.InventoryKey(eventID, section)]
	return n, ok
}

func sectionServer(f *fakeSections) *echo.Echo {
	e := echo.New()
	h := NewSectionHandler(f)
	e.POST("/v1/sections", h.Init)
	e.POST("/v1/seat-events", h.SeatEvent)
	e.GET("/v1/sections/:eventId/:section", h.Status)
	return e
}

func TestSectionEndpoints(t *testing.T) {
	f := &fakeSections{counts: map[string]int{model.InventoryKey(1, "A"): 7}}
	e := sectionServer(f)

	if rec := do(e, http.MethodPost, "/v1/sections", `{"eventId":1,"section":"A","rows":2,"seatsPerRow":5,"initiallyReserved":["A-1"]}`); rec.Code != http.StatusAccepted {
		t.Fatalf("init status = %d body=%s", rec.Code, rec.Body.String())
	}
	if len(f.inits) != 1 || f.inits[0].InitiallyReserved[0] != "A-1" {
		t.Fatalf("inits = %+v", f.inits)
	}
	if rec := do(e, http.MethodPost, "/v1/sections", `{"eventId":1,"section":"A","rows":0,"seatsPerRow":5}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid init status = %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/v1/seat-events", `{"eventId":1,"section":"A","seatId":"A-2","status":"RESERVED"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("seat event status = %d body=%s", rec.Code, rec.Body.String())
	}
	if rec := do(e, http.MethodPost, "/v1/seat-events", `{"eventId":1,"section":"A","seatId":"A-2","status":"SOLD"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status accepted: %d", rec.Code)
	}

	rec := do(e, http.MethodGet, "/v1/sections/1/A", "")
	if rec.Code != http.StatusOK || decode(t, rec)["availableCount"] != float64(7) {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if rec := do(e, http.MethodGet, "/v1/sections/1/Z", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown section status = %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/v1/sections/abc/A", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad event id status = %d", rec.Code)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	ready := false
	e := echo.New()
	e.GET("/healthz", Health)
	e.GET("/readyz", Readiness(func() bool { return ready }))

	if rec := do(e, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before start = %d", rec.Code)
	}
	ready = true
	if rec := do(e, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Fatalf("readyz after start = %d", rec.Code)
	}
}

func TestTicketStream(t *testing.T) {
	hub := ticketstream.NewHub(4)
	e := echo.New()
	e.GET("/v1/events/:eventId/tickets/stream", TicketStream(hub, time.Minute))
	srv := httptest.NewServer(e)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events/9/tickets/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	for hub.Subscribers(9) == 0 {
		if ctx.Err() != nil {
			t.Fatalf("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish(9, []model.Ticket{{EventID: 9, SeatNumber: "C-3", Status: model.TicketReserved}})

	sc := bufio.NewScanner(resp.Body)
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
			break
		}
	}
	if event != ticketstream.EventName || !strings.Contains(data, `"seatNumber":"C-3"`) {
		t.Fatalf("event=%q data=%q", event, data)
	}
}
