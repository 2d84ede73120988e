package query

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
	"github.com/iliyamo/seat-reservation-pipeline/internal/partition"
)

// InternalPath is the peer endpoint prefix serving local view reads.
const InternalPath = "/internal/reservations/"

// HTTPRemote reads from peers over plain HTTP.
type HTTPRemote struct {
	client *http.Client
}

// NewHTTPRemote returns a remote with the given per-request timeout.
func NewHTTPRemote(timeout time.Duration) *HTTPRemote {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPRemote{client: &http.Client{Timeout: timeout}}
}

// Fetch calls GET http://<peer.Addr>/internal/reservations/<id>.  A 404
// becomes ErrNotFound; every other failure is ErrRemoteUnavailable.
func (h *HTTPRemote) Fetch(ctx context.Context, peer partition.Member, id string) (model.ReservationView, error) {
	u := "http://" + peer.Addr + InternalPath + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.ReservationView{}, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return model.ReservationView{}, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return model.ReservationView{}, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return model.ReservationView{}, fmt.Errorf("%w: peer %s answered %d", ErrRemoteUnavailable, peer.ID, resp.StatusCode)
	}

	var view model.ReservationView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return model.ReservationView{}, fmt.Errorf("%w: decode: %v", ErrRemoteUnavailable, err)
	}
	return view, nil
}
