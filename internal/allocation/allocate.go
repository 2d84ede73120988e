// Package allocation picks consecutive seats out of a section inventory.
package allocation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
)

// SeatNumber returns the numeric suffix of a seat id ("A-12" -> 12).  The
// suffix is whatever follows the last '-'.  ok is false when there is no
// dash or the suffix is not a non-negative integer.
func SeatNumber(seatID string) (int, bool) {
	i := strings.LastIndexByte(seatID, '-')
	if i < 0 || i == len(seatID)-1 {
		return 0, false
	}
	n, err := strconv.Atoi(seatID[i+1:])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// FailureReason is the reason attached to every capacity rejection.
func FailureReason(section string) string {
	return fmt.Sprintf("not enough consecutive available seats in section %s", section)
}

type numberedSeat struct {
	id  string
	num int
}

// FindConsecutive returns the lowest-numbered run of seatCount available
// seats whose numbers increase by exactly one, in ascending order.  Seats
// with a malformed number never take part in a run.  ok is false when no
// such run exists or seatCount is not positive.
func FindConsecutive(inv model.SeatInventory, seatCount int) ([]string, bool) {
	if seatCount <= 0 || inv.AvailableCount < seatCount {
		return nil, false
	}

	seats := make([]numberedSeat, 0, inv.AvailableCount)
	for id, st := range inv.SeatStatus {
		if st != model.SeatAvailable {
			continue
		}
		if n, ok := SeatNumber(id); ok {
			seats = append(seats, numberedSeat{id: id, num: n})
		}
	}
	if len(seats) < seatCount {
		return nil, false
	}
	sort.Slice(seats, func(i, j int) bool {
		if seats[i].num != seats[j].num {
			return seats[i].num < seats[j].num
		}
		return seats[i].id < seats[j].id
	})

	// run counts how many seats ending at i are consecutive
	run := 1
	if seatCount == 1 {
		return []string{seats[0].id}, true
	}
	for i := 1; i < len(seats); i++ {
		if seats[i].num == seats[i-1].num+1 {
			run++
		} else {
			run = 1
		}
		if run == seatCount {
			out := make([]string, seatCount)
			for j := range out {
				out[j] = seats[i-seatCount+1+j].id
			}
			return out, true
		}
	}
	return nil, false
}

// Allocate decides a request against inv.  On success the chosen seats
// are flipped to RESERVED in inv (which the caller must persist) and the
// result lists them ascending.  On failure inv is untouched.
func Allocate(inv *model.SeatInventory, req model.AllocationRequest) model.AllocationResult {
	res := model.AllocationResult{ReservationID: req.ReservationID, AllocatedSeats: []string{}}
	if inv == nil {
		res.FailureReason = FailureReason(req.Section)
		return res
	}
	seats, ok := FindConsecutive(*inv, req.SeatCount)
	if !ok {
		res.FailureReason = FailureReason(req.Section)
		return res
	}
	for _, id := range seats {
		inv.SetStatus(id, model.SeatReserved)
	}
	res.Success = true
	res.AllocatedSeats = seats
	return res
}
