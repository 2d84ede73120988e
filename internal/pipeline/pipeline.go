package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/iliyamo/seat-reservation-pipeline/internal/availability"
	"github.com/iliyamo/seat-reservation-pipeline/internal/broker"
	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
	"github.com/iliyamo/seat-reservation-pipeline/internal/obs"
	"github.com/iliyamo/seat-reservation-pipeline/internal/partition"
	"github.com/iliyamo/seat-reservation-pipeline/internal/store"
)

// Pipeline wires the stages to the partitions this instance owns.
type Pipeline struct {
	b     broker.Broker
	dir   *partition.Directory
	avail availability.Checker
	log   *slog.Logger

	inventory    *store.InventoryStore
	reservations *store.ReservationStore
	views        *store.ViewStore

	sectionInit  *SectionInitStage
	materializer *Materializer
	command      *CommandStage
	allocation   *AllocationStage
	completion   *CompletionStage
	view         *ViewMaterializer

	started atomic.Bool
}

// New builds the stages over kv.  now may be nil.
func New(b broker.Broker, dir *partition.Directory, kv store.KV, avail availability.Checker, now func() time.Time) *Pipeline {
	if avail == nil {
		avail = availability.NoOp{}
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	log := obs.Component("pipeline")
	p := &Pipeline{
		b:            b,
		dir:          dir,
		avail:        avail,
		log:          log,
		inventory:    store.NewInventoryStore(kv),
		reservations: store.NewReservationStore(kv),
		views:        store.NewViewStore(kv),
	}
	status := statusEmitter{pub: b, avail: avail, log: log, now: now}
	p.sectionInit = &SectionInitStage{inv: p.inventory, status: status, log: log}
	p.materializer = &Materializer{inv: p.inventory, status: status}
	p.command = &CommandStage{res: p.reservations, pub: b, now: now}
	p.allocation = &AllocationStage{inv: p.inventory, pub: b, status: status, log: log, now: now}
	p.completion = &CompletionStage{res: p.reservations, pub: b, log: log, now: now}
	p.view = &ViewMaterializer{views: p.views}
	return p
}

// Views is the queryable reservation view of this instance.
func (p *Pipeline) Views() *store.ViewStore { return p.views }

// Inventory exposes the local inventory store (read-only use).
func (p *Pipeline) Inventory() *store.InventoryStore { return p.inventory }

// Reservations exposes the local reservation store (read-only use).
func (p *Pipeline) Reservations() *store.ReservationStore { return p.reservations }

// Started reports whether Start completed.
func (p *Pipeline) Started() bool { return p.started.Load() }

// Start attaches one consumer per owned partition and topic, warms the
// availability cache from the local inventory and opens the view for
// queries.  Consumers run until ctx ends.
func (p *Pipeline) Start(ctx context.Context) error {
	owned := p.dir.Owned()
	for _, part := range owned {
		if err := p.b.Consume(ctx, TopicInventory, part, p.handleInventory); err != nil {
			return fmt.Errorf("pipeline: consume %s/%d: %w", TopicInventory, part, err)
		}
		if err := p.b.Consume(ctx, TopicReservations, part, p.handleReservations); err != nil {
			return fmt.Errorf("pipeline: consume %s/%d: %w", TopicReservations, part, err)
		}
		if err := p.b.Consume(ctx, TopicView, part, p.handleView); err != nil {
			return fmt.Errorf("pipeline: consume %s/%d: %w", TopicView, part, err)
		}
	}
	if err := p.b.SubscribeBroadcast(ctx, TopicSectionStatus, p.handleSectionStatus); err != nil {
		return fmt.Errorf("pipeline: subscribe %s: %w", TopicSectionStatus, err)
	}

	if err := p.warmAvailability(ctx, owned); err != nil {
		return err
	}
	p.views.MarkReady()
	p.started.Store(true)
	p.log.Info("pipeline started", "instance", p.dir.Self(), "partitions", owned)
	return nil
}

func (p *Pipeline) warmAvailability(ctx context.Context, owned []int) error {
	mine := make(map[int]bool, len(owned))
	for _, part := range owned {
		mine[part] = true
	}
	n := 0
	err := p.inventory.All(ctx, func(inv model.SeatInventory) error {
		if mine[partition.For(inv.Key(), p.dir.Partitions())] {
			p.avail.Set(ctx, inv.EventID, inv.Section, inv.AvailableCount)
			n++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("pipeline: warm availability: %w", err)
	}
	p.log.Debug("availability warmed", "sections", n)
	return nil
}

func (p *Pipeline) handleInventory(ctx context.Context, msg broker.Message) error {
	switch msg.Kind {
	case KindSectionInit:
		var cmd model.SectionInit
		if err := msg.Decode(&cmd); err != nil {
			return err
		}
		return p.sectionInit.Handle(ctx, cmd)
	case KindSeatEvent:
		var ev model.SeatStatusEvent
		if err := msg.Decode(&ev); err != nil {
			return err
		}
		return p.materializer.Handle(ctx, ev)
	case KindAllocationRequest:
		var req model.AllocationRequest
		if err := msg.Decode(&req); err != nil {
			return err
		}
		return p.allocation.Handle(ctx, req)
	}
	return fmt.Errorf("pipeline: unexpected %q on %s", msg.Kind, msg.Topic)
}

func (p *Pipeline) handleReservations(ctx context.Context, msg broker.Message) error {
	switch msg.Kind {
	case KindReservationCommand:
		var cmd model.ReservationCommand
		if err := msg.Decode(&cmd); err != nil {
			return err
		}
		return p.command.Handle(ctx, cmd)
	case KindAllocationResult:
		var res model.AllocationResult
		if err := msg.Decode(&res); err != nil {
			return err
		}
		return p.completion.Handle(ctx, res)
	}
	return fmt.Errorf("pipeline: unexpected %q on %s", msg.Kind, msg.Topic)
}

func (p *Pipeline) handleView(ctx context.Context, msg broker.Message) error {
	if msg.Kind != KindCompletion {
		return fmt.Errorf("pipeline: unexpected %q on %s", msg.Kind, msg.Topic)
	}
	var ev model.CompletionEvent
	if err := msg.Decode(&ev); err != nil {
		return err
	}
	return p.view.Handle(ctx, ev)
}

func (p *Pipeline) handleSectionStatus(ctx context.Context, msg broker.Message) error {
	var st model.SectionStatus
	if err := msg.Decode(&st); err != nil {
		return err
	}
	p.avail.Set(ctx, st.EventID, st.Section, st.AvailableCount)
	return nil
}
