package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"gowa-bridge/internal/helper"
	"gowa-bridge/internal/model"
	"gowa-bridge/internal/ws"

	"github.com/rs/zerolog"
)

// SinkFunc consumes one transition.
type SinkFunc func(ctx context.Context, t model.Transition) error

type namedSink struct {
	name string
	fn   SinkFunc
}

// Dispatcher fans transitions out to slow consumers (websocket, webhook,
// history) off the controller's event path. Observe never blocks; when the
// queue is full the transition is dropped for the sinks only.
type Dispatcher struct {
	queue       chan model.Transition
	sinks       []namedSink
	sinkTimeout time.Duration
	log         zerolog.Logger
}

func NewDispatcher(buffer int, log zerolog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 128
	}
	return &Dispatcher{
		queue:       make(chan model.Transition, buffer),
		sinkTimeout: 15 * time.Second,
		log:         log.With().Str("component", "dispatcher").Logger(),
	}
}

// AddSink must be called before Run.
func (d *Dispatcher) AddSink(name string, fn SinkFunc) {
	d.sinks = append(d.sinks, namedSink{name: name, fn: fn})
}

// Observe is registered with LifecycleController.Subscribe.
func (d *Dispatcher) Observe(t model.Transition) {
	select {
	case d.queue <- t:
	default:
		d.log.Warn().Str("to", string(t.To)).Msg("dispatch queue full, dropping transition")
	}
}

// Run delivers queued transitions in order until ctx is done, then
// drains what is already queued.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case t := <-d.queue:
			d.deliver(ctx, t)
		case <-ctx.Done():
			for {
				select {
				case t := <-d.queue:
					d.deliver(context.Background(), t)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, t model.Transition) {
	for _, s := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, d.sinkTimeout)
		if err := s.fn(sctx, t); err != nil {
			d.log.Warn().Err(err).Str("sink", s.name).Str("to", string(t.To)).Msg("sink failed")
		}
		cancel()
	}
}

// EventStoreSink persists transitions to the history table.
func EventStoreSink(store *model.ConnectionEventStore) SinkFunc {
	return func(ctx context.Context, t model.Transition) error {
		return store.Insert(ctx, model.EventFromTransition(t))
	}
}

// RealtimeSink publishes transitions, and new QR codes, to websocket clients.
func RealtimeSink(pub ws.RealtimePublisher) SinkFunc {
	return func(_ context.Context, t model.Transition) error {
		pub.Publish(ws.WsEvent{
			Event:     ws.EventStateChanged,
			Timestamp: t.At.UTC(),
			Data: ws.StateChangedData{
				HandleID:   t.HandleID,
				Generation: t.Generation,
				From:       string(t.From),
				To:         string(t.To),
				Cause:      t.Cause,
				Detail:     t.Detail,
			},
		})

		if t.QR != nil {
			data := ws.QRGeneratedData{HandleID: t.HandleID}
			if len(t.QR.PNG) > 0 {
				data.Image = helper.QRDataURL(t.QR.PNG)
			}
			if !t.QR.ExpiresAt.IsZero() {
				exp := t.QR.ExpiresAt.UTC()
				data.ExpiresAt = &exp
			}
			pub.Publish(ws.WsEvent{Event: ws.EventQRGenerated, Timestamp: t.At.UTC(), Data: data})
		}
		return nil
	}
}

// TerminalQRSink prints every new QR code to w.
func TerminalQRSink(w io.Writer) SinkFunc {
	return func(_ context.Context, t model.Transition) error {
		if t.QR == nil || t.QR.Code == "" {
			return nil
		}
		if _, err := fmt.Fprintln(w, "Scan this QR code with WhatsApp (Linked devices):"); err != nil {
			return err
		}
		helper.PrintQRTerminal(t.QR.Code, w)
		return nil
	}
}
