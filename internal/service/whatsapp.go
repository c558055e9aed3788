package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gowa-bridge/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

const handleEventBuffer = 64

// WhatsmeowProvider creates handles backed by whatsmeow clients sharing
// one device store container.
type WhatsmeowProvider struct {
	container *sqlstore.Container
	log       zerolog.Logger
}

func NewWhatsmeowProvider(container *sqlstore.Container, deviceName string, log zerolog.Logger) *WhatsmeowProvider {
	if deviceName != "" {
		// global setting, must be set before a device pairs
		store.DeviceProps.Os = proto.String(deviceName)
	}
	return &WhatsmeowProvider{
		container: container,
		log:       log.With().Str("component", "whatsmeow").Logger(),
	}
}

// NewHandle reuses the stored device when one exists, otherwise a new
// device is created and paired through the QR flow.
func (p *WhatsmeowProvider) NewHandle(ctx context.Context) (Handle, error) {
	device, err := p.container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load device: %w", err)
	}

	id := uuid.NewString()
	log := p.log.With().Str("handle_id", id).Logger()
	client := whatsmeow.NewClient(device, waLog.Zerolog(log))

	hctx, cancel := context.WithCancel(context.Background())
	h := &whatsmeowHandle{
		id:     id,
		client: client,
		log:    log,
		events: make(chan Event, handleEventBuffer),
		ctx:    hctx,
		cancel: cancel,
	}
	h.handlerID = client.AddEventHandler(h.handleEvent)

	return h, nil
}

type whatsmeowHandle struct {
	id        string
	client    *whatsmeow.Client
	handlerID uint32
	log       zerolog.Logger

	// ctx lives as long as the handle, not the request that created it
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	closed    bool
	events    chan Event
	closeOnce sync.Once
}

func (h *whatsmeowHandle) ID() string {
	return h.id
}

func (h *whatsmeowHandle) Events() <-chan Event {
	return h.events
}

func (h *whatsmeowHandle) emit(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.events <- ev:
	case <-h.ctx.Done():
	}
}

func (h *whatsmeowHandle) Start(ctx context.Context) error {
	if h.client.Store.ID != nil {
		if err := h.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		return nil
	}

	qrChan, err := h.client.GetQRChannel(h.ctx)
	if err != nil {
		return fmt.Errorf("failed to get qr channel: %w", err)
	}
	if err := h.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	go h.watchQR(qrChan)
	return nil
}

func (h *whatsmeowHandle) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			h.log.Info().Dur("timeout", item.Timeout).Msg("new qr code received")
			h.emit(Event{Kind: EventQR, QRCode: item.Code, QRTimeout: item.Timeout})

		case whatsmeow.QRChannelSuccess.Event:
			// PairSuccess reports it through the event handler

		case whatsmeow.QRChannelTimeout.Event:
			h.emit(Event{Kind: EventAuthFailure, Reason: "qr code expired without being scanned"})

		default:
			reason := item.Event
			if item.Error != nil {
				reason = fmt.Sprintf("%s: %v", item.Event, item.Error)
			}
			h.emit(Event{Kind: EventAuthFailure, Reason: reason})
		}
	}
}

func (h *whatsmeowHandle) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.PairSuccess:
		h.log.Info().Str("jid", e.ID.String()).Str("platform", e.Platform).Msg("pair success")
		h.emit(Event{Kind: EventAuthenticated})

	case *events.Connected:
		if h.client.Store.ID == nil {
			return
		}
		// presence makes the linked device show as online
		if h.client.Store.PushName != "" {
			if err := h.client.SendPresence(h.ctx, types.PresenceAvailable); err != nil {
				h.log.Warn().Err(err).Msg("failed to send presence")
			}
		}
		h.emit(Event{Kind: EventReady})

	case *events.ConnectFailure:
		h.emit(Event{Kind: EventAuthFailure, Reason: fmt.Sprintf("connect failure: %v %s", e.Reason, e.Message)})

	case *events.TemporaryBan:
		h.emit(Event{Kind: EventAuthFailure, Reason: e.String()})

	case *events.ClientOutdated:
		h.emit(Event{Kind: EventAuthFailure, Reason: "client outdated"})

	case *events.LoggedOut:
		h.emit(Event{Kind: EventDisconnected, Reason: fmt.Sprintf("logged out: %v", e.Reason)})

	case *events.StreamReplaced:
		h.emit(Event{Kind: EventDisconnected, Reason: "stream replaced by another connection"})

	case *events.Disconnected:
		h.emit(Event{Kind: EventDisconnected, Reason: "connection lost"})

	case *events.KeepAliveTimeout:
		h.log.Warn().Int("error_count", e.ErrorCount).Msg("keepalive timeout")

	case *events.KeepAliveRestored:
		h.log.Info().Msg("keepalive restored")
	}
}

func (h *whatsmeowHandle) Identity() *model.Identity {
	jid := h.client.Store.ID
	if jid == nil {
		return nil
	}
	return &model.Identity{
		JID:          jid.String(),
		PhoneNumber:  jid.User,
		PushName:     h.client.Store.PushName,
		Platform:     h.client.Store.Platform,
		BusinessName: h.client.Store.BusinessName,
	}
}

// Ping checks the socket and does a round trip with a presence update.
func (h *whatsmeowHandle) Ping(ctx context.Context) error {
	if !h.client.IsConnected() {
		return fmt.Errorf("ping: %w", ErrSessionClosed)
	}
	if !h.client.IsLoggedIn() {
		return fmt.Errorf("ping: not logged in: %w", ErrSessionClosed)
	}

	// presence needs a push name, which is only known after the first app state sync
	if h.client.Store.PushName != "" {
		if err := h.client.SendPresence(ctx, types.PresenceAvailable); err != nil {
			return fmt.Errorf("ping: %w", wrapClientError(err))
		}
		return nil
	}

	own := h.client.Store.ID.ToNonAD()
	if _, err := h.client.GetUserInfo(ctx, []types.JID{own}); err != nil {
		return fmt.Errorf("ping: %w", wrapClientError(err))
	}
	return nil
}

func (h *whatsmeowHandle) JoinedGroups(ctx context.Context) ([]model.GroupSummary, error) {
	groups, err := h.client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, wrapClientError(err)
	}

	result := make([]model.GroupSummary, 0, len(groups))
	for _, g := range groups {
		result = append(result, groupSummary(g))
	}
	return result, nil
}

func groupSummary(g *types.GroupInfo) model.GroupSummary {
	participants := make([]model.GroupParticipant, 0, len(g.Participants))
	for _, p := range g.Participants {
		participants = append(participants, model.GroupParticipant{
			JID:          p.JID.String(),
			IsAdmin:      p.IsAdmin,
			IsSuperAdmin: p.IsSuperAdmin,
		})
	}

	summary := model.GroupSummary{
		ID:               g.JID.String(),
		Name:             g.Name,
		Description:      g.Topic,
		ParticipantCount: len(g.Participants),
		Participants:     participants,
		ReadOnly:         g.IsAnnounce,
		Locked:           g.IsLocked,
	}
	if !g.OwnerJID.IsEmpty() {
		summary.Owner = g.OwnerJID.String()
	}
	if !g.GroupCreated.IsZero() {
		created := g.GroupCreated.UTC()
		summary.CreatedAt = &created
	}
	return summary
}

func (h *whatsmeowHandle) SendText(ctx context.Context, target, body string) (*model.SendResult, error) {
	jid, err := types.ParseJID(target)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", target, err)
	}

	resp, err := h.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return nil, wrapClientError(err)
	}

	ts := resp.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &model.SendResult{
		MessageID: resp.ID,
		Recipient: jid.String(),
		Timestamp: ts.UTC(),
	}, nil
}

func (h *whatsmeowHandle) Logout(ctx context.Context) error {
	if h.client.Store.ID == nil {
		return nil
	}
	if err := h.client.Logout(ctx); err != nil {
		return wrapClientError(err)
	}
	return nil
}

// Close disconnects the client and closes the event channel. Safe to call
// more than once.
func (h *whatsmeowHandle) Close() error {
	h.closeOnce.Do(func() {
		h.cancel()
		h.client.RemoveEventHandler(h.handlerID)
		h.client.Disconnect()

		h.mu.Lock()
		h.closed = true
		close(h.events)
		h.mu.Unlock()
	})
	return nil
}

// wrapClientError marks whatsmeow errors that mean the session is gone.
func wrapClientError(err error) error {
	switch {
	case errors.Is(err, whatsmeow.ErrNotConnected),
		errors.Is(err, whatsmeow.ErrNotLoggedIn):
		return fmt.Errorf("%w: %w", ErrSessionClosed, err)
	case strings.Contains(strings.ToLower(err.Error()), "websocket not connected"):
		return fmt.Errorf("%w: %w", ErrSessionClosed, err)
	}
	return err
}
