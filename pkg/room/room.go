// Package room carries the turn engine over a LiveKit room's data channel.
// Participants send wire events as data packets; the engine's updates and
// turn results are published back to the room reliably.
package room

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
	"github.com/pion/webrtc/v3"

	"github.com/chriscow/turnkit/pkg/dialogue"
	"github.com/chriscow/turnkit/pkg/iu"
	"github.com/chriscow/turnkit/pkg/wire"
)

// Publisher sends a frame to every participant in the room.
type Publisher interface {
	Publish(data []byte) error
}

type localPublisher struct {
	lp *lksdk.LocalParticipant
}

func (p localPublisher) Publish(data []byte) error {
	return p.lp.PublishData(data, lksdk.WithDataPublishReliable(true))
}

// Config contains configuration for joining a room.
type Config struct {
	URL string

	// Token joins with a pre-minted token. Otherwise APIKey and APISecret
	// are used to join RoomName as Identity.
	Token     string
	APIKey    string
	APISecret string
	RoomName  string
	Identity  string

	Engine    wire.Engine
	Segmenter wire.Segmenter

	// EventBufferSize bounds the Events channel. Defaults to 100.
	EventBufferSize int
	Logger          *slog.Logger
}

// Room is a LiveKit room joined on behalf of the engine.
type Room struct {
	// Events reports room activity. Events are dropped when it is full.
	Events chan *Event

	cfg    Config
	logger *slog.Logger

	mu           sync.RWMutex
	ctx          context.Context
	room         *lksdk.Room
	pub          Publisher
	connected    bool
	eventsClosed bool
	participants map[string]*livekit.ParticipantInfo
}

// New validates cfg and creates an unconnected room.
func New(cfg Config) (*Room, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("Engine is required")
	}
	if cfg.Token == "" {
		if cfg.APIKey == "" || cfg.APISecret == "" {
			return nil, fmt.Errorf("token or api key and secret are required")
		}
		if cfg.RoomName == "" {
			return nil, fmt.Errorf("room name is required")
		}
	}
	if cfg.Identity == "" {
		cfg.Identity = "turnkit"
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = 100
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Room{
		Events:       make(chan *Event, cfg.EventBufferSize),
		cfg:          cfg,
		logger:       logger.With(slog.String("component", "room")),
		ctx:          context.Background(),
		participants: make(map[string]*livekit.ParticipantInfo),
	}, nil
}

// Connect joins the room. Inbound data packets are dispatched with ctx.
func (r *Room) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connected {
		return fmt.Errorf("room is already connected")
	}

	callback := &lksdk.RoomCallback{
		OnParticipantConnected:    r.onParticipantConnected,
		OnParticipantDisconnected: r.onParticipantDisconnected,
		OnDisconnected:            r.onDisconnected,
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed:   r.onTrackSubscribed,
			OnTrackUnsubscribed: r.onTrackUnsubscribed,
			OnDataReceived:      r.onDataReceived,
		},
	}

	var (
		room *lksdk.Room
		err  error
	)
	if r.cfg.Token != "" {
		room, err = lksdk.ConnectToRoomWithToken(r.cfg.URL, r.cfg.Token, callback)
	} else {
		room, err = lksdk.ConnectToRoom(r.cfg.URL, lksdk.ConnectInfo{
			APIKey:              r.cfg.APIKey,
			APISecret:           r.cfg.APISecret,
			RoomName:            r.cfg.RoomName,
			ParticipantIdentity: r.cfg.Identity,
		}, callback)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to room: %w", err)
	}

	r.ctx = ctx
	r.room = room
	r.pub = localPublisher{lp: room.LocalParticipant}
	r.connected = true

	r.logger.Info("Connected to LiveKit room",
		slog.String("room_name", room.Name()),
		slog.String("url", r.cfg.URL))
	return nil
}

// Disconnect leaves the room and closes Events. It is safe to call twice.
func (r *Room) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connected {
		r.connected = false
		if r.room != nil {
			r.room.Disconnect()
		}
		r.logger.Info("Disconnected from LiveKit room")
	}
	if !r.eventsClosed {
		close(r.Events)
		r.eventsClosed = true
	}
}

// IsConnected reports whether the room is joined.
func (r *Room) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// Participants returns the remote participants, ordered by identity.
func (r *Room) Participants() []*livekit.ParticipantInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*livekit.ParticipantInfo, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Run publishes engine output to the room until ctx is done or both
// channels are closed.
func (r *Room) Run(ctx context.Context, updates <-chan iu.UpdateMessage, results <-chan dialogue.TurnResult) error {
	for updates != nil || results != nil {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			frame, err := wire.EncodeUpdate(msg)
			if err != nil {
				return fmt.Errorf("encode update: %w", err)
			}
			r.publish(frame)
		case res, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			frame, err := wire.EncodeTurn(res)
			if err != nil {
				return fmt.Errorf("encode turn: %w", err)
			}
			r.publish(frame)
		}
	}
	return nil
}

// HandleData decodes one data packet and dispatches it to the engine.
// Failures are published back to the room as error frames.
func (r *Room) HandleData(ctx context.Context, data []byte, from *livekit.ParticipantInfo) error {
	ev, err := wire.Decode(data)
	if err == nil {
		err = wire.Dispatch(ctx, ev, r.cfg.Engine, r.cfg.Segmenter)
	}
	r.sendEvent(NewEvent(EventDataReceived).WithParticipant(from).WithData(data).WithErr(err))
	if err != nil {
		r.logger.Debug("Rejected data packet",
			slog.String("participant", from.GetIdentity()),
			slog.String("error", err.Error()))
		if frame, encErr := wire.EncodeError(err); encErr == nil {
			r.publish(frame)
		}
		return err
	}
	return nil
}

func (r *Room) publish(frame []byte) {
	r.mu.RLock()
	pub := r.pub
	r.mu.RUnlock()
	if pub == nil {
		return
	}
	if err := pub.Publish(frame); err != nil {
		r.logger.Warn("Failed to publish data", slog.String("error", err.Error()))
	}
}

func (r *Room) trackParticipant(info *livekit.ParticipantInfo, joined bool) {
	r.mu.Lock()
	if joined {
		r.participants[info.Identity] = info
	} else {
		delete(r.participants, info.Identity)
	}
	r.mu.Unlock()

	typ := EventParticipantConnected
	if !joined {
		typ = EventParticipantDisconnected
	}
	r.sendEvent(NewEvent(typ).WithParticipant(info))
}

func participantInfo(p *lksdk.RemoteParticipant, state livekit.ParticipantInfo_State) *livekit.ParticipantInfo {
	return &livekit.ParticipantInfo{
		Sid:      p.SID(),
		Identity: p.Identity(),
		State:    state,
	}
}

func (r *Room) onParticipantConnected(p *lksdk.RemoteParticipant) {
	r.trackParticipant(participantInfo(p, livekit.ParticipantInfo_ACTIVE), true)
	r.logger.Info("Participant connected",
		slog.String("identity", p.Identity()),
		slog.String("sid", p.SID()))
}

func (r *Room) onParticipantDisconnected(p *lksdk.RemoteParticipant) {
	r.trackParticipant(participantInfo(p, livekit.ParticipantInfo_DISCONNECTED), false)
	r.logger.Info("Participant disconnected",
		slog.String("identity", p.Identity()),
		slog.String("sid", p.SID()))
}

func (r *Room) onTrackSubscribed(track *webrtc.TrackRemote, publication *lksdk.RemoteTrackPublication, p *lksdk.RemoteParticipant) {
	info := &livekit.TrackInfo{
		Sid:      publication.SID(),
		Name:     publication.Name(),
		Type:     publication.Kind().ProtoType(),
		MimeType: track.Codec().MimeType,
	}
	r.sendEvent(NewEvent(EventTrackSubscribed).
		WithParticipant(participantInfo(p, livekit.ParticipantInfo_ACTIVE)).
		WithTrack(info))

	// Media is handled by the recognizer and synthesizer outside the engine.
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		r.logger.Debug("Audio track subscribed",
			slog.String("participant", p.Identity()),
			slog.String("track_sid", publication.SID()),
			slog.String("codec", info.MimeType))
	}
}

func (r *Room) onTrackUnsubscribed(track *webrtc.TrackRemote, publication *lksdk.RemoteTrackPublication, p *lksdk.RemoteParticipant) {
	r.sendEvent(NewEvent(EventTrackUnsubscribed).
		WithParticipant(participantInfo(p, livekit.ParticipantInfo_ACTIVE)).
		WithTrack(&livekit.TrackInfo{
			Sid:  publication.SID(),
			Name: publication.Name(),
			Type: publication.Kind().ProtoType(),
		}))
}

func (r *Room) onDataReceived(data []byte, p *lksdk.RemoteParticipant) {
	r.mu.RLock()
	ctx := r.ctx
	r.mu.RUnlock()
	r.HandleData(ctx, data, participantInfo(p, livekit.ParticipantInfo_ACTIVE))
}

func (r *Room) onDisconnected() {
	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()
	r.sendEvent(NewEvent(EventDisconnected))
	r.logger.Warn("Room connection lost")
}

// sendEvent queues an event unless Events is closed or full.
func (r *Room) sendEvent(event *Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.eventsClosed {
		return
	}

	select {
	case r.Events <- event:
	default:
		r.logger.Warn("Events channel is full, dropping event",
			slog.String("event_type", string(event.Type)))
	}
}
