// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mmrelay-dm-rcv-basic/pkg/mesh"
	"github.com/aiku/mmrelay-dm-rcv-basic/pkg/plugin"
	"github.com/aiku/mmrelay-dm-rcv-basic/pkg/relay/meshfmt"
)

// Relay hosts plugins between the mesh and Matrix. It owns the Matrix
// client, the long-name directory and the admin API, and offers every
// packet and room message to the loaded plugins in order.
type Relay struct {
	Config     *Config
	Client     *mautrix.Client
	Sender     *MatrixSender
	Directory  *LongNameStore
	Classifier mesh.DirectClassifier
	Metrics    *Metrics

	log zerolog.Logger

	pluginMu sync.RWMutex
	plugins  []plugin.Plugin

	startedAt time.Time
	admin     *adminServer
}

// New builds a relay from a post-processed config. directory may be nil
// when no long-name database is configured.
func New(cfg *Config, directory *LongNameStore, log zerolog.Logger) (*Relay, error) {
	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, "", cfg.Matrix.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	client.Log = log.With().Str("component", "matrix").Logger()
	if cfg.Matrix.BotUserID != "" {
		client.UserID = id.UserID(cfg.Matrix.BotUserID)
	}

	metrics := NewMetrics()
	r := &Relay{
		Config:     cfg,
		Client:     client,
		Sender:     NewMatrixSender(client, metrics, log),
		Directory:  directory,
		Classifier: mesh.DirectClassifier{RelayNode: cfg.RelayNode()},
		Metrics:    metrics,
		log:        log.With().Str("component", "relay").Logger(),
	}
	return r, nil
}

// Host returns the capability set handed to the named plugin.
func (r *Relay) Host(name string) plugin.Host {
	host := plugin.Host{
		Classifier: r.Classifier,
		Sender:     r.Sender,
		Log:        r.log.With().Str("plugin", name).Logger(),
	}
	// Leave the interface nil rather than wrapping a nil store.
	if r.Directory != nil {
		host.Directory = r.Directory
	}
	return host
}

// LoadPlugins constructs every registered plugin whose community-plugins
// section is active. A plugin that fails to construct aborts loading.
func (r *Relay) LoadPlugins(regs ...plugin.Registration) error {
	for _, reg := range regs {
		if !r.Config.PluginActive(reg.Name) {
			r.log.Debug().Str("plugin", reg.Name).Msg("Plugin not active, skipping")
			continue
		}
		section := r.Config.CommunityPlugins[reg.Name]
		cfg, err := upgradeSection(reg, &section)
		if err != nil {
			return fmt.Errorf("failed to read config of plugin %s: %w", reg.Name, err)
		}
		p, err := reg.New(cfg, r.Host(reg.Name))
		if err != nil {
			return fmt.Errorf("failed to load plugin %s: %w", reg.Name, err)
		}
		r.pluginMu.Lock()
		r.plugins = append(r.plugins, p)
		r.pluginMu.Unlock()
		r.log.Info().
			Str("plugin", p.Name()).
			Str("description", p.Description()).
			Msg("Loaded plugin")
	}
	return nil
}

// upgradeSection fills a plugin config section with the defaults from the
// plugin's example config.
func upgradeSection(reg plugin.Registration, section *yaml.Node) (*yaml.Node, error) {
	if reg.Upgrader == nil || reg.ExampleConfig == "" {
		return section, nil
	}
	var base yaml.Node
	if err := yaml.Unmarshal([]byte(reg.ExampleConfig), &base); err != nil {
		return nil, fmt.Errorf("failed to parse example config: %w", err)
	}
	if section.Kind != yaml.MappingNode {
		return &base, nil
	}
	reg.Upgrader.DoUpgrade(up.NewHelper(&base, section))
	return &base, nil
}

// Plugins returns the loaded plugins in dispatch order.
func (r *Relay) Plugins() []plugin.Plugin {
	r.pluginMu.RLock()
	defer r.pluginMu.RUnlock()
	cp := make([]plugin.Plugin, len(r.plugins))
	copy(cp, r.plugins)
	return cp
}

// HandlePacket records node info, then offers the packet to each plugin
// until one handles it.
func (r *Relay) HandlePacket(ctx context.Context, pkt *mesh.Packet) bool {
	if pkt == nil {
		return false
	}
	r.recordNodeInfo(ctx, pkt)

	senderID := pkt.SenderID()
	meshnet := r.Config.Meshtastic.MeshnetName
	var longName string
	if r.Directory != nil && senderID != "" {
		longName, _ = r.Directory.LongName(ctx, senderID)
	}
	var formatted string
	if text, ok := pkt.Text(); ok {
		name := longName
		if name == "" {
			name = senderID
		}
		formatted = fmt.Sprintf("[%s/%s]: %s", name, meshnet, text)
	}

	for _, p := range r.Plugins() {
		if p.HandleMeshtasticMessage(ctx, pkt, formatted, longName, meshnet) {
			r.log.Debug().
				Str("plugin", p.Name()).
				Str("sender_id", senderID).
				Msg("Packet handled by plugin")
			r.Metrics.PacketsTotal.WithLabelValues(handledLabel(true)).Inc()
			return true
		}
	}
	r.Metrics.PacketsTotal.WithLabelValues(handledLabel(false)).Inc()
	return false
}

// recordNodeInfo stores the long name announced in a node info packet.
func (r *Relay) recordNodeInfo(ctx context.Context, pkt *mesh.Packet) {
	if r.Directory == nil || pkt.Decoded == nil || pkt.Decoded.User == nil {
		return
	}
	user := pkt.Decoded.User
	userID := user.ID
	if userID == "" {
		userID = pkt.SenderID()
	}
	if userID == "" || user.LongName == "" {
		return
	}
	if err := r.Directory.SaveLongName(ctx, userID, user.LongName); err != nil {
		r.log.Warn().Err(err).Str("sender_id", userID).Msg("Failed to save long name")
		return
	}
	r.Metrics.LongNamesSeen.Inc()
}

// HandleRoomEvent offers a Matrix room message to each plugin until one
// handles it. The relay's own messages and messages sent before Start are
// ignored.
func (r *Relay) HandleRoomEvent(ctx context.Context, evt *event.Event) bool {
	if evt == nil || evt.Sender == r.Client.UserID {
		return false
	}
	if !r.startedAt.IsZero() && evt.Timestamp < r.startedAt.UnixMilli() {
		return false
	}
	content := evt.Content.AsMessage()
	full := meshfmt.Parse(content)
	if full == "" {
		return false
	}

	for _, p := range r.Plugins() {
		if p.HandleRoomMessage(ctx, evt.RoomID, evt, full) {
			r.log.Debug().
				Str("plugin", p.Name()).
				Str("room_id", string(evt.RoomID)).
				Str("event_id", string(evt.ID)).
				Msg("Room message handled by plugin")
			r.Metrics.RoomEvents.WithLabelValues(handledLabel(true)).Inc()
			return true
		}
	}
	r.Metrics.RoomEvents.WithLabelValues(handledLabel(false)).Inc()
	return false
}

// Start verifies the Matrix session, binds the admin API, then begins
// syncing. It returns once background work is running; cancel ctx to stop.
func (r *Relay) Start(ctx context.Context) error {
	resp, err := r.Client.Whoami(ctx)
	if err != nil {
		if isAuthError(err) {
			return fmt.Errorf("matrix access token was rejected: %w", err)
		}
		return fmt.Errorf("failed to verify matrix session: %w", err)
	}
	r.Client.UserID = resp.UserID
	r.log.Info().Str("user_id", string(resp.UserID)).Msg("Matrix session verified")

	if r.Config.AdminAPIAddr != "" {
		admin, err := listenAdmin(r, r.Config.AdminAPIAddr)
		if err != nil {
			return fmt.Errorf("failed to start admin API: %w", err)
		}
		r.admin = admin
		go r.admin.run(ctx)
	} else {
		r.log.Warn().Msg("Admin API disabled; no packets can be injected")
	}

	r.startedAt = time.Now()
	if syncer, ok := r.Client.Syncer.(*mautrix.DefaultSyncer); ok {
		syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
			r.HandleRoomEvent(ctx, evt)
		})
	}
	go func() {
		if err := r.Client.SyncWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error().Err(err).Msg("Matrix sync stopped")
		}
	}()
	return nil
}

// Close releases the long-name directory.
func (r *Relay) Close() error {
	if r.Directory == nil {
		return nil
	}
	return r.Directory.Close()
}
