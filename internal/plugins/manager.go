package plugins

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/angelmondragon/paycore/pkg/enums"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/gateway"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/metrics"
)

// Resolver hands out the adapter of an enabled plugin.
type Resolver interface {
	Resolve(ctx context.Context, provider string) (gateway.Adapter, error)
}

// ManagerParams wires a Manager.
type ManagerParams struct {
	Registry *Registry
	Store    Store
	Options  gateway.Options
	Cache    *gateway.ResponseCache
	Metrics  *metrics.GatewayMetrics
	Logger   *logger.Logger
}

// Status is the admin view of a plugin. It never carries credential values.
type Status struct {
	Provider       string            `json:"provider"`
	DisplayName    string            `json:"displayName"`
	State          enums.PluginState `json:"state"`
	Enabled        bool              `json:"enabled"`
	Sandbox        bool              `json:"sandbox"`
	Configured     bool              `json:"configured"`
	CredentialKeys []string          `json:"credentialKeys"`
	Revision       int64             `json:"revision,omitempty"`
	LastError      string            `json:"lastError,omitempty"`
}

// ConfigInput is an admin configuration update. Nil Credentials keep the
// stored map.
type ConfigInput struct {
	Enabled     bool
	Sandbox     bool
	Credentials map[string]string
}

type instance struct {
	revision int64
	adapter  gateway.Adapter
}

// Manager drives plugin lifecycle and builds adapters per config revision.
type Manager struct {
	registry *Registry
	store    Store
	opts     gateway.Options
	cache    *gateway.ResponseCache
	metrics  *metrics.GatewayMetrics
	logg     *logger.Logger

	mu        sync.Mutex
	states    map[string]enums.PluginState
	errors    map[string]string
	instances map[string]instance
}

func NewManager(params ManagerParams) (*Manager, error) {
	if params.Registry == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plugin registry required")
	}
	if params.Store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plugin store required")
	}
	m := &Manager{
		registry:  params.Registry,
		store:     params.Store,
		opts:      params.Options,
		cache:     params.Cache,
		metrics:   params.Metrics,
		logg:      params.Logger,
		states:    map[string]enums.PluginState{},
		errors:    map[string]string{},
		instances: map[string]instance{},
	}
	if m.opts.Logger == nil {
		m.opts.Logger = params.Logger
	}
	for _, desc := range params.Registry.List() {
		m.discover(context.Background(), desc.Provider)
	}
	return m, nil
}

// Register adds a plugin at runtime in the DISCOVERED state.
func (m *Manager) Register(ctx context.Context, desc Descriptor) error {
	if err := m.registry.Register(desc); err != nil {
		return err
	}
	m.discover(ctx, desc.Provider)
	return nil
}

// Unregister drops the plugin and its cached adapter.
func (m *Manager) Unregister(ctx context.Context, provider string) bool {
	provider = normalize(provider)
	if !m.registry.Unregister(provider) {
		return false
	}
	m.mu.Lock()
	delete(m.states, provider)
	delete(m.errors, provider)
	delete(m.instances, provider)
	m.mu.Unlock()
	m.event(ctx, provider, "plugin.unregistered", "plugin unregistered")
	return true
}

func (m *Manager) discover(ctx context.Context, provider string) {
	provider = normalize(provider)
	m.mu.Lock()
	m.states[provider] = enums.PluginStateDiscovered
	m.mu.Unlock()
	m.event(ctx, provider, "plugin.discovered", "plugin discovered")
}

// State returns the in-memory lifecycle state.
func (m *Manager) State(provider string) (enums.PluginState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[normalize(provider)]
	return state, ok
}

// Boot initializes every configured plugin and enables those marked enabled.
// Failures leave the plugin in ERROR and are returned together.
func (m *Manager) Boot(ctx context.Context) error {
	var errs error
	for _, desc := range m.registry.List() {
		cfg, err := m.store.Load(ctx, desc.Provider)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", desc.Provider, err))
			continue
		}
		if cfg == nil {
			continue
		}
		if err := m.Initialize(ctx, desc.Provider); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", desc.Provider, err))
			continue
		}
		if cfg.Enabled {
			if err := m.transition(ctx, desc.Provider, enums.PluginStateEnabled); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", desc.Provider, err))
			}
		}
	}
	return errs
}

// Initialize validates the stored credentials and builds the adapter.
func (m *Manager) Initialize(ctx context.Context, provider string) error {
	desc, ok := m.registry.Get(provider)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "unknown payment provider")
	}
	if err := m.checkTransition(desc.Provider, enums.PluginStateInitialized); err != nil {
		return err
	}
	cfg, err := m.store.Load(ctx, desc.Provider)
	if err != nil {
		return err
	}
	if cfg == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "plugin not configured: "+desc.Provider)
	}
	if _, err := m.build(ctx, desc, cfg); err != nil {
		return err
	}
	return m.transition(ctx, desc.Provider, enums.PluginStateInitialized)
}

// Enable marks the plugin enabled in the store and in memory.
func (m *Manager) Enable(ctx context.Context, provider string) error {
	return m.toggle(ctx, provider, true)
}

// Disable marks the plugin disabled. Resolve fails for it from then on.
func (m *Manager) Disable(ctx context.Context, provider string) error {
	return m.toggle(ctx, provider, false)
}

func (m *Manager) toggle(ctx context.Context, provider string, enabled bool) error {
	desc, ok := m.registry.Get(provider)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "unknown payment provider")
	}
	target := enums.PluginStateDisabled
	if enabled {
		target = enums.PluginStateEnabled
	}
	if err := m.checkTransition(desc.Provider, target); err != nil {
		return err
	}
	if _, err := m.store.SetEnabled(ctx, desc.Provider, enabled); err != nil {
		return err
	}
	return m.transition(ctx, desc.Provider, target)
}

// Configure stores an admin update, rebuilds the adapter and applies the
// enabled flag.
func (m *Manager) Configure(ctx context.Context, provider string, input ConfigInput) (*Status, error) {
	desc, ok := m.registry.Get(provider)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown payment provider")
	}
	cfg := Config{Provider: desc.Provider, Enabled: input.Enabled, Sandbox: input.Sandbox, Credentials: input.Credentials}
	if input.Credentials != nil {
		if err := validateCredentials(desc, input.Credentials); err != nil {
			return nil, err
		}
	}
	if _, err := m.store.Save(ctx, cfg); err != nil {
		return nil, err
	}
	if err := m.Initialize(ctx, desc.Provider); err != nil {
		return nil, err
	}
	if input.Enabled {
		err := m.transition(ctx, desc.Provider, enums.PluginStateEnabled)
		if err != nil {
			return nil, err
		}
	} else if err := m.transition(ctx, desc.Provider, enums.PluginStateDisabled); err != nil {
		return nil, err
	}
	return m.status(ctx, desc)
}

// Resolve returns the adapter for an enabled plugin. The config is read on
// every call; the adapter is rebuilt only when the revision changed.
func (m *Manager) Resolve(ctx context.Context, provider string) (gateway.Adapter, error) {
	desc, ok := m.registry.Get(provider)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment provider not available")
	}
	cfg, err := m.store.Load(ctx, desc.Provider)
	if err != nil {
		return nil, err
	}
	if cfg == nil || !cfg.Enabled {
		m.demote(ctx, desc.Provider)
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment provider not available")
	}
	adapter, err := m.build(ctx, desc, cfg)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment provider misconfigured")
		}
		return nil, err
	}
	if err := m.promote(ctx, desc.Provider); err != nil {
		return nil, err
	}
	return adapter, nil
}

// promote follows the stored config to ENABLED, passing through INITIALIZED
// when this replica never initialized the plugin. Another replica may have
// enabled it.
func (m *Manager) promote(ctx context.Context, provider string) error {
	m.mu.Lock()
	current := m.states[provider]
	if current == enums.PluginStateEnabled {
		m.mu.Unlock()
		return nil
	}
	path := []enums.PluginState{enums.PluginStateEnabled}
	if !current.CanTransitionTo(enums.PluginStateEnabled) {
		path = []enums.PluginState{enums.PluginStateInitialized, enums.PluginStateEnabled}
	}
	if !current.CanTransitionTo(path[0]) {
		m.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("plugin cannot move from %s to %s", current, path[0]))
	}
	m.states[provider] = enums.PluginStateEnabled
	m.mu.Unlock()
	for _, state := range path {
		m.event(ctx, provider, "plugin."+string(state), "plugin "+string(state)+" from stored config")
	}
	return nil
}

// demote moves an enabled plugin to DISABLED once its stored config is gone
// or no longer enabled.
func (m *Manager) demote(ctx context.Context, provider string) {
	m.mu.Lock()
	demoted := m.states[provider] == enums.PluginStateEnabled
	if demoted {
		m.states[provider] = enums.PluginStateDisabled
	}
	m.mu.Unlock()
	if demoted {
		m.event(ctx, provider, "plugin.disabled", "plugin disabled from stored config")
	}
}

// List reports every registered plugin with its stored config.
func (m *Manager) List(ctx context.Context) ([]Status, error) {
	descs := m.registry.List()
	out := make([]Status, 0, len(descs))
	for _, desc := range descs {
		status, err := m.status(ctx, desc)
		if err != nil {
			return nil, err
		}
		out = append(out, *status)
	}
	return out, nil
}

func (m *Manager) status(ctx context.Context, desc Descriptor) (*Status, error) {
	cfg, err := m.store.Load(ctx, desc.Provider)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	status := &Status{
		Provider:       desc.Provider,
		DisplayName:    desc.DisplayName,
		State:          m.states[desc.Provider],
		LastError:      m.errors[desc.Provider],
		CredentialKeys: []string{},
	}
	m.mu.Unlock()
	if cfg != nil {
		status.Configured = true
		status.Enabled = cfg.Enabled
		status.Sandbox = cfg.Sandbox
		status.Revision = cfg.Revision
		status.CredentialKeys = cfg.CredentialKeys()
	}
	return status, nil
}

func (m *Manager) build(ctx context.Context, desc Descriptor, cfg *Config) (gateway.Adapter, error) {
	m.mu.Lock()
	cached, ok := m.instances[desc.Provider]
	m.mu.Unlock()
	if ok && cached.revision == cfg.Revision {
		return cached.adapter, nil
	}

	if err := validateCredentials(desc, cfg.Credentials); err != nil {
		m.fail(ctx, desc.Provider, err)
		return nil, err
	}
	built, err := desc.Build(ctx, gateway.Settings{Sandbox: cfg.Sandbox, Credentials: cfg.Credentials}, m.opts)
	if err != nil {
		m.fail(ctx, desc.Provider, err)
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment provider unavailable")
	}
	adapter := gateway.Instrument(gateway.WithResponseCache(built, m.cache), m.metrics, m.logg)

	m.mu.Lock()
	m.instances[desc.Provider] = instance{revision: cfg.Revision, adapter: adapter}
	delete(m.errors, desc.Provider)
	m.mu.Unlock()
	return adapter, nil
}

func (m *Manager) checkTransition(provider string, target enums.PluginState) error {
	m.mu.Lock()
	current := m.states[provider]
	m.mu.Unlock()
	if current == target || current.CanTransitionTo(target) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("plugin cannot move from %s to %s", current, target))
}

func (m *Manager) transition(ctx context.Context, provider string, target enums.PluginState) error {
	m.mu.Lock()
	current := m.states[provider]
	if current != target && !current.CanTransitionTo(target) {
		m.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("plugin cannot move from %s to %s", current, target))
	}
	m.states[provider] = target
	m.mu.Unlock()
	if current != target {
		m.event(ctx, provider, "plugin."+string(target), "plugin "+string(target))
	}
	return nil
}

func (m *Manager) fail(ctx context.Context, provider string, cause error) {
	m.mu.Lock()
	m.states[provider] = enums.PluginStateError
	m.errors[provider] = cause.Error()
	delete(m.instances, provider)
	m.mu.Unlock()
	if m.logg != nil {
		m.logg.Error(m.logg.WithFields(ctx, map[string]any{"provider": provider, "event": "plugin.error"}), "plugin failed to initialize", cause)
	}
}

func (m *Manager) event(ctx context.Context, provider, name, msg string) {
	if m.logg == nil {
		return
	}
	m.logg.Event(m.logg.WithProvider(ctx, provider), name, msg)
}

// validateCredentials collects every missing required key.
func validateCredentials(desc Descriptor, creds map[string]string) error {
	var errs error
	for _, key := range desc.RequiredCredentials {
		if strings.TrimSpace(creds[key]) == "" {
			errs = multierr.Append(errs, fmt.Errorf("missing credential %q", key))
		}
	}
	if errs == nil {
		return nil
	}
	missing := make([]string, 0, len(multierr.Errors(errs)))
	for _, err := range multierr.Errors(errs) {
		missing = append(missing, err.Error())
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, errs, "plugin credentials incomplete").
		WithDetails(map[string]any{"provider": desc.Provider, "missing": missing})
}
