package enums

// PluginState is the lifecycle position of a payment provider plugin.
type PluginState string

const (
	PluginStateDiscovered  PluginState = "discovered"
	PluginStateInitialized PluginState = "initialized"
	PluginStateEnabled     PluginState = "enabled"
	PluginStateDisabled    PluginState = "disabled"
	PluginStateError       PluginState = "error"
)

// Moving back to initialized happens when credentials change and the adapter
// is rebuilt. An errored plugin can only be re-initialized.
var pluginLifecycle = lifecycle[PluginState]{
	PluginStateDiscovered:  {PluginStateInitialized, PluginStateError},
	PluginStateInitialized: {PluginStateEnabled, PluginStateDisabled, PluginStateError},
	PluginStateEnabled:     {PluginStateDisabled, PluginStateInitialized, PluginStateError},
	PluginStateDisabled:    {PluginStateEnabled, PluginStateInitialized, PluginStateError},
	PluginStateError:       {PluginStateInitialized},
}

func (s PluginState) String() string { return string(s) }

func (s PluginState) CanTransitionTo(next PluginState) bool {
	return pluginLifecycle.allows(s, next)
}
