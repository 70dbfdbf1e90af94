package plugin

// Type represents the functional category of a plugin.
type Type string

const (
	// TypeConnector plugins contribute additional endpoint connectors.
	TypeConnector Type = "connector"
	// TypeNotifier plugins deliver operation lifecycle alerts to external systems.
	TypeNotifier Type = "notifier"
)

// Capability expresses optional host features a plugin may request access to.
type Capability string

const (
	CapabilityFilesystem Capability = "filesystem"
	CapabilityNetwork    Capability = "network"
	CapabilityExecution  Capability = "execution"
)

// Info contains descriptive metadata for a plugin implementation.
type Info struct {
	ID           string
	Name         string
	Description  string
	Author       string
	Version      string
	Category     Type
	Capabilities []Capability
}

// State represents the lifecycle position of a plugin instance.
type State string

const (
	StateRegistered  State = "registered"
	StateInitialised State = "initialised"
	StateStarted     State = "started"
	StateStopped     State = "stopped"
)
