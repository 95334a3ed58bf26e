// Package module is the contract between the bus controller and the
// application units bound to its ports, plus the shared register, group and
// control-command machinery every module embeds.
package module

import (
	"github.com/pion/logging"

	"sysbus-go/drivers/eeprom"
	"sysbus-go/protocol"
)

// Sender is the controller as seen by a module.
type Sender interface {
	Send(m protocol.Message) error
	NodeID() uint16
}

// BeginInput is handed to a module when it is attached.
type BeginInput struct {
	// Persist is false when the node runs without storage; Store is nil then.
	Persist bool
	Store   eeprom.Device
	// NodeBase is the storage offset of the node identity record.
	NodeBase int64
	CfgID    int
	Bus      Sender
	Log      logging.LeveledLogger
}

// Module is one application unit bound to a port.
type Module interface {
	Port() uint8
	Kind() uint8
	Begin(in BeginInput) error
	// Process returns true when the module consumed m.
	Process(m *protocol.Message) bool
	Tick() bool
	BroadcastState() bool
	BroadcastPresentation()
}

// Config is a module configuration carried in registers 1..n.
// UnmarshalRegisters must leave the receiver untouched when it fails.
type Config interface {
	MarshalRegisters(dst []byte) int
	UnmarshalRegisters(src []byte) error
	Defaults()
}

// ConfigApplier is implemented by modules that must react when their
// configuration changes over the wire.
type ConfigApplier interface {
	ApplyConfig()
}
