// Package config loads the host node description: identity, storage,
// links and output modules.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/logging"
	"gopkg.in/yaml.v3"

	"sysbus-go/errcode"
	"sysbus-go/protocol"
	"sysbus-go/x/mathx"
)

// Link kinds.
const (
	LinkSerial    = "serial"    // frames over TCP (Addr) or a tty/file (Path)
	LinkSocketCAN = "socketcan" // Linux CAN interface (Iface)
	LinkSegment   = "segment"   // in-process virtual CAN segment (Segment)
)

type Link struct {
	Kind     string `yaml:"kind"`
	Addr     string `yaml:"addr,omitempty"`
	Path     string `yaml:"path,omitempty"`
	Iface    string `yaml:"iface,omitempty"`
	Segment  string `yaml:"segment,omitempty"`
	MaxFrame int    `yaml:"max_frame,omitempty"`
}

// Output is a digital output module on a simulated pin.
type Output struct {
	Port     uint8 `yaml:"port"`
	Pin      int   `yaml:"pin"`
	Inverted bool  `yaml:"inverted,omitempty"`
	// CfgID pins the storage slot; nil takes the first free one.
	CfgID *int `yaml:"cfg_id,omitempty"`
}

type Button struct {
	DebounceMs int `yaml:"debounce_ms"`
	LongPushMs int `yaml:"long_push_ms"`
}

type Node struct {
	Board       string   `yaml:"board"`
	NodeID      uint16   `yaml:"node_id"`
	Storage     string   `yaml:"storage,omitempty"`
	StorageSize int      `yaml:"storage_size"`
	Trace       string   `yaml:"trace,omitempty"`
	LogLevel    string   `yaml:"log_level"`
	TickMs      int      `yaml:"tick_ms"`
	Button      Button   `yaml:"button"`
	Links       []Link   `yaml:"links"`
	Outputs     []Output `yaml:"outputs"`
}

// Default returns the embedded defaults of board.
func Default(board string) (Node, error) {
	raw, ok := EmbeddedConfigLookup(board)
	if !ok || len(raw) == 0 {
		return Node{}, errcode.New(errcode.InvalidParams, "config.default", "no embedded config for board "+board)
	}
	var n Node
	if err := yaml.Unmarshal(raw, &n); err != nil {
		return Node{}, errcode.Wrap(errcode.InvalidParams, "config.default", err)
	}
	return n, nil
}

// Parse overlays data on the defaults of the board it names ("host" when
// unset), then normalizes and validates the result.
func Parse(data []byte) (Node, error) {
	var head struct {
		Board string `yaml:"board"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return Node{}, errcode.Wrap(errcode.InvalidParams, "config.parse", err)
	}
	if head.Board == "" {
		head.Board = "host"
	}
	n, err := Default(head.Board)
	if err != nil {
		return Node{}, err
	}
	if err := yaml.Unmarshal(data, &n); err != nil {
		return Node{}, errcode.Wrap(errcode.InvalidParams, "config.parse", err)
	}
	n.Normalize()
	return n, n.Validate()
}

// Load reads a node file. An empty path yields the host defaults.
func Load(path string) (Node, error) {
	if path == "" {
		n, err := Default("host")
		if err != nil {
			return Node{}, err
		}
		n.Normalize()
		return n, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Node{}, err
	}
	return Parse(data)
}

// Normalize clamps timing and sizes into workable ranges.
func (n *Node) Normalize() {
	n.TickMs = mathx.OrDefault(n.TickMs, 5, 1, 1000)
	n.StorageSize = mathx.OrDefault(n.StorageSize, 256, 64, 64*1024)
	n.Button.DebounceMs = mathx.OrDefault(n.Button.DebounceMs, 50, 5, 500)
	n.Button.LongPushMs = mathx.OrDefault(n.Button.LongPushMs, 5000, 500, 60000)
	n.LogLevel = strings.ToLower(strings.TrimSpace(n.LogLevel))
	for i := range n.Links {
		n.Links[i].Kind = strings.ToLower(n.Links[i].Kind)
		if n.Links[i].MaxFrame != 0 {
			n.Links[i].MaxFrame = mathx.Clamp(n.Links[i].MaxFrame, protocol.MinFrameCeiling, 256)
		}
	}
}

// Validate reports the first setting the node cannot run with.
func (n *Node) Validate() error {
	const op = "config.validate"
	if n.NodeID > protocol.MaxNodeAddr {
		return errcode.New(errcode.InvalidAddress, op, "node_id "+strconv.Itoa(int(n.NodeID))+" > 2047")
	}
	if _, ok := parseLevel(n.LogLevel); !ok {
		return errcode.New(errcode.InvalidParams, op, "log_level "+n.LogLevel)
	}
	for i, l := range n.Links {
		var missing bool
		switch l.Kind {
		case LinkSerial:
			missing = l.Addr == "" && l.Path == ""
		case LinkSocketCAN:
			missing = l.Iface == ""
		case LinkSegment:
			missing = l.Segment == ""
		default:
			return errcode.New(errcode.Unsupported, op, "link "+strconv.Itoa(i)+": kind "+l.Kind)
		}
		if missing {
			return errcode.New(errcode.InvalidParams, op, "link "+strconv.Itoa(i)+": no endpoint")
		}
	}
	seen := map[uint8]bool{}
	for i, o := range n.Outputs {
		if o.Port > protocol.MaxPort {
			return errcode.New(errcode.InvalidAddress, op, "output "+strconv.Itoa(i)+": port "+strconv.Itoa(int(o.Port)))
		}
		if seen[o.Port] {
			return errcode.New(errcode.PortInUse, op, "output "+strconv.Itoa(i)+": port "+strconv.Itoa(int(o.Port)))
		}
		seen[o.Port] = true
	}
	return nil
}

func (n *Node) Tick() time.Duration      { return time.Duration(n.TickMs) * time.Millisecond }
func (b Button) Debounce() time.Duration { return time.Duration(b.DebounceMs) * time.Millisecond }
func (b Button) LongPush() time.Duration { return time.Duration(b.LongPushMs) * time.Millisecond }

func parseLevel(s string) (logging.LogLevel, bool) {
	switch s {
	case "", "info":
		return logging.LogLevelInfo, true
	case "disabled", "off":
		return logging.LogLevelDisabled, true
	case "error":
		return logging.LogLevelError, true
	case "warn", "warning":
		return logging.LogLevelWarn, true
	case "debug":
		return logging.LogLevelDebug, true
	case "trace":
		return logging.LogLevelTrace, true
	}
	return logging.LogLevelInfo, false
}

// LoggerFactory builds the leveled logger factory for the node.
func (n *Node) LoggerFactory() logging.LoggerFactory {
	lvl, _ := parseLevel(n.LogLevel)
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = lvl
	return f
}
