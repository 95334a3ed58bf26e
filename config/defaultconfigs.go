package config

// Embedded per-board defaults. A node file naming a board starts from these
// values; keys it sets replace them.

const cfgHost = `
board: host
node_id: 0
storage_size: 256
tick_ms: 5
log_level: info
button:
  debounce_ms: 50
  long_push_ms: 5000
links: []
outputs: []
`

const cfgSim = `
board: sim
node_id: 0
storage_size: 256
tick_ms: 2
log_level: warn
button:
  debounce_ms: 50
  long_push_ms: 5000
links:
  - kind: segment
    segment: sim0
outputs:
  - port: 1
    pin: 16
`

var embeddedConfigs = map[string][]byte{
	"host": []byte(cfgHost),
	"sim":  []byte(cfgSim),
}

// EmbeddedConfigLookup resolves board defaults; tests replace it.
var EmbeddedConfigLookup = func(board string) ([]byte, bool) {
	b, ok := embeddedConfigs[board]
	return b, ok
}
