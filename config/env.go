package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"sysbus-go/errcode"
)

// Environment overrides.
const (
	EnvNodeID   = "SYSBUS_NODE_ID"
	EnvStorage  = "SYSBUS_STORAGE"
	EnvTrace    = "SYSBUS_TRACE"
	EnvLogLevel = "SYSBUS_LOG_LEVEL"
)

// ApplyEnv loads envFile into the process environment when it exists, then
// applies the SYSBUS_* overrides. Variables already set win over the file.
func (n *Node) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errcode.Wrap(errcode.InvalidParams, "config.env", err)
		}
	}
	if v, ok := os.LookupEnv(EnvNodeID); ok {
		id, err := strconv.ParseUint(v, 0, 16)
		if err != nil {
			return errcode.Wrap(errcode.InvalidParams, "config.env "+EnvNodeID, err)
		}
		n.NodeID = uint16(id)
	}
	if v, ok := os.LookupEnv(EnvStorage); ok {
		n.Storage = v
	}
	if v, ok := os.LookupEnv(EnvTrace); ok {
		n.Trace = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		n.LogLevel = v
	}
	n.Normalize()
	return n.Validate()
}
