package protocol

import (
	"strconv"
	"strings"
)

// Cmd is the command tag carried in the first payload byte.
type Cmd uint8

// Node and module control.
const (
	CmdNodeID    Cmd = 0x01 // [cmd] during identification (id in Target) or [cmd, hi, lo]
	CmdNodeBoot  Cmd = 0x02 // broadcast after boot or id change
	CmdNodePing  Cmd = 0x03
	CmdNodePong  Cmd = 0x04
	CmdModType   Cmd = 0x05 // presentation: [cmd, kind]
	CmdReqType   Cmd = 0x06
	CmdReq       Cmd = 0x07
	CmdError     Cmd = 0x08 // [cmd, echoed...]
	CmdResetNode Cmd = 0x09
	CmdAck       Cmd = 0x0A // [cmd, echoed...]

	CmdCfgReset     Cmd = 0x11
	CmdCfgRegSet    Cmd = 0x12 // [cmd, index, 1..6 bytes]
	CmdCfgRegGet    Cmd = 0x13 // [cmd, index, (count)]
	CmdCfgReturn    Cmd = 0x14 // [cmd, index, <=6 bytes]
	CmdCfgRegCommit Cmd = 0x15

	CmdGroupsClear Cmd = 0x1A
	CmdGroupAdd    Cmd = 0x1B // [cmd, hi, lo, (filter)]
	CmdGroupRem    Cmd = 0x1C // [cmd, hi, lo, (filter)]
	CmdGroupGet    Cmd = 0x1D // [cmd, slot]
	CmdGroupReturn Cmd = 0x1E // [cmd, slot, hi, lo, filter]
)

// Values.
const (
	CmdBool      Cmd = 0x51
	CmdDimUp     Cmd = 0x90
	CmdDimDown   Cmd = 0x91
	CmdSetScene  Cmd = 0x92
	CmdNextScene Cmd = 0x93
	CmdPrevScene Cmd = 0x94
	CmdSaveScene Cmd = 0x95
	CmdDate      Cmd = 0x97
	CmdTime      Cmd = 0x98
	CmdDateTime  Cmd = 0x99
	CmdTemp      Cmd = 0xA0
	CmdHum       Cmd = 0xA1
	CmdPressure  Cmd = 0xA2
	CmdLux       Cmd = 0xA5
	CmdVolt      Cmd = 0xC0
	CmdAmp       Cmd = 0xC1
	CmdPower     Cmd = 0xC2
	CmdPercent   Cmd = 0xD0
	CmdBright    Cmd = 0xE3
	CmdRGB       Cmd = 0xE4
	CmdPWM       Cmd = 0xE9
	CmdKWh       Cmd = 0xEA

	CmdStreamStart Cmd = 0xFC
	CmdStreamEnd   Cmd = 0xFE

	// CmdAll matches every command in hook and group filters.
	CmdAll Cmd = 0xFF
)

var cmdNames = map[Cmd]string{
	CmdNodeID:       "node_id",
	CmdNodeBoot:     "node_boot",
	CmdNodePing:     "ping",
	CmdNodePong:     "pong",
	CmdModType:      "mod_type",
	CmdReqType:      "req_type",
	CmdReq:          "req",
	CmdError:        "error",
	CmdResetNode:    "reset_node",
	CmdAck:          "ack",
	CmdCfgReset:     "cfg_reset",
	CmdCfgRegSet:    "cfg_reg_set",
	CmdCfgRegGet:    "cfg_reg_get",
	CmdCfgReturn:    "cfg_return",
	CmdCfgRegCommit: "cfg_reg_commit",
	CmdGroupsClear:  "groups_clear",
	CmdGroupAdd:     "group_add",
	CmdGroupRem:     "group_rem",
	CmdGroupGet:     "group_get",
	CmdGroupReturn:  "group_return",
	CmdBool:         "bool",
	CmdDimUp:        "dim_up",
	CmdDimDown:      "dim_down",
	CmdSetScene:     "set_scene",
	CmdNextScene:    "next_scene",
	CmdPrevScene:    "prev_scene",
	CmdSaveScene:    "save_scene",
	CmdDate:         "date",
	CmdTime:         "time",
	CmdDateTime:     "date_time",
	CmdTemp:         "temp",
	CmdHum:          "hum",
	CmdPressure:     "prs",
	CmdLux:          "lux",
	CmdVolt:         "volt",
	CmdAmp:          "amp",
	CmdPower:        "pwr",
	CmdPercent:      "per",
	CmdBright:       "bri",
	CmdRGB:          "rgb",
	CmdPWM:          "pwm",
	CmdKWh:          "kwh",
	CmdStreamStart:  "stream_start",
	CmdStreamEnd:    "stream_end",
	CmdAll:          "all",
}

func (c Cmd) String() string {
	if s, ok := cmdNames[c]; ok {
		return s
	}
	return "0x" + strings.ToUpper(strconv.FormatUint(uint64(c), 16))
}

// ParseCmd accepts a command name ("ping") or a number ("0x51", "81").
func ParseCmd(s string) (Cmd, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, n := range cmdNames {
		if n == s {
			return c, true
		}
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, false
	}
	return Cmd(v), true
}
