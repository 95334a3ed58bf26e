package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"sysbus-go/protocol"
)

var errUsage = errors.New("usage")

// request is one outgoing message built from a console line.
type request struct {
	addr    protocol.Address
	payload []byte
}

type command struct {
	usage string
	build func(args []string) (request, error)
}

var commands = map[string]command{
	"ping": {"ping <node> [port]", func(a []string) (request, error) {
		return unicastCmd(a, 1, protocol.CmdNodePing)
	}},
	"setid": {"setid <node> <new-id>", func(a []string) (request, error) {
		if len(a) != 2 {
			return request{}, errUsage
		}
		node, err := parseNode(a[0])
		if err != nil {
			return request{}, err
		}
		id, err := parseNode(a[1])
		if err != nil {
			return request{}, err
		}
		return uni(node, 0, byte(protocol.CmdNodeID), byte(id>>8), byte(id)), nil
	}},
	// The node in identification takes the id from the target field.
	"ident": {"ident <new-id>", func(a []string) (request, error) {
		if len(a) != 1 {
			return request{}, errUsage
		}
		id, err := parseNode(a[0])
		if err != nil {
			return request{}, err
		}
		if id == 0 {
			return request{}, fmt.Errorf("id 0 is the master")
		}
		return uni(id, 0, byte(protocol.CmdNodeID)), nil
	}},
	"reset": {"reset <node>", func(a []string) (request, error) {
		return unicastCmd(a, 0, protocol.CmdResetNode)
	}},
	"reqtype": {"reqtype <node|*> [port]", func(a []string) (request, error) {
		if len(a) == 1 && a[0] == "*" {
			return request{addr: protocol.Address{Type: protocol.Broadcast}, payload: []byte{byte(protocol.CmdReqType)}}, nil
		}
		return unicastCmd(a, 1, protocol.CmdReqType)
	}},
	"req": {"req <node|*> [port]", func(a []string) (request, error) {
		if len(a) == 1 && a[0] == "*" {
			return request{addr: protocol.Address{Type: protocol.Broadcast}, payload: []byte{byte(protocol.CmdReq)}}, nil
		}
		return unicastCmd(a, 1, protocol.CmdReq)
	}},
	"bool": {"bool <node> <port> <0|1>", func(a []string) (request, error) {
		if len(a) != 3 {
			return request{}, errUsage
		}
		r, err := portRequest(a[:2])
		if err != nil {
			return r, err
		}
		v, err := parseByte(a[2])
		if err != nil || v > 1 {
			return r, fmt.Errorf("bool value %q", a[2])
		}
		r.payload = []byte{byte(protocol.CmdBool), v}
		return r, nil
	}},
	"regset": {"regset <node> <port> <index> <byte>...", func(a []string) (request, error) {
		if len(a) < 4 || len(a) > 9 {
			return request{}, errUsage
		}
		return portPayload(a, protocol.CmdCfgRegSet, a[2:])
	}},
	"regget": {"regget <node> <port> <index> [count]", func(a []string) (request, error) {
		if len(a) < 3 || len(a) > 4 {
			return request{}, errUsage
		}
		return portPayload(a, protocol.CmdCfgRegGet, a[2:])
	}},
	"commit": {"commit <node> <port>", func(a []string) (request, error) {
		if len(a) != 2 {
			return request{}, errUsage
		}
		return portPayload(a, protocol.CmdCfgRegCommit, nil)
	}},
	"cfgreset": {"cfgreset <node> <port>", func(a []string) (request, error) {
		if len(a) != 2 {
			return request{}, errUsage
		}
		return portPayload(a, protocol.CmdCfgReset, nil)
	}},
	"gadd": {"gadd <node> <port> <group> [filter]", func(a []string) (request, error) {
		return groupRequest(a, protocol.CmdGroupAdd)
	}},
	"grem": {"grem <node> <port> <group> [filter]", func(a []string) (request, error) {
		return groupRequest(a, protocol.CmdGroupRem)
	}},
	"gclear": {"gclear <node> <port>", func(a []string) (request, error) {
		if len(a) != 2 {
			return request{}, errUsage
		}
		return portPayload(a, protocol.CmdGroupsClear, nil)
	}},
	"gget": {"gget <node> <port> <slot>", func(a []string) (request, error) {
		if len(a) != 3 {
			return request{}, errUsage
		}
		return portPayload(a, protocol.CmdGroupGet, a[2:])
	}},
	"send": {"send <unicast|multicast|broadcast|streaming> <target> <port> <cmd> <byte>...", func(a []string) (request, error) {
		if len(a) < 4 {
			return request{}, errUsage
		}
		t, ok := parseType(a[0])
		if !ok {
			return request{}, fmt.Errorf("message type %q", a[0])
		}
		target, err := strconv.ParseUint(a[1], 0, 16)
		if err != nil {
			return request{}, fmt.Errorf("target %q", a[1])
		}
		port, err := parsePort(a[2])
		if err != nil {
			return request{}, err
		}
		cmd, ok := protocol.ParseCmd(a[3])
		if !ok {
			return request{}, fmt.Errorf("command %q", a[3])
		}
		p, err := parseBytes(a[4:])
		if err != nil {
			return request{}, err
		}
		r := request{
			addr:    protocol.Address{Type: t, Target: uint16(target), Port: port},
			payload: append([]byte{byte(cmd)}, p...),
		}
		return r, r.check()
	}},
}

// build turns a console line into a request. The command word must already
// have been split off.
func build(name string, args []string) (request, error) {
	c, ok := commands[name]
	if !ok {
		return request{}, fmt.Errorf("unknown command %q", name)
	}
	r, err := c.build(args)
	if errors.Is(err, errUsage) {
		return r, fmt.Errorf("usage: %s", c.usage)
	}
	if err != nil {
		return r, err
	}
	return r, r.check()
}

func (r request) check() error {
	if len(r.payload) > protocol.MaxPayload {
		return fmt.Errorf("payload of %d bytes exceeds %d", len(r.payload), protocol.MaxPayload)
	}
	return r.addr.Validate()
}

func uni(node uint16, port uint8, payload ...byte) request {
	return request{addr: protocol.Address{Type: protocol.Unicast, Target: node, Port: port}, payload: payload}
}

// unicastCmd handles "<node> [port]" commands carrying only cmd.
func unicastCmd(a []string, maxArgs int, cmd protocol.Cmd) (request, error) {
	if len(a) < 1 || len(a) > 1+maxArgs {
		return request{}, errUsage
	}
	node, err := parseNode(a[0])
	if err != nil {
		return request{}, err
	}
	var port uint8
	if len(a) == 2 {
		if port, err = parsePort(a[1]); err != nil {
			return request{}, err
		}
	}
	return uni(node, port, byte(cmd)), nil
}

func portRequest(a []string) (request, error) {
	node, err := parseNode(a[0])
	if err != nil {
		return request{}, err
	}
	port, err := parsePort(a[1])
	if err != nil {
		return request{}, err
	}
	return uni(node, port), nil
}

func portPayload(a []string, cmd protocol.Cmd, rest []string) (request, error) {
	r, err := portRequest(a[:2])
	if err != nil {
		return r, err
	}
	p, err := parseBytes(rest)
	if err != nil {
		return r, err
	}
	r.payload = append([]byte{byte(cmd)}, p...)
	return r, nil
}

func groupRequest(a []string, cmd protocol.Cmd) (request, error) {
	if len(a) < 3 || len(a) > 4 {
		return request{}, errUsage
	}
	r, err := portRequest(a[:2])
	if err != nil {
		return r, err
	}
	g, err := strconv.ParseUint(a[2], 0, 16)
	if err != nil {
		return r, fmt.Errorf("group %q", a[2])
	}
	r.payload = []byte{byte(cmd), byte(g >> 8), byte(g)}
	if len(a) == 4 {
		f, ok := protocol.ParseCmd(a[3])
		if !ok {
			return r, fmt.Errorf("filter %q", a[3])
		}
		r.payload = append(r.payload, byte(f))
	}
	return r, nil
}

func parseNode(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil || v > protocol.MaxNodeAddr {
		return 0, fmt.Errorf("node %q (0..%d)", s, protocol.MaxNodeAddr)
	}
	return uint16(v), nil
}

func parsePort(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil || v > protocol.MaxPort {
		return 0, fmt.Errorf("port %q (0..%d)", s, protocol.MaxPort)
	}
	return uint8(v), nil
}

func parseByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("byte %q", s)
	}
	return byte(v), nil
}

func parseBytes(ss []string) ([]byte, error) {
	out := make([]byte, 0, len(ss))
	for _, s := range ss {
		b, err := parseByte(s)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func parseType(s string) (protocol.MsgType, bool) {
	for t := protocol.Unicast; t <= protocol.Streaming; t++ {
		if strings.EqualFold(s, t.String()) || strings.EqualFold(s, t.String()[:1]) {
			return t, true
		}
	}
	return 0, false
}
