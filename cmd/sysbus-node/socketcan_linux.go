//go:build linux && !tinygo

package main

import "sysbus-go/link/can"

func socketCAN(iface string) (can.Controller, error) { return can.NewSocketCAN(iface), nil }
