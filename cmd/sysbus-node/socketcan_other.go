//go:build !linux || tinygo

package main

import (
	"errors"

	"sysbus-go/link/can"
)

func socketCAN(string) (can.Controller, error) {
	return nil, errors.New("socketcan is only available on linux")
}
