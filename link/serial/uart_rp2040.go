//go:build rp2040

package serial

import (
	"machine"

	"github.com/jangala-dev/tinygo-uartx/uartx"

	"sysbus-go/errcode"
)

type UARTConfig struct {
	// ID is "uart0" or "uart1".
	ID     string
	Baud   uint32
	TX, RX machine.Pin
	Stream StreamConfig
}

// OpenUART configures an RP2040 UART and wraps it in a Stream. A zero baud
// keeps the uartx default.
func OpenUART(cfg UARTConfig) (*Stream, error) {
	var hw *uartx.UART
	switch cfg.ID {
	case "uart0":
		hw = uartx.UART0
	case "uart1":
		hw = uartx.UART1
	default:
		return nil, errcode.New(errcode.InvalidParams, "serial.uart", "unknown uart "+cfg.ID)
	}
	if err := hw.Configure(uartx.UARTConfig{
		BaudRate: cfg.Baud,
		TX:       cfg.TX,
		RX:       cfg.RX,
	}); err != nil {
		return nil, errcode.Wrap(errcode.Error, "serial.uart", err)
	}
	return NewStream(hw, cfg.Stream), nil
}
