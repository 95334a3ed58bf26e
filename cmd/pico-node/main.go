//go:build rp2040

// Command pico-node is the RP2040 node firmware: CAN through an MCP2515 on
// SPI0, a serial link on UART0, identity in the last flash block, the
// config button on GP15, the status LED on GP25 and one output on GP16.
package main

import (
	"device/arm"
	"machine"
	"time"

	"github.com/pion/logging"
	"tinygo.org/x/drivers/mcp2515"

	"sysbus-go/bus"
	"sysbus-go/button"
	"sysbus-go/drivers/eeprom"
	"sysbus-go/drivers/gpio"
	"sysbus-go/link/can"
	"sysbus-go/link/serial"
	"sysbus-go/module"
	"sysbus-go/module/dout"
	"sysbus-go/x/timex"
)

const (
	pinButton = 15
	pinLED    = 25
	pinOut    = 16

	canCS  = machine.GP5
	canINT = machine.GP6

	outPort = 1
	tick    = 2 * time.Millisecond
)

func main() {
	// Give USB CDC time to enumerate so the banners are visible.
	time.Sleep(1500 * time.Millisecond)
	println("[node] boot …")

	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelWarn
	clk := timex.System{}

	store, err := eeprom.NewFlash(module.StorageSize(0, bus.MaxModules))
	if err != nil {
		println("[node] storage:", err.Error())
	}
	var dev eeprom.Device
	if store != nil {
		dev = store
	}

	c, err := bus.New(bus.Config{
		Store: dev,
		Button: button.New(button.Config{
			Pin:       gpio.Input(pinButton, gpio.PullUp),
			Clock:     clk,
			ActiveLow: true,
		}),
		LED:           gpio.Output(pinLED, false),
		Clock:         clk,
		Reboot:        arm.SystemReset,
		LoggerFactory: lf,
	})
	if err != nil {
		println("[node] FAIL: controller:", err.Error())
		halt()
	}

	if l, err := openCAN(lf); err != nil {
		println("[node] can:", err.Error())
	} else if _, err := c.AttachLink(l); err != nil {
		println("[node] can attach:", err.Error())
	}

	uart, err := serial.OpenUART(serial.UARTConfig{
		ID:     "uart0",
		Baud:   115200,
		TX:     machine.UART0_TX_PIN,
		RX:     machine.UART0_RX_PIN,
		Stream: serial.StreamConfig{LoggerFactory: lf},
	})
	if err != nil {
		println("[node] uart:", err.Error())
	} else if _, err := c.AttachLink(serial.New(serial.Config{Port: uart, LoggerFactory: lf})); err != nil {
		println("[node] uart attach:", err.Error())
	}

	if err := c.AttachModule(dout.New(gpio.Output(pinOut, false), outPort, false), 0); err != nil {
		println("[node] output:", err.Error())
	}
	c.FirstBoot(func() { println("[node] first boot") })

	if c.Initialized() {
		println("[node] id", c.NodeID())
	} else {
		println("[node] waiting for identification (hold the button)")
	}

	t := time.NewTicker(tick)
	defer t.Stop()
	for range t.C {
		c.Tick()
	}
}

func openCAN(lf logging.LoggerFactory) (*can.Link, error) {
	spi := machine.SPI0
	if err := spi.Configure(machine.SPIConfig{
		Frequency: 4 * machine.MHz,
		SCK:       machine.GP2,
		SDO:       machine.GP3,
		SDI:       machine.GP4,
		Mode:      0,
	}); err != nil {
		return nil, err
	}
	dev := mcp2515.New(spi, canCS)
	dev.Configure()
	ctl := can.NewMCP2515(dev, mcp2515.CAN125kBps, mcp2515.Clock8MHz).WithInterrupt(canINT)
	return can.New(can.Config{Controller: ctl, LoggerFactory: lf}), nil
}

func halt() {
	for {
		time.Sleep(time.Second)
	}
}
