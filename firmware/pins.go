//go:build tinygo

package main

import "machine"

const (
	// Front end
	PIN_I2C_SDA        = machine.SDA_PIN
	PIN_I2C_SCL        = machine.SCL_PIN
	I2C_FREQUENCY      = 400 * machine.KHz
	LMP91000_ADDRESS   = 0x48
	LMP91000_READY_MS  = 10  // Poll interval while the front end boots
	LMP91000_READY_TRY = 100 // Polls before giving up

	// DAC0 drives the LMP91000 external reference. Engine codes are 8-bit
	// and scaled onto the 16-bit DAC API.
	DAC_SHIFT = 8

	// ADC configuration
	PIN_ADC          = machine.A1
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // ADC resolution in bits (12-bit = 0-4095)
	ADC_SHIFT        = 4    // machine.ADC.Get returns 16-bit values

	// Strobe LED, lit while a sample is taken
	PIN_LED        = machine.LED
	LED_ACTIVE_LOW = true

	// Voltammogram storage, 12 bytes per sample
	BUFFER_CAPACITY = 1000

	UART_BAUD_RATE = 115200
)
