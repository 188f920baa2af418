//go:build cgo

package main

import (
	// Device backends register with mediadevices on import.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
)

const captureDriversCompiled = true
