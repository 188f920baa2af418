//go:build !cgo

package main

const captureDriversCompiled = false
