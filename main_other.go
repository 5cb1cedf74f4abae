//go:build !linux

package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "keygrip requires Linux (evdev/uinput)")
	os.Exit(1)
}
