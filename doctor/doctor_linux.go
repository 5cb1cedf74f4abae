//go:build linux

// Package doctor runs interactive environment diagnostics: device access,
// uinput availability, display reachability, and a live key-read check.
package doctor

import (
	"fmt"
	"os"
	"os/user"
	"time"

	evdev "github.com/holoplot/go-evdev"
	"github.com/jezek/xgbutil"
	"golang.org/x/term"

	"keygrip/device"
)

// Run executes the diagnostic checks and returns an exit code (0=all
// pass, 1=any fail).
func Run() int {
	resetTerminal()
	setupInterruptHandler()

	fmt.Println("keygrip doctor - system diagnostics")
	fmt.Println("===================================")

	allPass := true

	devs, ok := checkDevices()
	if !ok {
		allPass = false
	}
	if !checkUinput() {
		allPass = false
	}
	if !checkDisplay() {
		allPass = false
	}
	if allPass && !checkKeyRead(devs) {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
		return 0
	}
	fmt.Println("Some checks failed. See details above.")
	return 1
}

func checkDevices() ([]device.Descriptor, bool) {
	fmt.Println()
	fmt.Println("[1/4] Input device access")

	devs, err := device.ListDevices()
	if err != nil {
		fmt.Printf("  FAIL: cannot enumerate /dev/input: %v\n", err)
		printGroupHint()
		return nil, false
	}
	kbds := device.Filter(devs, device.IsKeyboard)
	ptrs := device.Filter(devs, device.IsPointer)
	if len(kbds) == 0 {
		fmt.Println("  FAIL: no readable keyboard device found")
		printGroupHint()
		return devs, false
	}
	fmt.Printf("  PASS: %d keyboard(s), %d pointer(s)\n", len(kbds), len(ptrs))
	for _, d := range kbds {
		fmt.Printf("    %s  %s\n", d.Path, d.Name)
	}
	return devs, true
}

func printGroupHint() {
	u, err := user.Current()
	if err != nil {
		return
	}
	fmt.Printf("  Hint: add yourself to the input group: sudo usermod -aG input %s\n", u.Username)
	fmt.Println("  (log out and back in afterwards)")
}

func checkUinput() bool {
	fmt.Println()
	fmt.Println("[2/4] Virtual device support (uinput)")

	f, err := os.OpenFile("/dev/uinput", os.O_WRONLY, 0)
	if err != nil {
		fmt.Printf("  FAIL: cannot open /dev/uinput: %v\n", err)
		fmt.Println("  Hint: sudo modprobe uinput, or a udev rule granting write access")
		return false
	}
	f.Close()
	fmt.Println("  PASS: /dev/uinput writable")
	return true
}

func checkDisplay() bool {
	fmt.Println()
	fmt.Println("[3/4] Display connection")

	if os.Getenv("DISPLAY") == "" {
		fmt.Println("  WARN: DISPLAY not set; protocol grabs unavailable, raw capture only")
		return true
	}
	xu, err := xgbutil.NewConn()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to display: %v\n", err)
		return false
	}
	xu.Conn().Close()
	fmt.Println("  PASS: display reachable")
	return true
}

// checkKeyRead opens the first keyboard ungrabbed and waits for a real
// keypress, proving the event stream is readable end to end.
func checkKeyRead(devs []device.Descriptor) bool {
	fmt.Println()
	fmt.Println("[4/4] Live key read")

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Println("  SKIP: stdin is not a terminal")
		return true
	}
	kbds := device.Filter(devs, device.IsKeyboard)
	if len(kbds) == 0 {
		fmt.Println("  SKIP: no keyboard to read from")
		return true
	}

	dev, err := evdev.Open(kbds[0].Path)
	if err != nil {
		fmt.Printf("  FAIL: open %s: %v\n", kbds[0].Path, err)
		return false
	}
	defer dev.Close()

	fmt.Printf("  Press any key within 10 seconds (%s)...\n", kbds[0].Name)

	got := make(chan uint16, 1)
	go func() {
		for {
			ev, err := dev.ReadOne()
			if err != nil {
				return
			}
			if ev.Type == evdev.EV_KEY && ev.Value == 1 {
				got <- uint16(ev.Code)
				return
			}
		}
	}()

	select {
	case code := <-got:
		fmt.Printf("  PASS: key code %d received\n", code)
		resetTerminal()
		return true
	case <-time.After(10 * time.Second):
		fmt.Println("  FAIL: timeout waiting for a keypress")
		return false
	}
}
