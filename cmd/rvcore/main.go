package main

import (
	"bufio"
	"io"
	"log"
	"log/slog"
	"os"
	"regexp"
	"time"

	getopt "github.com/pborman/getopt/v2"
	"golang.org/x/term"

	"github.com/rvcore/rvcore/pkg/rvcore/device/virtio"
	"github.com/rvcore/rvcore/pkg/rvcore/rvcore"
)

// batchCycles is how many emulated cycles Run executes per call: large
// enough to amortize the call overhead, small enough that stdin bytes
// and Ctrl-C are noticed promptly (spec.md §5's suspension points).
const batchCycles = 200000

// shellPromptPattern is what --benchmark watches outgoing UART bytes
// for, per spec.md §6: a typical busybox/ash login shell prompt.
var shellPromptPattern = regexp.MustCompile(`(?:# |\$ )$`)

func main() {
	log.SetFlags(0)

	kernelPath := getopt.StringLong("kernel", 'f', "", "kernel image path (required)")
	initrdPath := getopt.StringLong("initrd", 0, "", "initrd image path")
	ramMiB := getopt.IntLong("ram", 0, 64, "RAM size in MiB")
	cmdline := getopt.StringLong("cmdline", 0, "console=ttyS0 earlycon", "kernel command line")
	benchmark := getopt.BoolLong("benchmark", 0, "exit and print MIPS on shell-prompt detection")
	jitV2 := getopt.BoolLong("jit-v2", 0, "accepted for compatibility; the advanced block cache is out of scope")
	fsPath := getopt.StringLong("fs", 0, "", "host directory to expose over VirtIO-9P")
	verbose := getopt.BoolLong("verbose", 'v', "log each executed batch")
	help := getopt.BoolLong("help", 'h', "show usage")
	getopt.Parse()

	if *help {
		getopt.Usage()
		os.Exit(0)
	}
	if *kernelPath == "" {
		log.Print("usage: rvcore -f <kernel-image> [--initrd <path>] [--ram <MiB>] [--cmdline <string>] [--benchmark] [--fs <path>] [-v]")
		os.Exit(2)
	}
	if *jitV2 {
		log.Print("rvcore: --jit-v2 accepted but ignored; this core does not implement the advanced block cache")
	}

	m := rvcore.New(*ramMiB << 20)
	if *verbose {
		m.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	if *fsPath != "" {
		m.AddVirtIODevice(virtio.Device9P, []byte(*fsPath))
		log.Printf("rvcore: --fs %s wires a VirtIO-9P MMIO window with no backing transport (guest mount attempts will stall)", *fsPath)
	}

	if err := m.LoadKernel(*kernelPath, *initrdPath, *cmdline); err != nil {
		log.Print(err)
		os.Exit(2)
	}

	inputCh := startStdinReader()

	start := time.Now()
	var totalCycles uint64
	for {
		n, err := m.Run(batchCycles)
		totalCycles += n
		if err != nil {
			log.Fatal(err)
		}

		out := m.UARTOutput()
		if len(out) > 0 {
			os.Stdout.Write(out)
			if *benchmark && shellPromptPattern.Match(out) {
				elapsed := time.Since(start).Seconds()
				mips := float64(totalCycles) / elapsed / 1e6
				log.Printf("rvcore: shell prompt detected after %d cycles (%.2f MIPS)", totalCycles, mips)
				os.Exit(0)
			}
		}

		if m.Halted() {
			if *verbose {
				log.Printf("rvcore: guest halted after %d cycles", totalCycles)
			}
			os.Exit(0)
		}

		// Drain whatever stdin input has arrived since the last batch;
		// this is the only point between batches (spec.md §5) where the
		// host may inject console input.
		for drained := false; !drained; {
			select {
			case b, ok := <-inputCh:
				if !ok {
					os.Exit(0)
				}
				m.FeedUARTInput(b)
			default:
				drained = true
			}
		}

		if *verbose {
			log.Printf("rvcore: ran %d cycles (%d total)", n, totalCycles)
		}
	}
}

// startStdinReader puts the terminal in raw mode (when stdin is one)
// so individual keystrokes reach the guest console immediately, and
// feeds them to the returned channel one read at a time.
func startStdinReader() <-chan []byte {
	ch := make(chan []byte, 16)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		term.MakeRaw(fd)
	}
	go func() {
		defer close(ch)
		r := bufio.NewReader(os.Stdin)
		buf := make([]byte, 256)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				cp := make([]byte, n)
				copy(cp, buf[:n])
				ch <- cp
			}
			if err != nil {
				if err != io.EOF {
					log.Print(err)
				}
				return
			}
		}
	}()
	return ch
}
