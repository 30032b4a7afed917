//go:build !nogpu

// Command computeinfo opens a GPU adapter, prints its capabilities and runs
// a few empty submissions on every queue.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/compute"
	"github.com/gogpu/compute/native"
	"github.com/gogpu/compute/native/halbackend"
	"github.com/gogpu/compute/native/software"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

func main() {
	var (
		backend = flag.String("backend", "vulkan", "adapter backend: vulkan, noop or software")
		submits = flag.Int("submits", 3, "empty submissions per queue")
		verbose = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *verbose {
		compute.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	if err := run(*backend, *submits); err != nil {
		log.Fatal(err)
	}
}

func run(backend string, submits int) (err error) {
	adapter, closeAdapter, err := openAdapter(backend)
	if err != nil {
		return fmt.Errorf("open %s adapter: %w", backend, err)
	}
	defer closeAdapter()

	dev, err := compute.New(adapter)
	if err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	defer func() {
		if cerr := dev.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close device: %w", cerr)
		}
	}()

	fmt.Println(dev.Capabilities())

	for _, qt := range compute.QueueTypes {
		for range submits {
			cl, err := dev.BeginCommandList(qt)
			if err != nil {
				return fmt.Errorf("begin %v list: %w", qt, err)
			}
			if err := dev.ExecuteCommandList(cl); err != nil {
				return fmt.Errorf("execute %v list: %w", qt, err)
			}
		}
	}

	for _, qs := range dev.Stats().Queues {
		fmt.Printf("%-7v fence %d, allocators %d created / %d reused\n",
			qs.Type, qs.Completed, qs.AllocatorsCreated, qs.AllocatorsReused)
	}
	return nil
}

func openAdapter(name string) (native.Adapter, func(), error) {
	switch strings.ToLower(name) {
	case "software":
		return software.NewAdapter(software.Config{}), func() {}, nil
	case "noop":
		a, err := halbackend.OpenNoop(halbackend.Config{})
		if err != nil {
			return nil, nil, err
		}
		return a, a.Close, nil
	case "vulkan":
		a, err := halbackend.Open(gputypes.BackendVulkan, halbackend.Config{})
		if err != nil {
			return nil, nil, err
		}
		return a, a.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", name)
	}
}
