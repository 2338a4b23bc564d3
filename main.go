/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/rei/engine"
	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/testbed"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML configuration file")
	backend := flag.String("backend", "", "renderer backend, soft or vulkan")
	frames := flag.Int("frames", -1, "number of frames to render, 0 runs until interrupted")
	output := flag.String("output", "", "BMP file the last frame is written to")
	flag.Parse()

	if err := run(*configPath, *backend, *frames, *output); err != nil {
		fmt.Fprintf(os.Stderr, "rei: %+v\n", err)
		os.Exit(1)
	}
}

func run(configPath, backend string, frames int, output string) error {
	cfg := core.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = core.LoadConfig(configPath); err != nil {
			return err
		}
	}
	if backend != "" {
		cfg.Renderer.Backend = backend
	}
	if frames >= 0 {
		cfg.Engine.Frames = frames
	}
	if output != "" {
		cfg.Engine.Output = output
	}

	tb := testbed.NewTestGame(cfg.Engine.Output)
	e, err := engine.New(cfg, tb.Game)
	if err != nil {
		return err
	}

	if err := e.Initialize(); err != nil {
		return err
	}

	// capture sigterm and other system calls to stop the frame loop
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	runErr := e.Run(ctx)
	return errors.CombineErrors(runErr, e.Shutdown())
}
