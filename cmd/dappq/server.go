package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/kapetan-io/dappq/config"
	"github.com/kapetan-io/dappq/daemon"
)

func startServer(ctx context.Context, w io.Writer, flags FlagParams) error {
	var file config.File
	if flags.ConfigFile != "" {
		var err error
		file, err = config.LoadFile(flags.ConfigFile)
		if err != nil {
			return fmt.Errorf("while reading config file: %w", err)
		}
	}

	if err := config.LoadEnv(&file, flags.EnvFiles...); err != nil {
		return err
	}

	var conf daemon.Config
	if err := config.ApplyConfigFile(&conf, file, w); err != nil {
		return fmt.Errorf("while applying config file: %w", err)
	}

	conf.Log.Info(fmt.Sprintf("dappq %s (%s/%s)", Version, runtime.GOARCH, runtime.GOOS))
	d, err := daemon.NewDaemon(ctx, conf)
	if err != nil {
		return fmt.Errorf("while creating daemon: %w", err)
	}
	conf.Log.Info("Server Started")

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(c)

	select {
	case <-c:
		return d.Shutdown(context.Background())
	case <-ctx.Done():
		return d.Shutdown(context.Background())
	}
}
