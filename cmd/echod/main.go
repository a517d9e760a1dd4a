// File: cmd/echod/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// echod: the echo daemon over hioload-loop. Configuration comes from a
// YAML file with flag overrides; the listen socket is acquired with
// exponential backoff so restarts race cleanly with lingering binds.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/momentics/hioload-loop/control"
	"github.com/momentics/hioload-loop/loop"
	"github.com/momentics/hioload-loop/pool"
	"github.com/momentics/hioload-loop/sockio"
)

func main() {
	var (
		cfgPath string
		addr    string
	)

	root := &cobra.Command{
		Use:   "echod",
		Short: "Cooperative single-threaded echo daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := control.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			return serve(cfg)
		},
	}
	root.Flags().StringVarP(&cfgPath, "config", "c", "", "path to YAML config")
	root.Flags().StringVarP(&addr, "addr", "a", "", "listen address (overrides config)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(cfg control.Config) error {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	var ln *sockio.Listener
	bindOff := backoff.NewExponentialBackOff()
	bindOff.MaxElapsedTime = 30 * time.Second
	err := backoff.Retry(func() error {
		var berr error
		ln, berr = sockio.Listen(cfg.Addr, cfg.Backlog)
		return berr
	}, bindOff)
	if err != nil {
		return fmt.Errorf("bind %s: %w", cfg.Addr, err)
	}
	defer ln.Close()

	l, err := loop.New(loop.Config{MaxEvents: cfg.MaxEvents, Logger: log})
	if err != nil {
		return err
	}
	defer l.Close()

	bufs := pool.NewBytePool(cfg.BufferSize)
	log.WithField("addr", ln.Addr()).Info("echod listening")

	l.Submit(loop.NewTask("acceptor", func(c *loop.Ctx) (any, error) {
		for {
			conn, aerr := c.Accept(ln)
			if aerr != nil {
				return nil, aerr
			}
			c.Spawn("echo", echoConn(conn, bufs))
		}
	}))

	runErr := l.Run()

	reg := control.NewMetricsRegistry()
	l.PublishStats(reg)
	log.WithField("metrics", reg.GetSnapshot()).Info("loop stopped")
	return runErr
}

func echoConn(conn *sockio.Conn, bufs *pool.BytePool) loop.TaskFunc {
	return func(c *loop.Ctx) (any, error) {
		defer conn.Close()
		buf := bufs.GetBuffer()
		defer bufs.PutBuffer(buf)
		for {
			n, err := c.Recv(conn, buf)
			if err != nil {
				return nil, err
			}
			if n == 0 {
				return nil, nil
			}
			if err := c.SendAll(conn, buf[:n]); err != nil {
				return nil, err
			}
		}
	}
}
