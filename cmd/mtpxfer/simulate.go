package main

import (
	"fmt"
	"net"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	simtest "github.com/opd-ai/mtpxfer/testing"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newSimulateCmd(c *cli) *cobra.Command {
	var listen []string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Serve a simulated device over TCP",
		Long: `Serve a simulated device that speaks the device bridge protocol, so
send and get can be exercised without hardware. Objects live in memory
unless --simulation-root names a directory.

The simulator runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runSimulate(cmd, lo.Uniq(listen))
		},
	}

	cmd.Flags().StringSliceVarP(&listen, "listen", "l", []string{"127.0.0.1:7070"}, "address to listen on (repeatable)")
	return cmd
}

func (c *cli) runSimulate(cmd *cobra.Command, addrs []string) error {
	var fs billy.Filesystem
	if root := c.v.GetString("simulation-root"); root != "" {
		fs = osfs.New(root)
	}
	dev := simtest.NewSimulatedDevice(fs)
	defer dev.Close()

	listeners := make([]net.Listener, 0, len(addrs))
	for _, addr := range addrs {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			lo.ForEach(listeners, func(l net.Listener, _ int) { l.Close() })
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		listeners = append(listeners, l)
		fmt.Fprintln(cmd.OutOrStdout(), l.Addr().String())
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	for _, l := range listeners {
		l := l
		g.Go(func() error {
			return dev.Serve(ctx, l)
		})
	}
	err := g.Wait()

	stats := dev.GetStats()
	c.logger.WithFields(logrus.Fields{
		"function": "runSimulate",
		"sessions": stats.SessionsOpened,
		"commits":  stats.Commits,
		"objects":  stats.Objects,
	}).Info("Simulated device stopped")
	return err
}
