package main

import (
	"bufio"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newGetCmd(c *cli) *cobra.Command {
	var showProgress bool

	cmd := &cobra.Command{
		Use:   "get <object-id> [path]",
		Short: "Download an object from the device",
		Long: `Download a device object into a local file. Without a path, or with
"-", the content is written to standard output.

A partially downloaded file is removed; the destination only appears once
the whole object has arrived.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 0, 32)
			if err != nil {
				return fmt.Errorf("invalid object id %q: %w", args[0], err)
			}
			out := "-"
			if len(args) == 2 {
				out = args[1]
			}
			return c.runGet(cmd, uint32(id), out, showProgress)
		},
	}

	cmd.Flags().BoolVarP(&showProgress, "progress", "p", false, "print progress to stderr")
	return cmd
}

func (c *cli) runGet(cmd *cobra.Command, objectID uint32, out string, showProgress bool) error {
	dev, err := c.openDevice(cmd)
	if err != nil {
		return err
	}
	defer dev.Close()

	progress := progressBar(cmd.ErrOrStderr(), showProgress, "receiving")
	if out != "-" {
		return resultError(dev.GetFile(cmd.Context(), objectID, out, progress))
	}

	// The descriptor sink flushes buffered writers on commit.
	w := bufio.NewWriter(cmd.OutOrStdout())
	return resultError(dev.GetFileToDescriptor(cmd.Context(), objectID, w, progress))
}
