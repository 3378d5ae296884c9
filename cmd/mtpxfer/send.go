package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/opd-ai/mtpxfer/file"
	"github.com/spf13/cobra"
)

type sendFlags struct {
	Stdin     bool
	Name      string
	Type      string
	ParentID  uint32
	StorageID uint32
	Size      int64
	ModTime   string
	Progress  bool
}

func newSendCmd(c *cli) *cobra.Command {
	var flags sendFlags

	cmd := &cobra.Command{
		Use:   "send [path]",
		Short: "Upload a file to the device",
		Long: `Upload a local file, or standard input with --stdin, to the device.
On success the new object id is printed.

The declared size is taken from the file. Standard input is buffered in
memory unless --size is given. The modification date defaults to the
file's own, or the current time for standard input; --mtime overrides it
with an RFC 3339 timestamp.`,
		Args: cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return validateSendFlags(&flags, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runSend(cmd, &flags, args)
		},
	}

	cmd.Flags().BoolVar(&flags.Stdin, "stdin", false, "read the content from standard input")
	cmd.Flags().StringVarP(&flags.Name, "name", "n", "", "object filename on the device (default is the base name of path)")
	cmd.Flags().StringVarP(&flags.Type, "type", "t", "", "file type as an extension, e.g. mp3 (default is detected)")
	cmd.Flags().Uint32Var(&flags.ParentID, "parent", 0, "parent folder object id")
	cmd.Flags().Uint32Var(&flags.StorageID, "storage", 0, "storage id")
	cmd.Flags().Int64Var(&flags.Size, "size", -1, "declared size of standard input in bytes")
	cmd.Flags().StringVar(&flags.ModTime, "mtime", "", "modification date as RFC 3339, e.g. 2024-05-01T12:00:00Z")
	cmd.Flags().BoolVarP(&flags.Progress, "progress", "p", false, "print progress to stderr")
	return cmd
}

func validateSendFlags(flags *sendFlags, args []string) error {
	switch {
	case flags.Stdin && len(args) > 0:
		return fmt.Errorf("--stdin and a path are mutually exclusive")
	case !flags.Stdin && len(args) == 0:
		return fmt.Errorf("a path or --stdin is required")
	case flags.Stdin && flags.Name == "":
		return fmt.Errorf("--name is required with --stdin")
	case !flags.Stdin && flags.Size >= 0:
		return fmt.Errorf("--size only applies to --stdin")
	}
	if flags.Type != "" {
		if _, err := parseFileType(flags.Type); err != nil {
			return err
		}
	}
	if flags.ModTime != "" {
		if _, err := parseModTime(flags.ModTime); err != nil {
			return err
		}
	}
	return nil
}

func parseModTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --mtime %q: %w", value, err)
	}
	return t.UTC(), nil
}

// parseFileType maps an extension such as "mp3" or ".mp3" to its file type.
func parseFileType(ext string) (file.FileType, error) {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "folder" {
		return file.FileTypeFolder, fmt.Errorf("folders cannot be uploaded")
	}
	t := file.FileTypeFromName("x." + ext)
	if t == file.FileTypeUnknown && ext != "unknown" {
		return t, fmt.Errorf("unknown file type %q", ext)
	}
	return t, nil
}

func (c *cli) runSend(cmd *cobra.Command, flags *sendFlags, args []string) error {
	meta := file.ObjectMetadata{
		Filename:  flags.Name,
		ParentID:  flags.ParentID,
		StorageID: flags.StorageID,
	}
	if flags.Type != "" {
		meta.Type, _ = parseFileType(flags.Type)
	}
	if flags.ModTime != "" {
		meta.ModTime, _ = parseModTime(flags.ModTime)
	}

	var src io.Reader
	if flags.Stdin {
		src = cmd.InOrStdin()
		if flags.Size >= 0 {
			meta.Size = uint64(flags.Size)
		} else {
			// Buffering makes the source seekable, so retries can rewind it.
			data, err := io.ReadAll(src)
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			src = bytes.NewReader(data)
			meta.Size = uint64(len(data))
		}
	} else {
		fi, err := os.Stat(args[0])
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return fmt.Errorf("%s is a directory", args[0])
		}
		meta.Size = uint64(fi.Size())
	}

	dev, err := c.openDevice(cmd)
	if err != nil {
		return err
	}
	defer dev.Close()

	progress := progressBar(cmd.ErrOrStderr(), flags.Progress, "sending")
	var res file.Result
	if src != nil {
		res = dev.SendFileFromDescriptor(cmd.Context(), src, meta, progress)
	} else {
		res = dev.SendFile(cmd.Context(), args[0], meta, progress)
	}
	if err := resultError(res); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), res.ObjectID)
	return nil
}
