package main

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var errUnsafePath = errors.New("archive entry escapes the output directory")

func newUnzipCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "unzip <zip-file>",
		Short: "Extract a downloaded corpus archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				return fmt.Errorf("zipped file does not exist: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Extracting %s\n", args[0])
			n, err := extractZip(args[0], orDefault(outDir, "."))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Extracted %d files\n", n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out-dir", "d", "", "Output directory (default current directory)")
	return cmd
}

// extractZip unpacks every entry of the archive at path below dir and
// returns the number of files written.
func extractZip(path, dir string) (int, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return 0, err
	}
	defer zr.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return 0, err
	}

	files := 0
	for _, zf := range zr.File {
		target := filepath.Join(root, filepath.FromSlash(zf.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return files, fmt.Errorf("%w: %s", errUnsafePath, zf.Name)
		}

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, err
			}
			continue
		}
		if err := extractFile(zf, target); err != nil {
			return files, fmt.Errorf("%s: %w", zf.Name, err)
		}
		files++
	}
	return files, nil
}

func extractFile(zf *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := zf.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
