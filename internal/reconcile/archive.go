package reconcile

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

func isArchive(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}

// extractArchive unpacks the archive at src into destDir and deletes the
// archive file on success. Platforms sometimes wrap the real export in an
// outer archive containing exactly one inner archive; that inner archive is
// extracted in place and removed too.
func extractArchive(ctx context.Context, src, destDir string) error {
	if err := unzip(ctx, src, destDir); err != nil {
		return fmt.Errorf("failed to extract %s: %w", filepath.Base(src), err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("failed to remove archive %s: %w", filepath.Base(src), err)
	}

	inner, err := soleInnerArchive(destDir)
	if err != nil {
		return err
	}
	if inner != "" {
		if err := unzip(ctx, inner, destDir); err != nil {
			return fmt.Errorf("failed to extract inner archive %s: %w", filepath.Base(inner), err)
		}
		if err := os.Remove(inner); err != nil {
			return fmt.Errorf("failed to remove inner archive %s: %w", filepath.Base(inner), err)
		}
	}
	return nil
}

// soleInnerArchive returns the single archive file sitting in destDir after an
// extraction, or "" when the extraction produced regular content.
func soleInnerArchive(destDir string) (string, error) {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return "", fmt.Errorf("failed to read extraction dir: %w", err)
	}

	var archives []string
	var other int
	for _, entry := range entries {
		if entry.IsDir() {
			other++
			continue
		}
		if isArchive(entry.Name()) {
			archives = append(archives, filepath.Join(destDir, entry.Name()))
		} else {
			other++
		}
	}

	if len(archives) == 1 && other == 0 {
		return archives[0], nil
	}
	return "", nil
}

func unzip(ctx context.Context, src, destDir string) error {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer reader.Close()

	for _, file := range reader.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := extractZipEntry(file, destDir); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(file *zip.File, destDir string) error {
	// Reject entries that would escape the destination.
	dest := filepath.Join(destDir, filepath.Clean(file.Name))
	if !strings.HasPrefix(dest, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("archive entry %q escapes destination", file.Name)
	}

	if file.FileInfo().IsDir() {
		return os.MkdirAll(dest, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	in, err := file.Open()
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return nil
}
