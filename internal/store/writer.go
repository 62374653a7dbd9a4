package store

import (
	"os"
	"path/filepath"

	"github.com/conneroisu/livegen/internal/errors"
)

// OutputWriter writes build results to instance output paths. Replace mode
// swaps a symlink so readers see either the old complete content or the new
// complete content, never a partial write. Append, prepend, and concatenate
// rewrite the file in full and are explicitly not atomic.
type OutputWriter struct{}

// NewOutputWriter creates an output writer.
func NewOutputWriter() *OutputWriter {
	return &OutputWriter{}
}

// WriteReplace points target at contentPath via a symlink, replacing any
// existing file or symlink at target.
func (w *OutputWriter) WriteReplace(target, contentPath string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.NewIOError("creating output parent directory", err)
	}

	if _, err := os.Lstat(target); err == nil {
		if err := os.Remove(target); err != nil {
			return errors.NewIOError("removing existing output", err)
		}
	}

	abs, err := filepath.Abs(contentPath)
	if err != nil {
		return errors.NewIOError("resolving content path", err)
	}
	if err := os.Symlink(abs, target); err != nil {
		return errors.NewIOError("creating output symlink", err)
	}
	return nil
}

// AppendToFile appends content to target, creating it if needed.
func (w *OutputWriter) AppendToFile(target string, content []byte) error {
	existing, err := w.readIfExists(target)
	if err != nil {
		return err
	}
	return w.rewrite(target, append(existing, content...))
}

// PrependToFile prepends content to target, creating it if needed.
func (w *OutputWriter) PrependToFile(target string, content []byte) error {
	existing, err := w.readIfExists(target)
	if err != nil {
		return err
	}
	return w.rewrite(target, append(append([]byte{}, content...), existing...))
}

// ConcatenateToFile appends content with a newline separator when the new
// content does not already end with one.
func (w *OutputWriter) ConcatenateToFile(target string, content []byte) error {
	if len(content) == 0 || content[len(content)-1] != '\n' {
		content = append(append([]byte{}, content...), '\n')
	}
	return w.AppendToFile(target, content)
}

// RemoveSymlink deletes target only if it is currently a symlink.
func (w *OutputWriter) RemoveSymlink(target string) error {
	info, err := os.Lstat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewIOError("probing output symlink", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return nil
	}
	if err := os.Remove(target); err != nil {
		return errors.NewIOError("removing output symlink", err)
	}
	return nil
}

func (w *OutputWriter) readIfExists(target string) ([]byte, error) {
	data, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewIOError("reading existing output", err)
	}
	return data, nil
}

func (w *OutputWriter) rewrite(target string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.NewIOError("creating output parent directory", err)
	}
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return errors.NewIOError("writing output file", err)
	}
	return nil
}
