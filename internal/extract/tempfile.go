package extract

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// withTempFile stages data in a fresh temporary file, rewinds it and hands it to fn.
// The file is closed and removed when withTempFile returns, including on panic.
func withTempFile(dir, ext string, data []byte, fn func(f *os.File) error) (err error) {
	f, err := os.CreateTemp(dir, "docingest-*"+ext)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = f.Close()
		if rmErr := os.Remove(f.Name()); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) && err == nil {
			err = fmt.Errorf("remove temp file: %w", rmErr)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind temp file: %w", err)
	}
	return fn(f)
}
