//go:build !tinygo

package eeprom

import (
	"errors"
	"io/fs"
	"os"

	"sysbus-go/errcode"
)

// File is a Device backed by an image file on the host. A missing or short
// file is extended with erased cells.
type File struct {
	f    *os.File
	size int
}

func OpenFile(path string, size int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errcode.Wrap(errcode.NoStorage, "eeprom.open", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errcode.Wrap(errcode.NoStorage, "eeprom.open", err)
	}
	if have := st.Size(); have < int64(size) {
		pad := make([]byte, int64(size)-have)
		for i := range pad {
			pad[i] = Erased
		}
		if _, err := f.WriteAt(pad, have); err != nil {
			_ = f.Close()
			return nil, errcode.Wrap(errcode.NoStorage, "eeprom.open", err)
		}
	}
	return &File{f: f, size: size}, nil
}

func (d *File) Size() int { return d.size }

func (d *File) ReadAt(p []byte, off int64) (int, error) {
	if err := CheckRange("eeprom.read", d.size, off, len(p)); err != nil {
		return 0, err
	}
	return d.f.ReadAt(p, off)
}

func (d *File) WriteAt(p []byte, off int64) (int, error) {
	if err := CheckRange("eeprom.write", d.size, off, len(p)); err != nil {
		return 0, err
	}
	n, err := d.f.WriteAt(p, off)
	if err != nil {
		return n, err
	}
	return n, d.f.Sync()
}

func (d *File) Close() error {
	if err := d.f.Close(); err != nil && !errors.Is(err, fs.ErrClosed) {
		return err
	}
	return nil
}
