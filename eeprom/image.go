package eeprom

import (
	"io"
	"os"

	"github.com/pkg/errors"
	billy "gopkg.in/src-d/go-billy.v4"
	"gopkg.in/src-d/go-billy.v4/util"
)

// Image is a Store backed by an image file on a billy filesystem. Reads are served from
// memory; every write is flushed to the file so a crash never loses a completed write.
type Image struct {
	*Memory
	fs   billy.Filesystem
	name string
}

// OpenImage loads the image called name from fs, creating a zeroed one of size bytes if it
// does not exist yet. An existing image shorter than size is zero padded.
func OpenImage(fs billy.Filesystem, name string, size int) (*Image, error) {
	img := &Image{Memory: NewMemory(size), fs: fs, name: name}
	data, err := readImage(fs, name)
	switch {
	case err == nil:
		if len(data) > size {
			return nil, errors.Errorf("eeprom image %q is %d bytes, larger than %d", name, len(data), size)
		}
		copy(img.data, data)
	case os.IsNotExist(err):
		if err := img.flush(); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrapf(err, "reading eeprom image %q", name)
	}
	return img, nil
}

// Write copies p into the store starting at addr and persists the image.
func (img *Image) Write(addr int, p []byte) error {
	if err := img.Memory.Write(addr, p); err != nil {
		return err
	}
	return img.flush()
}

func (img *Image) flush() error {
	if err := util.WriteFile(img.fs, img.name, img.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "writing eeprom image %q", img.name)
	}
	return nil
}

func readImage(fs billy.Filesystem, name string) ([]byte, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
