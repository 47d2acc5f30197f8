package composer

import (
	"io"
	"os"
	"path/filepath"
)

// PathSource adapts a filesystem path to a FileSource.
type PathSource string

func (p PathSource) Name() string { return filepath.Base(string(p)) }

func (p PathSource) Open() (io.ReadCloser, error) { return os.Open(string(p)) }
