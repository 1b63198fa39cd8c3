package helpers

import (
	"os"
)

func CreateDir(dir string) error {
	_, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return err
}

func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CopyBytes returns a copy of b that does not alias it. nil stays nil.
func CopyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}
