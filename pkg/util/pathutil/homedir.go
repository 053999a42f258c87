package pathutil

import (
	"io/ioutil"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
)

// HomeDir obtains the path to the user's home directory.
func HomeDir() string {
	home, err := homedir.Dir()
	if err != nil {
		log.WithError(err).Warn("Failed to find home directory, using $HOME.")
		return os.Getenv("HOME")
	}
	return home
}

// Expand replaces a leading "~" in path with the home directory.
func Expand(path string) (string, error) {
	return homedir.Expand(path)
}

// AtomicWriteFile writes data to a temp file next to filename, then renames
// it over filename. On failure the temp file is removed.
func AtomicWriteFile(filename string, data []byte) error {
	dir, name := filepath.Split(filename)
	f, err := ioutil.TempFile(dir, name)
	if err != nil {
		return err
	}

	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if permErr := os.Chmod(f.Name(), 0600); err == nil {
		err = permErr
	}
	if err == nil {
		err = os.Rename(f.Name(), filename)
	}

	if err != nil {
		if rmErr := os.Remove(f.Name()); rmErr != nil {
			log.WithError(rmErr).Warnf("Failed to remove file %s", f.Name())
		}
	}
	return err
}
