package transfer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/agnivade/levenshtein"
)

// resolvePath interprets arg relative to the session's working directory.
func resolvePath(cwd, arg string) string {
	if filepath.IsAbs(arg) {
		return filepath.Clean(arg)
	}
	return filepath.Join(cwd, arg)
}

// listDirectory returns every entry of dir other than "." and "..", each
// followed by a newline.
func listDirectory(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", statusError(StatusErrorOccurred, err)
	}

	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Name())
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// openForTransfer checks that path names a regular file the client may fetch
// and opens it.
func openForTransfer(path string) (Payload, error) {
	info, err := os.Stat(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return nil, statusError(StatusAccessDenied, err)
		case errors.Is(err, fs.ErrNotExist):
			return nil, statusError(StatusFileNotFound, err)
		default:
			return nil, statusError(StatusErrorOccurred, err)
		}
	}
	if info.IsDir() {
		return nil, statusError(StatusCannotTransferDir, nil)
	}
	// Opening a FIFO or device could block forever.
	if !info.Mode().IsRegular() {
		return nil, statusError(StatusErrorOccurred, fmt.Errorf("%s is not a regular file (mode %v)", path, info.Mode()))
	}

	payload, err := openFilePayload(path)
	if err != nil {
		return nil, statusError(StatusFileReadError, err)
	}
	return payload, nil
}

// changeDirectory validates target as a new working directory and returns
// its cleaned absolute form. Stat'ing "target/." requires the same search
// permission a chdir would, so the error mapping matches one.
func changeDirectory(target string) (string, error) {
	_, err := os.Stat(target + string(filepath.Separator) + ".")
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return "", statusError(StatusAccessDenied, err)
		case errors.Is(err, fs.ErrNotExist):
			return "", statusError(StatusDirNotFound, err)
		case errors.Is(err, syscall.ENOTDIR):
			return "", statusError(StatusNotADirectory, err)
		default:
			return "", statusError(StatusErrorOccurred, err)
		}
	}
	return filepath.Clean(target), nil
}

// closestName returns the entry of dir most similar to name, or "" if nothing
// is reasonably close.
func closestName(dir, name string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	best, bestDistance := "", len(name)/2+1
	for _, e := range entries {
		if d := levenshtein.ComputeDistance(name, e.Name()); d < bestDistance {
			best, bestDistance = e.Name(), d
		}
	}
	return best
}
