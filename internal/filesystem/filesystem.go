package filesystem

import (
	"os"
	"path/filepath"
	"strings"

	"parcel/internal/config"
	"parcel/internal/errors"
)

// FileInfo represents information about a file to be transferred
type FileInfo struct {
	Name     string
	Size     int64
	Path     string
	IsDir    bool
	ModeBits os.FileMode
}

// ValidateFilePath checks if a file path is safe and valid
func ValidateFilePath(path string) error {
	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return errors.NewValidationError("file_path", path, "path contains directory traversal")
	}

	return nil
}

// GetFileInfo returns information about a file
func GetFileInfo(path string) (*FileInfo, error) {
	if err := ValidateFilePath(path); err != nil {
		return nil, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewIoError("stat", path, err)
	}

	return &FileInfo{
		Name:     stat.Name(),
		Size:     stat.Size(),
		Path:     path,
		IsDir:    stat.IsDir(),
		ModeBits: stat.Mode(),
	}, nil
}

// CreateDir implements the ControlService create_dir operation: create path
// and parents, no error if it already exists.
func CreateDir(path string) error {
	if err := os.MkdirAll(path, config.DirPerms); err != nil {
		return errors.NewIoError("create_dir", path, err)
	}
	return nil
}

// ValidatePath implements the ControlService validate_path operation,
// collapsing the source's overlapping directory branches into one rule
// (see Open Question decisions): if dest names an existing directory,
// append the basename of src; otherwise treat dest as a literal file path
// and ensure its parent directory exists.
func ValidatePath(dest, src string) (string, error) {
	info, err := os.Stat(dest)
	if err == nil && info.IsDir() {
		return filepath.Join(dest, filepath.Base(src)), nil
	}

	parent := filepath.Dir(dest)
	if _, err := os.Stat(parent); err != nil {
		if os.IsNotExist(err) {
			if err := CreateDir(parent); err != nil {
				return "", err
			}
			return dest, nil
		}
		return "", errors.NewIoError("validate_path", dest, err)
	}

	return dest, nil
}

// ProbeFile implements the ControlService probe_file operation: returns the
// size of path, creating it empty first if it does not yet exist.
func ProbeFile(path string) (int64, error) {
	info, err := os.Stat(path)
	if err == nil {
		return info.Size(), nil
	}
	if !os.IsNotExist(err) {
		return 0, errors.NewIoError("probe_file", path, err)
	}

	if err := CreateDir(filepath.Dir(path)); err != nil {
		return 0, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, config.FilePerms)
	if err != nil {
		return 0, errors.NewIoError("probe_file", path, err)
	}
	defer f.Close()

	return 0, nil
}

// OverwriteFile implements the ControlService overwrite_file operation:
// truncate path to zero length, creating it if needed.
func OverwriteFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, config.FilePerms)
	if err != nil {
		return errors.NewIoError("overwrite_file", path, err)
	}
	return f.Close()
}

// BlockCount implements the ControlService block_count operation:
// floor(size(path) / CHUNK_SIZE).
func BlockCount(path string, chunkSize int64) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, errors.NewIoError("block_count", path, err)
	}
	return info.Size() / chunkSize, nil
}

// GetCompressibleExtensions returns a map of file extensions that should be compressed
func GetCompressibleExtensions() map[string]bool {
	return map[string]bool{
		".txt": true, ".log": true, ".csv": true, ".json": true, ".xml": true,
		".html": true, ".htm": true, ".css": true, ".js": true, ".sql": true,
		".md": true, ".yaml": true, ".yml": true, ".ini": true, ".conf": true, ".cfg": true,
	}
}

// GetAlreadyCompressedExtensions returns a map of file extensions that are already compressed
func GetAlreadyCompressedExtensions() map[string]bool {
	return map[string]bool{
		".zip": true, ".gz": true, ".bz2": true, ".xz": true, ".rar": true, ".7z": true,
		".tar": true, ".mp3": true, ".mp4": true, ".avi": true, ".mkv": true, ".jpg": true,
		".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".pdf": true,
		".docx": true, ".xlsx": true, ".pptx": true, ".odt": true, ".ods": true, ".odp": true,
	}
}

// ShouldCompress determines if a file should be compressed based on its extension
func ShouldCompress(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))

	if GetAlreadyCompressedExtensions()[ext] {
		return false
	}
	return GetCompressibleExtensions()[ext]
}

// EnumerateTree walks root and returns every regular file reachable from
// it, relative to root. Symlinks are followed only when followLinks is set.
func EnumerateTree(root string, followLinks bool) ([]string, error) {
	var files []string

	walkFn := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return errors.NewIoError("enumerate", path, err)
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 && !followLinks {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return errors.NewIoError("enumerate", path, err)
		}
		if d.Type()&os.ModeSymlink != 0 {
			target, err := os.Stat(path)
			if err != nil {
				return errors.NewIoError("enumerate", path, err)
			}
			if target.IsDir() {
				sub, err := EnumerateTree(path, followLinks)
				if err != nil {
					return err
				}
				for _, s := range sub {
					files = append(files, filepath.Join(rel, s))
				}
				return nil
			}
		}
		files = append(files, rel)
		return nil
	}

	if err := filepath.WalkDir(root, walkFn); err != nil {
		return nil, err
	}
	return files, nil
}

// DirsOf returns the set of directories (shallowest first, deduplicated)
// that must exist to hold every path in files when rooted at destRoot.
func DirsOf(destRoot string, files []string) []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, f := range files {
		d := filepath.Dir(filepath.Join(destRoot, f))
		for d != "." && d != string(filepath.Separator) && !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
			d = filepath.Dir(d)
		}
	}
	// shallowest first: sort by path component count
	for i := 1; i < len(dirs); i++ {
		for j := i; j > 0; j-- {
			if strings.Count(dirs[j], string(filepath.Separator)) < strings.Count(dirs[j-1], string(filepath.Separator)) {
				dirs[j], dirs[j-1] = dirs[j-1], dirs[j]
			} else {
				break
			}
		}
	}
	return dirs
}
