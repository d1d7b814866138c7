package client

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

// CollectFiles expands the given arguments into a flat list of regular
// files, walking directories recursively.
func CollectFiles(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, &ValidationError{Arg: "<files>", Cause: "no files provided"}
	}

	var out []string

	for _, raw := range args {
		p := filepath.Clean(raw)
		info, err := os.Stat(p)
		if err != nil {
			return nil, &ValidationError{Arg: raw, Cause: "not found or not accessible"}
		}

		if !info.IsDir() {
			out = append(out, p)
			continue
		}

		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, &ValidationError{Arg: raw, Cause: err.Error()}
		}
	}

	if len(out) == 0 {
		return nil, &ValidationError{Arg: "<files>", Cause: "no regular files found"}
	}

	return out, nil
}
