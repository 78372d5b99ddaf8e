package stt

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ModelFiles are the artifacts a streaming transducer model needs.
type ModelFiles struct {
	Dir     string
	Tokens  string
	Encoder string
	Decoder string
	Joiner  string
}

// ModelError lists every artifact missing from Dir.
type ModelError struct {
	Dir     string
	Missing []string
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model not found in %s: missing %s", e.Dir, strings.Join(e.Missing, ", "))
}

func (e *ModelError) Unwrap() error { return ErrModelNotFound }

// ModelDir is where a model id is expected below the model root.
func ModelDir(root, id string) string {
	if id == "" {
		return root
	}
	return filepath.Join(root, id)
}

// LocateModel presence-checks the artifacts in dir. Weight files are matched
// by prefix (encoder-epoch-99-avg-1.onnx and the like); full precision
// weights win over int8 ones when both exist.
func LocateModel(dir string) (ModelFiles, error) {
	files := ModelFiles{Dir: dir}
	var missing []string

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return files, &ModelError{Dir: dir, Missing: []string{"tokens.txt", "encoder*.onnx", "decoder*.onnx", "joiner*.onnx"}}
	}

	tokens := filepath.Join(dir, "tokens.txt")
	if _, err := os.Stat(tokens); err != nil {
		missing = append(missing, "tokens.txt")
	} else {
		files.Tokens = tokens
	}

	for _, part := range []struct {
		prefix string
		dst    *string
	}{
		{"encoder", &files.Encoder},
		{"decoder", &files.Decoder},
		{"joiner", &files.Joiner},
	} {
		path, ok := findWeights(dir, part.prefix)
		if !ok {
			missing = append(missing, part.prefix+"*.onnx")
			continue
		}
		*part.dst = path
	}

	if len(missing) > 0 {
		return files, &ModelError{Dir: dir, Missing: missing}
	}
	return files, nil
}

func findWeights(dir, prefix string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"*.onnx"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	for _, m := range matches {
		if !strings.Contains(filepath.Base(m), "int8") {
			return m, true
		}
	}
	return matches[0], true
}
