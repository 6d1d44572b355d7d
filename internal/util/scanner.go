package util

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// maxPathLine bounds a single line of a path list.
const maxPathLine = 1 << 20

// ReadPathList reads one path per line, trimming whitespace and skipping
// blank lines and '#' comments. Order is preserved.
func ReadPathList(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxPathLine)

	var paths []string
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read path list at line %d: %w", lineNum+1, err)
	}
	return paths, nil
}

// ReadPathListFile reads a path list from a file.
func ReadPathListFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open path list: %w", err)
	}
	defer f.Close()
	paths, err := ReadPathList(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return paths, nil
}

// WritePathList writes paths one per line.
func WritePathList(w io.Writer, paths []string) error {
	bw := bufio.NewWriter(w)
	for _, p := range paths {
		if _, err := bw.WriteString(p + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
