package dashboard

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// AppendLog appends d as one JSON line to path, creating the file and its
// directory when missing. Existing lines are never rewritten.
func AppendLog(path string, d *MoonBuildDashboard) error {
	line, err := d.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode dashboard: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}

	w := bufio.NewWriter(f)
	if _, err := w.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("failed to append log: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush log: %w", err)
	}
	return f.Close()
}

// ReadLog decodes every snapshot line of r in file order. Blank lines are skipped.
func ReadLog(r io.Reader) ([]*MoonBuildDashboard, error) {
	var out []*MoonBuildDashboard
	err := ScanLog(r, func(_ int, d *MoonBuildDashboard, _ []byte) error {
		out = append(out, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ScanLog calls fn for every snapshot line of r with the decoded snapshot and
// the trimmed raw line. The line is only valid during the call. A non-nil
// error from fn stops the scan and is returned as is.
func ScanLog(r io.Reader, fn func(lineNo int, d *MoonBuildDashboard, line []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var d MoonBuildDashboard
		if err := json.Unmarshal(line, &d); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := fn(lineNo, &d, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// ReadLogFile opens path and reads it with ReadLog. A missing file is an empty log.
func ReadLogFile(path string) ([]*MoonBuildDashboard, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadLog(f)
}
