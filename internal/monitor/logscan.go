package monitor

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

var errorLinePattern = regexp.MustCompile(`(?i)\b(error|critical|fatal|panic|exception)\b`)

// logScanner counts error lines appended to the log directory since the
// previous scan. Offsets are tracked per file so each line is counted once;
// a truncated or rotated file restarts from zero.
type logScanner struct {
	dir string

	mu      sync.Mutex
	offsets map[string]int64
}

func newLogScanner(dir string) *logScanner {
	return &logScanner{dir: dir, offsets: map[string]int64{}}
}

// countNewErrors scans every *.log file for new error-looking lines.
func (ls *logScanner) countNewErrors() (int, error) {
	if ls.dir == "" {
		return 0, nil
	}
	paths, err := filepath.Glob(filepath.Join(ls.dir, "*.log"))
	if err != nil {
		return 0, err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	total := 0
	for _, path := range paths {
		n, err := ls.scanFile(path)
		if err != nil {
			continue // unreadable file should not fail the whole probe
		}
		total += n
	}
	return total, nil
}

func (ls *logScanner) scanFile(path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}

	offset := ls.offsets[path]
	if info.Size() < offset {
		offset = 0 // rotated or truncated
	}
	if info.Size() == offset {
		return 0, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}

	count := 0
	reader := bufio.NewReader(f)
	read := offset
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 && strings.HasSuffix(line, "\n") {
			read += int64(len(line))
			if errorLinePattern.MatchString(line) {
				count++
			}
		}
		if err != nil {
			break // incomplete trailing line is picked up next scan
		}
	}
	ls.offsets[path] = read
	return count, nil
}
