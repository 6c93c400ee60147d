package logger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// fallbackLogFile is tried once when the configured log file cannot be opened.
const fallbackLogFile = "wrapper.log"

// FileConfig configures the log file target.
type FileConfig struct {
	// Path is a template that may contain YYYYMMDD and ROLLNUM tokens.
	// Empty disables the file target.
	Path      string
	Level     Level
	Format    string
	RollMode  RollMode
	MaxSize   int64 // bytes; 0 means unlimited
	MaxFiles  int   // retained rolled files; 0 means unlimited
	AutoClose bool  // close after every write
	Umask     fs.FileMode
}

type fileTarget struct {
	cfg      FileConfig
	f        *os.File
	w        *bufio.Writer
	name     string
	size     int64
	fallback bool // the last open used fallbackLogFile
	lastDate string
	warn     io.Writer
}

func newFileTarget(cfg FileConfig, warn io.Writer) *fileTarget {
	if cfg.Format == "" {
		cfg.Format = DefaultFileFormat
	}
	if cfg.RollMode == 0 {
		cfg.RollMode = RollSize
	}
	return &fileTarget{cfg: cfg, warn: warn}
}

func (t *fileTarget) dateMode() bool { return t.cfg.RollMode&RollDate != 0 }

// currentName is the active file name for date (empty outside DATE mode).
func (t *fileTarget) currentName(date string) string {
	if !t.dateMode() {
		date = ""
	}
	return GenerateFileName(t.cfg.Path, date, 0)
}

// template is the path template of the file being written: the configured
// one, or fallbackLogFile while the configured one cannot be opened.
func (t *fileTarget) template() string {
	if t.fallback {
		return fallbackLogFile
	}
	return t.cfg.Path
}

// open opens the configured file, or fallbackLogFile when that fails. A
// single warning is printed only when both fail; the next write retries.
func (t *fileTarget) open(date string) error {
	if t.f != nil {
		return nil
	}
	perm := fs.FileMode(0o666) &^ t.cfg.Umask
	name := t.currentName(date)
	fallback := false
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, perm)
	if err != nil && name != fallbackLogFile {
		fallback = true
		f, err = os.OpenFile(fallbackLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, perm)
	}
	if err != nil {
		fmt.Fprintf(t.warn, "Unable to open logfile %s: %v\n", name, err)
		return err
	}
	if fallback {
		name = fallbackLogFile
	}
	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	t.f, t.w, t.name, t.size, t.fallback = f, bufio.NewWriter(f), name, size, fallback
	return nil
}

// write appends line, rolling first when required.
func (t *fileTarget) write(line []byte, date string) error {
	if t.cfg.Path == "" {
		return nil
	}
	t.checkDate(date)
	if err := t.open(date); err != nil {
		return err
	}
	if t.needsRoll(int64(len(line))) {
		t.rotate()
		if err := t.open(date); err != nil {
			return err
		}
	}
	n, err := t.w.Write(line)
	t.size += int64(n)
	if err != nil {
		return err
	}
	if t.cfg.AutoClose {
		t.close()
	}
	return nil
}

// checkDate closes the file and purges old ones when the date changed.
func (t *fileTarget) checkDate(date string) {
	if !t.dateMode() || date == t.lastDate {
		return
	}
	t.close()
	t.lastDate = date
	if t.cfg.MaxFiles > 0 {
		t.limitFileCount(GenerateFileName(t.cfg.Path, date, 0), GenerateFileName(t.cfg.Path, datePattern, 0), t.cfg.MaxFiles+1)
	}
}

// needsRoll reports whether appending pending bytes to the open file would
// exceed the size limit. An empty file is never rolled.
func (t *fileTarget) needsRoll(pending int64) bool {
	if t.dateMode() || t.cfg.RollMode&RollSize == 0 || t.cfg.MaxSize <= 0 {
		return false
	}
	return t.size > 0 && t.size+pending > t.cfg.MaxSize
}

// rotate shifts numbered backups up by one, discarding the last when the
// retention limit is reached, and moves the active file to index 1.
func (t *fileTarget) rotate() {
	t.close()
	if t.cfg.Path == "" {
		return
	}
	if t.dateMode() {
		t.lastDate = ""
		return
	}
	base := t.template()
	i := 0
	for {
		i++
		if _, err := os.Stat(GenerateFileName(base, "", i)); err != nil {
			break
		}
		if t.cfg.MaxFiles > 0 && i >= t.cfg.MaxFiles {
			break
		}
	}
	if err := os.Remove(GenerateFileName(base, "", i)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(t.warn, "Unable to delete old log file: %s (%v)\n", GenerateFileName(base, "", i), err)
	}
	for ; i > 1; i-- {
		from, to := GenerateFileName(base, "", i-1), GenerateFileName(base, "", i)
		if err := os.Rename(from, to); err != nil && !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(t.warn, "Unable to rename log file %s to %s (%v)\n", from, to, err)
		}
	}
	current, first := GenerateFileName(base, "", 0), GenerateFileName(base, "", 1)
	if err := os.Rename(current, first); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(t.warn, "Unable to rename log file %s to %s (%v)\n", current, first, err)
	}
}

// limitFileCount keeps current plus the newest files matching pattern,
// count in total, and deletes the rest. Files named after current are left
// alone.
func (t *fileTarget) limitFileCount(current, pattern string, count int) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	names := []string{current}
	for _, m := range matches {
		if m != current && m < current {
			names = append(names, m)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names[1:])))
	for _, name := range names[min(count, len(names)):] {
		if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(t.warn, "Unable to delete old log file: %s (%v)\n", name, err)
		}
	}
}

func (t *fileTarget) flush() {
	if t.w != nil {
		_ = t.w.Flush()
	}
}

func (t *fileTarget) close() {
	if t.f == nil {
		return
	}
	_ = t.w.Flush()
	_ = t.f.Close()
	t.f, t.w = nil, nil
}

func (t *fileTarget) isOpen() bool { return t.f != nil }
