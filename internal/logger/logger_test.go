package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helper to close non-nil closers and ignore errors
func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

type fakeSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *fakeSink) Send(source int, level Level, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, fmt.Sprintf("%d %s %s", source, level, msg))
	return nil
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

var fixedTime = time.Date(2024, 1, 2, 3, 4, 5, 678_000_000, time.Local)

func consoleLogger(buf *bytes.Buffer, format string) *Logger {
	return New(Config{
		Console: ConsoleConfig{Level: LevelDebug, Format: format, Flush: true, Writer: buf},
		Warn:    io.Discard,
		Now:     func() time.Time { return fixedTime },
	})
}

func TestAppendLineColumns(t *testing.T) {
	cases := []struct {
		format string
		source int
		level  Level
		slot   Slot
		queued bool
		want   string
	}{
		{"LPTM", SourceWrapper, LevelInfo, SlotMain, false, "INFO   | wrapper  | 2024/01/02 03:04:05 | hello"},
		{"PM", 3, LevelInfo, SlotMain, false, "jvm 3    | hello"},
		{"PM", SourceProtocol, LevelDebug, SlotMain, false, "wrapperp | hello"},
		{"DQM", SourceWrapper, LevelInfo, SlotSignal, true, "signal  | Q | hello"},
		{"ZM", SourceWrapper, LevelInfo, SlotMain, false, "2024/01/02 03:04:05.678 | hello"},
		{"M", SourceWrapper, LevelInfo, SlotMain, false, "hello"},
		{"xMy", SourceWrapper, LevelInfo, SlotMain, false, "hello"},
	}
	for _, c := range cases {
		got := string(appendLine(nil, c.format, c.source, c.level, c.slot, c.queued, fixedTime, "hello"))
		if got != c.want {
			t.Fatalf("format %q: got %q want %q", c.format, got, c.want)
		}
	}
}

func TestGenerateFileName(t *testing.T) {
	cases := []struct {
		tmpl, date string
		roll       int
		want       string
	}{
		{"wrapper.log", "", 0, "wrapper.log"},
		{"wrapper.log", "", 3, "wrapper.log.3"},
		{"wrapper-YYYYMMDD.log", "", 0, "wrapper.log"},
		{"wrapper_YYYYMMDD.log", "20240102", 0, "wrapper_20240102.log"},
		{"wrapper.YYYYMMDD.log", "", 0, "wrapper.log"},
		{"wrapperYYYYMMDD.log", "", 0, "wrapper.log"},
		{"wrapper-ROLLNUM.log", "", 0, "wrapper.log"},
		{"wrapper-ROLLNUM.log", "", 2, "wrapper-2.log"},
		{"w-YYYYMMDD-ROLLNUM.log", "20240102", 4, "w-20240102-4.log"},
		{"w-YYYYMMDD.log", datePattern, 0, "w-????????.log"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, GenerateFileName(c.tmpl, c.date, c.roll), "template %s", c.tmpl)
	}
}

func TestParseHelpers(t *testing.T) {
	assert.Equal(t, int64(0), ParseSize(""))
	assert.Equal(t, int64(512), ParseSize("512"))
	assert.Equal(t, int64(100*1024), ParseSize("100k"))
	assert.Equal(t, int64(10*1024*1024), ParseSize("10M"))
	assert.Equal(t, int64(0), ParseSize("bogus"))

	lvl, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, lvl)
	_, err = ParseLevel("loud")
	require.Error(t, err)

	assert.Equal(t, RollSizeOrJVM, ParseRollMode("size_or_jvm"))
	assert.Equal(t, RollSize, ParseRollMode("whatever"))
	assert.True(t, ValidFacility("local3"))
	assert.False(t, ValidFacility("LOCAL9"))
}

func TestSizeRollNeverExceedsMax(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wrapper.log")
	l := New(Config{
		Console: ConsoleConfig{Level: LevelNone, Writer: io.Discard},
		File:    FileConfig{Path: path, Format: "M", RollMode: RollSize, MaxSize: 100, MaxFiles: 2},
		Warn:    io.Discard,
	})
	defer closeIf(l)

	line := strings.Repeat("x", 29) // 30 bytes with newline
	for i := 0; i < 12; i++ {
		l.Log(SourceWrapper, LevelInfo, "%s", line)
		l.Flush()
		st, err := os.Stat(path)
		require.NoError(t, err)
		if st.Size() > 100 {
			t.Fatalf("active log grew to %d bytes after write %d", st.Size(), i)
		}
	}
	for _, n := range []string{path + ".1", path + ".2"} {
		st, err := os.Stat(n)
		require.NoError(t, err)
		assert.LessOrEqual(t, st.Size(), int64(100))
	}
	_, err := os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err), "retention must cap backups at 2")
}

func TestFallbackLogfileIsSizeRolled(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	var warn bytes.Buffer
	l := New(Config{
		Console: ConsoleConfig{Level: LevelNone, Writer: io.Discard},
		File: FileConfig{
			Path:     filepath.Join(dir, "missing", "app.log"),
			Format:   "M",
			RollMode: RollSize,
			MaxSize:  20,
			MaxFiles: 2,
		},
		Warn: &warn,
	})
	defer closeIf(l)

	for i := 0; i < 10; i++ {
		l.Log(SourceWrapper, LevelInfo, "0123456789") // 11 bytes with newline
		l.Flush()
		st, err := os.Stat(filepath.Join(dir, fallbackLogFile))
		require.NoError(t, err)
		if st.Size() > 20 {
			t.Fatalf("fallback log grew to %d bytes after write %d", st.Size(), i)
		}
	}
	_, err := os.Stat(filepath.Join(dir, fallbackLogFile+".2"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, fallbackLogFile+".3"))
	assert.True(t, os.IsNotExist(err), "retention applies to the fallback too")
	assert.Empty(t, warn.String(), "a working fallback is not worth a warning")
}

func TestLogfileOpenFailureWarnsOncePerMessage(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	// a directory in the way makes the fallback unopenable as well
	require.NoError(t, os.Mkdir(fallbackLogFile, 0o755))
	var warn bytes.Buffer
	l := New(Config{
		Console: ConsoleConfig{Level: LevelNone, Writer: io.Discard},
		File:    FileConfig{Path: filepath.Join(dir, "missing", "app.log"), Format: "M"},
		Warn:    &warn,
	})
	defer closeIf(l)

	l.Log(SourceWrapper, LevelInfo, "one\ntwo\nthree")
	assert.Equal(t, 1, strings.Count(warn.String(), "Unable to open logfile"))
	assert.Zero(t, l.Activity())

	// every new message retries
	l.Log(SourceWrapper, LevelInfo, "again")
	assert.Equal(t, 2, strings.Count(warn.String(), "Unable to open logfile"))

	require.NoError(t, os.Remove(fallbackLogFile))
	l.Log(SourceWrapper, LevelInfo, "recovered")
	l.Flush()
	assert.Equal(t, 2, strings.Count(warn.String(), "Unable to open logfile"))
	b, err := os.ReadFile(filepath.Join(dir, fallbackLogFile))
	require.NoError(t, err)
	assert.Equal(t, "recovered\n", string(b))
}

func TestRotateShiftsBackupsAndDropsOldest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wrapper.log")
	l := New(Config{
		Console: ConsoleConfig{Level: LevelNone, Writer: io.Discard},
		File:    FileConfig{Path: path, Format: "M", RollMode: RollJVM, MaxFiles: 2},
		Warn:    io.Discard,
	})
	defer closeIf(l)

	for _, s := range []string{"a", "b", "c"} {
		l.Log(SourceWrapper, LevelInfo, "%s", s)
		l.Rotate()
	}
	l.Log(SourceWrapper, LevelInfo, "d")
	l.CloseLogfile()

	read := func(name string) string {
		b, err := os.ReadFile(name)
		require.NoError(t, err)
		return string(b)
	}
	assert.Equal(t, "d\n", read(path))
	assert.Equal(t, "c\n", read(path+".1"))
	assert.Equal(t, "b\n", read(path+".2"))
	_, err := os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err))
}

func TestDateModePurgesOldFiles(t *testing.T) {
	dir := t.TempDir()
	for _, d := range []string{"20240101", "20240102", "20240103", "20240109"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "wrapper-"+d+".log"), []byte("old\n"), 0o644))
	}
	now := time.Date(2024, 1, 5, 12, 0, 0, 0, time.Local)
	l := New(Config{
		Console: ConsoleConfig{Level: LevelNone, Writer: io.Discard},
		File:    FileConfig{Path: filepath.Join(dir, "wrapper-YYYYMMDD.log"), Format: "M", RollMode: RollDate, MaxFiles: 1},
		Warn:    io.Discard,
		Now:     func() time.Time { return now },
	})
	defer closeIf(l)

	l.Log(SourceWrapper, LevelInfo, "today")
	l.CloseLogfile()

	exists := func(d string) bool {
		_, err := os.Stat(filepath.Join(dir, "wrapper-"+d+".log"))
		return err == nil
	}
	assert.True(t, exists("20240105"))
	assert.True(t, exists("20240103"))
	assert.False(t, exists("20240102"))
	assert.False(t, exists("20240101"))
	assert.True(t, exists("20240109"), "files dated after today are left alone")
	assert.Equal(t, filepath.Join(dir, "wrapper-20240105.log"), l.CurrentFile())
}

func TestQueueOverflowKeepsNewest(t *testing.T) {
	var buf bytes.Buffer
	l := consoleLogger(&buf, "QM")
	for i := 0; i < QueueSize+50; i++ {
		l.LogQueued(true, SlotSignal, SourceWrapper, LevelInfo, "n%d", i)
	}
	assert.Equal(t, uint64(50), l.Dropped())
	assert.Empty(t, buf.String(), "queued lines wait for a drain")

	l.DrainQueue()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, QueueSize)
	for i, line := range lines {
		want := fmt.Sprintf("Q | n%d", i+50)
		if line != want {
			t.Fatalf("line %d: got %q want %q", i, line, want)
		}
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	var buf bytes.Buffer
	l := consoleLogger(&buf, "M")
	const producers, each = 8, 500

	var wg sync.WaitGroup
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-done:
				return
			default:
				l.DrainQueue()
			}
		}
	}()
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				l.LogQueued(true, SlotTimer, p, LevelInfo, "%d", i)
			}
		}(p)
	}
	wg.Wait()
	close(done)
	<-stopped
	l.DrainQueue()

	delivered := strings.Count(buf.String(), "\n")
	assert.Equal(t, producers*each, delivered+int(l.Dropped()))
}

func TestQueueUnqueuedPathWritesImmediately(t *testing.T) {
	var buf bytes.Buffer
	l := consoleLogger(&buf, "QM")
	l.LogQueued(false, SlotSignal, SourceWrapper, LevelInfo, "direct")
	assert.Equal(t, "  | direct\n", buf.String())
}

func TestLevelFilteringAndAdviceNeverExternal(t *testing.T) {
	var buf bytes.Buffer
	sink := &fakeSink{}
	l := New(Config{
		Console:       ConsoleConfig{Level: LevelWarn, Format: "LM", Flush: true, Writer: &buf},
		External:      sink,
		ExternalLevel: LevelInfo,
		Warn:          io.Discard,
	})
	l.Log(SourceWrapper, LevelDebug, "debug")
	l.Log(SourceWrapper, LevelInfo, "info")
	l.Log(SourceWrapper, LevelAdvice, "advice")
	l.Log(2, LevelError, "boom")

	assert.Equal(t, "ADVICE | advice\nERROR  | boom\n", buf.String())
	assert.Equal(t, []string{"-1 INFO info", "2 ERROR boom"}, sink.all())

	l.SetLevel(TargetExternal, LevelNone)
	l.Log(SourceWrapper, LevelFatal, "quiet")
	assert.Len(t, sink.all(), 2)
	c, f, e := l.Levels()
	assert.Equal(t, LevelWarn, c)
	assert.Equal(t, LevelInfo, f)
	assert.Equal(t, LevelNone, e)
	assert.Equal(t, LevelWarn, l.Level(TargetConsole))

	target, ok := ParseTarget("LOGFILE")
	require.True(t, ok)
	assert.Equal(t, TargetFile, target)
	_, ok = ParseTarget("printer")
	assert.False(t, ok)
}

func TestMultiLineMessagesSplit(t *testing.T) {
	var buf bytes.Buffer
	l := consoleLogger(&buf, "PM")
	l.Log(4, LevelInfo, "one\ntwo")
	assert.Equal(t, "jvm 4    | one\njvm 4    | two\n", buf.String())
}

func TestAutoCloseAndActivity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wrapper.log")
	l := New(Config{
		Console: ConsoleConfig{Level: LevelNone, Writer: io.Discard},
		File:    FileConfig{Path: path, Format: "M"},
		Warn:    io.Discard,
	})
	defer closeIf(l)
	l.SetAutoClose(true)

	before := l.Activity()
	l.Log(SourceWrapper, LevelInfo, "flushed")
	assert.Equal(t, before+1, l.Activity())
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "flushed\n", string(b))
}

func TestSlogBridge(t *testing.T) {
	var buf bytes.Buffer
	l := consoleLogger(&buf, "DM")
	log := l.Slog(SlotSrvMain, SourceWrapper).With("component", "api")
	log.Info("listening", "port", 8080)
	log.Debug("detail")
	assert.Equal(t, "srvmain | listening component=api port=8080\nsrvmain | detail component=api\n", buf.String())
}

func TestSlogGroupsQualifyLaterAttrsOnly(t *testing.T) {
	var buf bytes.Buffer
	l := consoleLogger(&buf, "M")
	log := l.Slog(SlotMain, SourceWrapper).With("a", 1).WithGroup("g").With("b", 2).WithGroup("h")
	log.Info("msg", "c", 3)
	assert.Equal(t, "msg a=1 g.b=2 g.h.c=3\n", buf.String())
}

func TestOutputWriterWithDir(t *testing.T) {
	dir := t.TempDir()
	cfg := OutputConfig{Dir: dir}
	require.True(t, cfg.Enabled())
	w := cfg.Writer("jvm-1")
	if w == nil {
		t.Fatalf("expected writer when Dir is set")
	}
	_, _ = w.Write([]byte("hello-out\n"))
	closeIf(w)
	if _, err := os.Stat(filepath.Join(dir, "jvm-1.out.log")); err != nil {
		t.Fatalf("output log not created: %v", err)
	}
}

func TestOutputWriterDisabled(t *testing.T) {
	var cfg OutputConfig
	assert.False(t, cfg.Enabled())
	assert.Nil(t, cfg.Writer("x"))
}
