package tailer

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"zbxrtx/internal/logging"
)

// FileOptions configures a FileTailer.
type FileOptions struct {
	// Interval is the baseline poll interval (spec §4.1).
	Interval time.Duration

	// MaxBackoff caps the idle backoff applied when a cycle makes no
	// progress.
	MaxBackoff time.Duration

	// SeekToEnd, when true, opens the file at its current end instead of
	// offset 0, so pre-existing content is not replayed. Equivalent to the
	// source's "begin at tail" flag.
	SeekToEnd bool

	// Logger is scoped with component="tailer", type="file".
	Logger *slog.Logger

	// OnEvent receives every Event this FileTailer emits. Required.
	OnEvent Sink
}

// FileTailer follows one NDJSON file, emitting one Event per complete line
// plus lifecycle/diagnostic events (spec §4.1). It tolerates rotation,
// truncation and partial lines, and never emits a line twice.
//
// The poll loop runs on a single dedicated goroutine, which is what makes it
// single-flighted: there is never more than one cycle in flight, by
// construction, rather than by an explicit guard flag.
type FileTailer struct {
	path string
	opts FileOptions

	logger *slog.Logger

	file       *os.File
	inodeKnown bool
	inode      uint64
	offset     int64
	lineBuf    []byte

	pokeCh  chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewFile creates a FileTailer for path. Call Start to begin following it.
func NewFile(path string, opts FileOptions) *FileTailer {
	if opts.Interval <= 0 {
		opts.Interval = 250 * time.Millisecond
	}
	if opts.MaxBackoff < opts.Interval {
		opts.MaxBackoff = opts.Interval
	}
	if opts.OnEvent == nil {
		opts.OnEvent = func(Event) {}
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return &FileTailer{
		path:   path,
		opts:   opts,
		logger: logging.Default(opts.Logger).With("component", "tailer", "type", "file", "path", path),
		pokeCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start opens the file and begins the polling loop. Idempotent: a second
// call is a no-op while already started.
func (ft *FileTailer) Start(ctx context.Context) {
	ft.startOnce.Do(func() {
		ft.started = true
		go ft.run(ctx)
	})
}

// Stop requests the loop to exit and waits for it to do so. Safe to call
// more than once and safe to call before Start (in which case it returns
// immediately: there is no loop to wait for).
func (ft *FileTailer) Stop() {
	ft.stopOnce.Do(func() {
		close(ft.stopCh)
	})
	if ft.started {
		<-ft.doneCh
	}
}

// Poke resets the idle backoff and schedules an immediate cycle. Used by
// DirectoryTailer to relay an advisory filesystem change hint; correctness
// never depends on Poke being called (spec §4.1, §9).
func (ft *FileTailer) Poke() {
	select {
	case ft.pokeCh <- struct{}{}:
	default:
	}
}

func (ft *FileTailer) run(ctx context.Context) {
	defer close(ft.doneCh)
	defer ft.closeFile()

	ft.openOrWarn()

	backoff := ft.opts.Interval
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ft.stopCh:
			return
		case <-ft.pokeCh:
			backoff = ft.opts.Interval
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(0)
		case <-timer.C:
			progressed := ft.cycle()
			if progressed {
				backoff = ft.opts.Interval
			} else {
				backoff = min(backoff*2, ft.opts.MaxBackoff)
			}
			timer.Reset(backoff)
		}
	}
}

// openOrWarn performs the initial open. An open failure is warned; the
// loop's next cycle will retry via cycle()'s own open-on-demand path.
func (ft *FileTailer) openOrWarn() {
	if err := ft.open(); err != nil {
		ft.logger.Warn("failed to open file", "error", err)
	}
}

func (ft *FileTailer) open() error {
	f, err := os.Open(ft.path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	inode, _ := getInode(info)

	if ft.opts.SeekToEnd && !ft.inodeKnown {
		ft.offset = info.Size()
	}
	if _, err := f.Seek(ft.offset, io.SeekStart); err != nil {
		_ = f.Close()
		return err
	}

	ft.file = f
	ft.inode = inode
	ft.inodeKnown = true

	ft.emit(Event{Kind: EventReady, Path: ft.path, Size: info.Size(), Inode: inode})
	return nil
}

func (ft *FileTailer) closeFile() {
	if ft.file != nil {
		_ = ft.file.Close()
		ft.file = nil
	}
}

// cycle runs one polling iteration (spec §4.1 algorithm). It returns true if
// any bytes were read, which resets the backoff.
func (ft *FileTailer) cycle() bool {
	info, err := os.Stat(ft.path)
	if err != nil {
		ft.logger.Warn("stat failed", "error", err)
		return false
	}

	if newInode, ok := getInode(info); ok && ft.inodeKnown && newInode != ft.inode {
		ft.handleRotation(newInode)
	}

	if ft.file == nil {
		if err := ft.open(); err != nil {
			ft.logger.Warn("reopen failed", "error", err)
			return false
		}
	}

	if info.Size() < ft.offset {
		ft.handleTruncation()
	}

	if info.Size() == ft.offset {
		return false
	}

	n, err := ft.readForward(info.Size())
	if err != nil {
		ft.logger.Warn("read failed", "error", err)
		ft.closeFile()
		return false
	}
	return n > 0
}

func (ft *FileTailer) handleRotation(newInode uint64) {
	ft.emit(Event{Kind: EventInfo, Path: ft.path, Msg: "inode changed -> reopen"})
	ft.closeFile()
	ft.offset = 0
	ft.lineBuf = nil
	ft.inode = newInode
}

func (ft *FileTailer) handleTruncation() {
	ft.emit(Event{Kind: EventInfo, Path: ft.path, Msg: "truncated -> reset"})
	ft.offset = 0
	ft.lineBuf = nil
	if ft.file != nil {
		_, _ = ft.file.Seek(0, io.SeekStart)
	}
}

const readChunk = 64 * 1024

// readForward reads from the current offset up to targetSize in chunks of
// up to 64 KiB, feeding each chunk to onBytes, and advances the offset by
// the total bytes successfully read.
func (ft *FileTailer) readForward(targetSize int64) (int64, error) {
	if _, err := ft.file.Seek(ft.offset, io.SeekStart); err != nil {
		return 0, err
	}

	var total int64
	buf := make([]byte, readChunk)
	for ft.offset+total < targetSize {
		want := targetSize - ft.offset - total
		if want > readChunk {
			want = readChunk
		}
		n, err := io.ReadFull(ft.file, buf[:want])
		if n > 0 {
			ft.onBytes(buf[:n])
			total += int64(n)
		}
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			ft.offset += total
			return total, err
		}
	}
	ft.offset += total
	return total, nil
}

// onBytes appends decoded text to the assembly buffer and emits one
// EventData per complete line, retaining any unterminated suffix (spec §4.1).
func (ft *FileTailer) onBytes(b []byte) {
	ft.lineBuf = append(ft.lineBuf, b...)

	for {
		i := bytes.IndexByte(ft.lineBuf, '\n')
		if i < 0 {
			break
		}
		line := ft.lineBuf[:i]
		ft.lineBuf = ft.lineBuf[i+1:]

		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if len(line) == 0 {
			continue
		}
		ft.emit(Event{Kind: EventData, Path: ft.path, Line: string(line)})
	}

	// Shrink a large leftover buffer's backing array so a single huge
	// partial line doesn't keep retaining freed capacity forever.
	if len(ft.lineBuf) == 0 {
		ft.lineBuf = nil
	}
}

func (ft *FileTailer) emit(e Event) {
	ft.opts.OnEvent(e)
}

// getInode extracts the inode number from file info, when the underlying
// platform exposes one via syscall.Stat_t.
func getInode(info os.FileInfo) (uint64, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return stat.Ino, true
}
