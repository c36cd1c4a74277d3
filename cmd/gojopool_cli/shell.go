package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	buffermanager "github.com/sushant-115/gojopool/core/write_engine/buffer_manager"
	flushmanager "github.com/sushant-115/gojopool/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojopool/core/write_engine/page_manager"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var errQuit = errors.New("quit")

const helpText = `Commands:
  open <name>                   open or create <data_dir>/<name>.db
  close <name>                  flush the file out of the pool and close it
  new <name>                    allocate a page (left pinned)
  fetch <name> <page>           pin a page
  unpin <name> <page> [dirty]   release a pin
  write <name> <page> <text>    fetch, overwrite, unpin dirty
  read <name> <page>            fetch, print, unpin
  dispose <name> <page>         drop a page from the pool and the file
  flush <name>                  write back and drop every page of the file
  dump                          print the frame table
  stats                         print pool counters
  bench <name> <ops> <rate>     random fetch/unpin pairs, <rate> per second
  quit`

// Shell executes CLI commands against one buffer pool.
type Shell struct {
	bpm     *buffermanager.BufferPoolManager
	dataDir string
	files   map[string]*flushmanager.DiskManager
	logger  *zap.Logger
	tracer  trace.Tracer
}

func NewShell(bpm *buffermanager.BufferPoolManager, dataDir string, logger *zap.Logger, tracer trace.Tracer) *Shell {
	return &Shell{
		bpm:     bpm,
		dataDir: dataDir,
		files:   make(map[string]*flushmanager.DiskManager),
		logger:  logger,
		tracer:  tracer,
	}
}

// Exec runs one command line. It returns errQuit when the shell should exit.
func (s *Shell) Exec(ctx context.Context, line string, out io.Writer) (err error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	cmd := strings.ToLower(args[0])
	args = args[1:]

	ctx, span := s.tracer.Start(ctx, "shell."+cmd, trace.WithAttributes(attribute.StringSlice("args", args)))
	defer func() {
		if err != nil && !errors.Is(err, errQuit) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	switch cmd {
	case "help", "?":
		fmt.Fprintln(out, helpText)
		return nil
	case "quit", "exit":
		return errQuit
	case "dump":
		return s.bpm.Dump(out)
	case "stats":
		st := s.bpm.Stats()
		fmt.Fprintf(out, "accesses=%d disk_reads=%d disk_writes=%d\n", st.Accesses, st.DiskReads, st.DiskWrites)
		return nil
	case "open":
		return s.open(out, args)
	}

	if len(args) < 1 {
		return fmt.Errorf("%s: missing file name", cmd)
	}
	file, ok := s.files[args[0]]
	if !ok {
		return fmt.Errorf("%s: file %q is not open", cmd, args[0])
	}

	switch cmd {
	case "close":
		if err := s.bpm.FlushFile(file); err != nil {
			return err
		}
		delete(s.files, args[0])
		return file.Close()
	case "new":
		pageNo, _, err := s.bpm.NewPage(file)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "allocated page %d (pinned)\n", pageNo)
		return nil
	case "flush":
		return s.bpm.FlushFile(file)
	case "bench":
		return s.bench(ctx, out, file, args[1:])
	}

	if len(args) < 2 {
		return fmt.Errorf("%s: missing page number", cmd)
	}
	pageNo, err := parsePageID(args[1])
	if err != nil {
		return err
	}

	switch cmd {
	case "fetch":
		if _, err := s.bpm.FetchPage(file, pageNo); err != nil {
			return err
		}
		fmt.Fprintf(out, "page %d pinned\n", pageNo)
		return nil
	case "unpin":
		dirty := len(args) > 2 && strings.EqualFold(args[2], "dirty")
		return s.bpm.UnpinPage(file, pageNo, dirty)
	case "dispose":
		return s.bpm.DisposePage(file, pageNo)
	case "write":
		page, err := s.bpm.FetchPage(file, pageNo)
		if err != nil {
			return err
		}
		page.Reset()
		page.SetData([]byte(strings.Join(args[2:], " ")))
		return s.bpm.UnpinPage(file, pageNo, true)
	case "read":
		page, err := s.bpm.FetchPage(file, pageNo)
		if err != nil {
			return err
		}
		data := page.GetData()
		if i := bytes.IndexByte(data, 0); i >= 0 {
			data = data[:i]
		}
		fmt.Fprintf(out, "%s\n", data)
		return s.bpm.UnpinPage(file, pageNo, false)
	}
	return fmt.Errorf("unknown command %q (try help)", cmd)
}

func (s *Shell) open(out io.Writer, args []string) error {
	if len(args) != 1 {
		return errors.New("open: usage open <name>")
	}
	name := args[0]
	if _, ok := s.files[name]; ok {
		return fmt.Errorf("open: %q is already open", name)
	}
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("open: creating data dir: %w", err)
	}
	path := filepath.Join(s.dataDir, name+".db")
	_, statErr := os.Stat(path)
	create := os.IsNotExist(statErr)
	file, err := flushmanager.OpenDiskManager(path, create, s.logger)
	if err != nil {
		return err
	}
	s.files[name] = file
	fmt.Fprintf(out, "opened %s (%d pages, file id %s)\n", path, file.NumPages(), file.ID())
	return nil
}

func (s *Shell) bench(ctx context.Context, out io.Writer, file *flushmanager.DiskManager, args []string) error {
	if len(args) != 2 {
		return errors.New("bench: usage bench <name> <ops> <rate>")
	}
	ops, err := strconv.Atoi(args[0])
	if err != nil || ops < 1 {
		return fmt.Errorf("bench: bad op count %q", args[0])
	}
	perSec, err := strconv.ParseFloat(args[1], 64)
	if err != nil || perSec <= 0 {
		return fmt.Errorf("bench: bad rate %q", args[1])
	}
	numPages := file.NumPages()
	if numPages < 2 {
		return errors.New("bench: file has no data pages, use new first")
	}

	limiter := rate.NewLimiter(rate.Limit(perSec), 1)
	before := s.bpm.Stats()
	start := time.Now()
	skipped := 0
	for i := 0; i < ops; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("bench: %w", err)
		}
		pageNo := pagemanager.PageID(1 + rand.Uint64N(numPages-1))
		if _, err := s.bpm.FetchPage(file, pageNo); err != nil {
			if errors.Is(err, flushmanager.ErrInvalidPageID) {
				skipped++
				continue
			}
			return err
		}
		if err := s.bpm.UnpinPage(file, pageNo, false); err != nil {
			return err
		}
	}
	after := s.bpm.Stats()
	fmt.Fprintf(out, "%d ops in %s (%d skipped), disk_reads=%d disk_writes=%d\n",
		ops, time.Since(start).Round(time.Millisecond), skipped,
		after.DiskReads-before.DiskReads, after.DiskWrites-before.DiskWrites)
	return nil
}

// Close shuts the pool down and closes every open file.
func (s *Shell) Close() error {
	err := s.bpm.Close()
	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if cerr := s.files[name].Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	s.files = map[string]*flushmanager.DiskManager{}
	return err
}

func parsePageID(arg string) (pagemanager.PageID, error) {
	n, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return pagemanager.InvalidPageID, fmt.Errorf("bad page number %q", arg)
	}
	return pagemanager.PageID(n), nil
}
