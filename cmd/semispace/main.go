// Command semispace runs heap scripts against a copying garbage collector.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/inhies/go-bytesize"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-tty"

	"github.com/tinygo-org/semispace/config"
	"github.com/tinygo-org/semispace/diagnostics"
	"github.com/tinygo-org/semispace/gc"
	"github.com/tinygo-org/semispace/layout"
	"github.com/tinygo-org/semispace/memory"
	"github.com/tinygo-org/semispace/metrics"
	"github.com/tinygo-org/semispace/script"
	"github.com/tinygo-org/semispace/snapshot"
)

const usageText = `usage: semispace [flags] <command> [arguments]

commands:
  run FILE...        run heap scripts
  repl               run commands interactively
  inspect ARCHIVE    list the snapshots in an archive
  config             print the effective configuration
  metrics            list the supported metrics

flags:
`

type options struct {
	configPath string
	heapSize   string
	backing    string
	debug      bool
	snapshots  string
	color      string
	metrics    bool
	verbose    bool
}

func usage() {
	fmt.Fprint(os.Stderr, usageText)
	flag.PrintDefaults()
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "heap configuration `file` (YAML)")
	flag.StringVar(&opts.heapSize, "heap", "", "heap `size`, for example 64KB (overrides the configuration)")
	flag.StringVar(&opts.backing, "backing", "", "heap memory: slice or mmap")
	flag.BoolVar(&opts.debug, "debug", false, "trace allocations and collections")
	flag.StringVar(&opts.snapshots, "snapshots", "", "snapshot archive `path`")
	flag.StringVar(&opts.color, "color", "auto", "colored output: auto, always or never")
	flag.BoolVar(&opts.metrics, "metrics", false, "print metrics after running")
	flag.BoolVar(&opts.verbose, "v", false, "inspect: list the objects of each snapshot")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	stdout := colorable.NewColorableStdout()
	color, err := useColor(opts.color)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	wd, _ := os.Getwd()
	if err := runCommand(flag.Arg(0), flag.Args()[1:], opts, stdout, color); err != nil {
		diagnostics.CreateDiagnostics(err).WriteTo(os.Stderr, wd)
		os.Exit(1)
	}
}

func useColor(mode string) (bool, error) {
	switch mode {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "auto":
		fd := os.Stdout.Fd()
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd), nil
	default:
		return false, fmt.Errorf("invalid -color value %q", mode)
	}
}

// loadConfig reads the configuration file, if any, and applies flag
// overrides.
func loadConfig(opts options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return cfg, err
		}
	}
	if opts.heapSize != "" {
		size, err := bytesize.Parse(opts.heapSize)
		if err != nil {
			return cfg, fmt.Errorf("invalid -heap value %q: %w", opts.heapSize, err)
		}
		cfg.HeapSize = config.Size(size)
	}
	if opts.backing != "" {
		cfg.Backing = config.Backing(opts.backing)
	}
	if opts.debug {
		cfg.Debug = true
	}
	if opts.snapshots != "" {
		cfg.Snapshots = opts.snapshots
	}
	return cfg, cfg.Validate()
}

func runCommand(cmd string, args []string, opts options, stdout io.Writer, color bool) error {
	switch cmd {
	case "run", "repl":
		cfg, err := loadConfig(opts)
		if err != nil {
			return err
		}
		h, err := cfg.NewHeap(os.Stderr)
		if err != nil {
			return err
		}
		defer h.Region().Close()
		m := script.New(h, stdout,
			script.WithColor(color),
			script.WithSnapshots(cfg.Snapshots, cfg.SnapshotEveryCycle))
		if cmd == "run" {
			err = runScripts(m, args)
		} else {
			err = repl(m, stdout)
		}
		if err != nil {
			return err
		}
		if opts.metrics {
			printMetrics(stdout, h)
		}
		return nil
	case "inspect":
		if len(args) != 1 {
			return errors.New("usage: semispace inspect ARCHIVE")
		}
		return inspect(stdout, args[0], opts.verbose)
	case "config":
		cfg, err := loadConfig(opts)
		if err != nil {
			return err
		}
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		_, err = stdout.Write(data)
		return err
	case "metrics":
		for _, d := range metrics.All() {
			fmt.Fprintf(stdout, "%-40s %s\n", d.Name, d.Description)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q (run semispace -h for usage)", cmd)
	}
}

func runScripts(m *script.Machine, paths []string) error {
	if len(paths) == 0 {
		return errors.New("usage: semispace run FILE...")
	}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		err = m.Run(f, path)
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// repl reads commands from the terminal, or from standard input if it is not
// a terminal.
func repl(m *script.Machine, stdout io.Writer) error {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return m.Run(bufio.NewReader(os.Stdin), "<stdin>")
	}
	t, err := tty.Open()
	if err != nil {
		return err
	}
	defer t.Close()
	for {
		fmt.Fprint(stdout, "gc> ")
		line, err := t.ReadString()
		if err != nil {
			// EOF (^D) ends the session.
			fmt.Fprintln(stdout)
			return nil
		}
		switch strings.TrimSpace(line) {
		case "quit", "exit":
			return nil
		}
		if err := m.Exec(line); err != nil {
			fmt.Fprintln(stdout, "error:", err)
		}
	}
}

func printMetrics(w io.Writer, h *gc.Heap) {
	all := metrics.All()
	samples := make([]metrics.Sample, len(all))
	for i, d := range all {
		samples[i].Name = d.Name
	}
	metrics.Read(h, samples)
	for _, s := range samples {
		switch s.Value.Kind() {
		case metrics.KindUint64:
			fmt.Fprintf(w, "%-40s %d\n", s.Name, s.Value.Uint64())
		case metrics.KindFloat64:
			fmt.Fprintf(w, "%-40s %g\n", s.Name, s.Value.Float64())
		case metrics.KindFloat64Histogram:
			fmt.Fprintf(w, "%-40s %v\n", s.Name, s.Value.Float64Histogram().Counts)
		}
	}
}

func inspect(w io.Writer, path string, verbose bool) error {
	snaps, err := snapshot.ReadArchive(path)
	if err != nil {
		return err
	}
	for _, s := range snaps {
		fmt.Fprintf(w, "cycle %d: %v..%v of %v, %s in %d objects, crc16 %#04x\n",
			s.Cycle, s.Bottom, s.Top, s.End, bytesize.New(float64(len(s.Data))), s.Objects, s.Checksum())
		if verbose {
			if err := listObjects(w, s); err != nil {
				return err
			}
		}
	}
	return nil
}

// listObjects restores the allocated part of a snapshot into scratch memory
// and prints each object in it.
func listObjects(w io.Writer, s *snapshot.Snapshot) error {
	if s.Top == s.Bottom {
		return nil
	}
	region, err := memory.Reserve(s.Bottom, s.Top.Sub(s.Bottom))
	if err != nil {
		return err
	}
	defer region.Close()
	if err := s.Restore(region); err != nil {
		return err
	}
	var model layout.Model
	for addr := s.Bottom; addr < s.Top; {
		l, err := model.ReadHeader(region, addr)
		if err != nil {
			return fmt.Errorf("cycle %d: %w", s.Cycle, err)
		}
		if l.Size() > s.Top.Sub(addr) {
			return fmt.Errorf("cycle %d: object at %v (%v) extends past %v", s.Cycle, addr, l, s.Top)
		}
		fmt.Fprintf(w, "  %v %v", addr, l)
		for i := 0; i < l.Words(); i++ {
			fmt.Fprintf(w, " %v", region.Load(layout.Field(addr, i)))
		}
		fmt.Fprintln(w)
		addr = addr.Add(memory.AlignUp(l.Size()))
	}
	return nil
}
