package snapshot

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/softcenter/pkg/logger"
	"github.com/charlesng35/softcenter/pkg/metrics"
)

// Unknown is recorded for string facts whose probe failed.
const Unknown = "Unknown"

const defaultProbeTimeout = 3 * time.Second

// Probe names.
const (
	ProbeOS       = "os_version"
	ProbeKernel   = "kernel_version"
	ProbeDisk     = "disk"
	ProbeMemory   = "memory"
	ProbeCPU      = "cpu_model"
	ProbeHostname = "hostname"
)

// ErrUnsupported is returned by probes that have no implementation on this platform.
var ErrUnsupported = errors.New("snapshot: probe not supported on this platform")

// Snapshot is a point-in-time description of a host.
type Snapshot struct {
	OSName        string
	OSVersion     string
	KernelVersion string
	Architecture  string
	Hostname      string
	Platform      string
	CPUModel      string
	CPUCores      int
	TotalMemoryGB int
	FreeMemoryGB  int
	TotalDiskGB   int
	FreeDiskGB    int
	CollectedAt   time.Time
}

// ProbeError records a probe that failed and was replaced by a placeholder.
type ProbeError struct {
	Probe string
	Err   error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("snapshot probe %s: %v", e.Probe, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// CommandRunner executes an external command and returns its trimmed stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) (string, error)

// MemoryReader returns total and free physical memory in bytes.
type MemoryReader func() (total, free uint64, err error)

// Option customises the Collector.
type Option func(*Collector)

// WithRunner replaces the command runner.
func WithRunner(run CommandRunner) Option {
	return func(c *Collector) {
		if run != nil {
			c.run = run
		}
	}
}

// WithFileReader replaces the function used to read /etc/os-release and /proc/cpuinfo.
func WithFileReader(read func(string) ([]byte, error)) Option {
	return func(c *Collector) {
		if read != nil {
			c.readFile = read
		}
	}
}

// WithMemoryReader replaces the memory probe.
func WithMemoryReader(read MemoryReader) Option {
	return func(c *Collector) {
		if read != nil {
			c.memory = read
		}
	}
}

// WithHostname replaces the hostname lookup.
func WithHostname(fn func() (string, error)) Option {
	return func(c *Collector) {
		if fn != nil {
			c.hostname = fn
		}
	}
}

// WithPlatform overrides the reported GOOS/GOARCH.
func WithPlatform(goos, goarch string) Option {
	return func(c *Collector) {
		c.goos, c.goarch = goos, goarch
	}
}

// WithProbeTimeout bounds each individual probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock overrides the collection timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// Collector gathers host facts from the machine running the process.
type Collector struct {
	run      CommandRunner
	readFile func(string) ([]byte, error)
	memory   MemoryReader
	hostname func() (string, error)
	goos     string
	goarch   string
	timeout  time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// NewCollector constructs a Collector using the real host by default.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		run:      execRunner,
		readFile: os.ReadFile,
		memory:   readMemory,
		hostname: os.Hostname,
		goos:     runtime.GOOS,
		goarch:   runtime.GOARCH,
		timeout:  defaultProbeTimeout,
		now:      time.Now,
		log:      logger.WithModule("snapshot"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect runs every probe concurrently. Failed probes fall back to placeholders and are
// returned alongside the partial snapshot; a partial result is normal.
func (c *Collector) Collect(ctx context.Context) (Snapshot, []*ProbeError) {
	snap := Snapshot{
		OSName:        osName(c.goos),
		OSVersion:     Unknown,
		KernelVersion: Unknown,
		Architecture:  c.goarch,
		Hostname:      Unknown,
		Platform:      c.goos,
		CPUModel:      Unknown,
		CPUCores:      runtime.NumCPU(),
		CollectedAt:   c.now().UTC(),
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs []*ProbeError
	)

	probe := func(name string, fn probeFunc) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			apply, err := runProbe(pctx, fn)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, &ProbeError{Probe: name, Err: err})
				return
			}
			apply(&snap)
		}()
	}

	probe(ProbeOS, func(ctx context.Context) (func(*Snapshot), error) {
		name, version, err := c.osVersion(ctx)
		if err != nil {
			return nil, err
		}
		return func(s *Snapshot) {
			if name != "" {
				s.OSName = name
			}
			s.OSVersion = version
		}, nil
	})
	probe(ProbeKernel, func(ctx context.Context) (func(*Snapshot), error) {
		out, err := c.run(ctx, "uname", "-r")
		if err != nil {
			return nil, err
		}
		return func(s *Snapshot) { s.KernelVersion = out }, nil
	})
	probe(ProbeDisk, func(ctx context.Context) (func(*Snapshot), error) {
		out, err := c.run(ctx, "df", "-kP", "/")
		if err != nil {
			return nil, err
		}
		total, free, err := parseDF(out)
		if err != nil {
			return nil, err
		}
		return func(s *Snapshot) { s.TotalDiskGB, s.FreeDiskGB = kibToGB(total), kibToGB(free) }, nil
	})
	probe(ProbeMemory, func(context.Context) (func(*Snapshot), error) {
		total, free, err := c.memory()
		if err != nil {
			return nil, err
		}
		return func(s *Snapshot) { s.TotalMemoryGB, s.FreeMemoryGB = bytesToGB(total), bytesToGB(free) }, nil
	})
	probe(ProbeCPU, func(ctx context.Context) (func(*Snapshot), error) {
		model, err := c.cpuModel(ctx)
		if err != nil {
			return nil, err
		}
		return func(s *Snapshot) { s.CPUModel = model }, nil
	})
	probe(ProbeHostname, func(context.Context) (func(*Snapshot), error) {
		host, err := c.hostname()
		if err != nil {
			return nil, err
		}
		return func(s *Snapshot) { s.Hostname = host }, nil
	})

	wg.Wait()

	for _, perr := range errs {
		metrics.ProbeFailures.WithLabelValues(perr.Probe).Inc()
		c.log.Warn("probe failed, using placeholder", zap.String("probe", perr.Probe), zap.Error(perr.Err))
	}

	return snap, errs
}

type probeFunc func(ctx context.Context) (func(*Snapshot), error)

// runProbe runs fn and gives up when ctx expires, even if fn ignores ctx.
// Panics inside fn are reported as errors.
func runProbe(ctx context.Context, fn probeFunc) (func(*Snapshot), error) {
	type result struct {
		apply func(*Snapshot)
		err   error
	}

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		apply, err := fn(ctx)
		done <- result{apply: apply, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.apply, res.err
	}
}

func (c *Collector) osVersion(ctx context.Context) (string, string, error) {
	if c.goos == "darwin" {
		out, err := c.run(ctx, "sw_vers", "-productVersion")
		if err != nil {
			return "", "", err
		}
		return "macOS", out, nil
	}

	raw, err := c.readFile("/etc/os-release")
	if err != nil {
		return "", "", err
	}
	fields := parseOSRelease(raw)
	version := fields["VERSION_ID"]
	if version == "" {
		version = fields["VERSION"]
	}
	if version == "" {
		return "", "", errors.New("os-release carries no version")
	}
	return fields["NAME"], version, nil
}

func (c *Collector) cpuModel(ctx context.Context) (string, error) {
	if c.goos == "darwin" {
		return c.run(ctx, "sysctl", "-n", "machdep.cpu.brand_string")
	}

	raw, err := c.readFile("/proc/cpuinfo")
	if err != nil {
		return "", err
	}
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "model name", "Model", "cpu model":
			if v := strings.TrimSpace(value); v != "" {
				return v, nil
			}
		}
	}
	return "", errors.New("cpuinfo carries no model name")
}

func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// parseDF extracts the total and available KiB columns from `df -k` output.
func parseDF(out string) (total, free uint64, err error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return 0, 0, fmt.Errorf("unexpected df output %q", out)
	}
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 4 {
		return 0, 0, fmt.Errorf("unexpected df row %q", lines[len(lines)-1])
	}
	total, err = strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse df total: %w", err)
	}
	free, err = strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse df available: %w", err)
	}
	return total, free, nil
}

func parseOSRelease(raw []byte) map[string]string {
	fields := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[key] = strings.Trim(value, `"'`)
	}
	return fields
}

func osName(goos string) string {
	switch goos {
	case "darwin":
		return "macOS"
	case "linux":
		return "Linux"
	case "windows":
		return "Windows"
	default:
		return goos
	}
}

func kibToGB(kib uint64) int {
	return int(math.Round(float64(kib) / (1024 * 1024)))
}

func pagesToBytes(pages, pageSize uint32) uint64 {
	return uint64(pages) * uint64(pageSize)
}

func bytesToGB(b uint64) int {
	return int(math.Round(float64(b) / (1024 * 1024 * 1024)))
}
