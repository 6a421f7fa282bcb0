// Command xv6sim boots the simulated kernel and runs a copy-on-write and
// scheduling workload as the first user process.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/viant/afs"

	"xv6kernel/internal/config"
	"xv6kernel/internal/logger"
	"xv6kernel/internal/tracing"
	"xv6kernel/kernel"
	"xv6kernel/kernel/mem"
)

const version = "0.1.0"

type childStat struct {
	Pid     int    `yaml:"pid" json:"pid"`
	Tickets int    `yaml:"tickets" json:"tickets"`
	WTime   uint32 `yaml:"wtime" json:"wtime"`
	RTime   uint32 `yaml:"rtime" json:"rtime"`
}

type report struct {
	BootID     string            `yaml:"bootId" json:"bootId"`
	Policy     string            `yaml:"policy" json:"policy"`
	Ticks      uint64            `yaml:"ticks" json:"ticks"`
	PageFaults int               `yaml:"pageFaults" json:"pageFaults"`
	Children   []childStat       `yaml:"children" json:"children"`
	Procs      []kernel.ProcInfo `yaml:"procs" json:"procs"`
}

func main() {
	configURL := flag.String("config", "", "machine config URL (yaml or json)")
	policy := flag.String("policy", "", "override scheduling policy: rr, mlfq or lottery")
	children := flag.Int("children", 4, "CPU-bound children in the scheduling workload")
	work := flag.Int("work", 200000, "loop iterations per child")
	traceFile := flag.String("trace", "", "write OpenTelemetry spans to this file")
	reportURL := flag.String("report", "", "upload the run report to this URL")
	logFile := flag.String("log", "", "also append logs to this file")
	timeout := flag.Duration("timeout", 30*time.Second, "give up after this long")
	flag.Parse()

	if err := run(*configURL, *policy, *children, *work, *traceFile, *reportURL, *logFile, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "xv6sim: %v\n", err)
		os.Exit(1)
	}
}

func run(configURL, policy string, children, work int, traceFile, reportURL, logFile string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	fs := afs.New()
	cfg := kernel.DefaultConfig()
	if configURL != "" {
		if err := config.Load(ctx, fs, configURL, cfg); err != nil {
			return err
		}
	}
	if policy != "" {
		cfg.Policy = policy
	}

	log, err := logger.Init(logFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	if traceFile != "" {
		if err := tracing.Init("xv6sim", version, traceFile); err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer tracing.Shutdown(context.Background())
	}

	k, err := kernel.New(*cfg, kernel.WithLogger(log), kernel.WithConsole(os.Stdout))
	if err != nil {
		return err
	}

	done := make(chan report, 1)
	_, err = k.UserInit("init", func(p *kernel.Proc) {
		r := report{Policy: cfg.Policy}
		cowtest(p, os.Stdout)
		r.Children = schedtest(p, os.Stdout, children, work)
		r.PageFaults = p.PageFaults()
		done <- r
		for {
			if p.Wait(0) < 0 {
				p.Sleep(10)
			}
		}
	})
	if err != nil {
		return err
	}
	k.Start(ctx)

	var r report
	select {
	case r = <-done:
	case <-ctx.Done():
		k.ProcDump()
		return fmt.Errorf("workload did not finish: %w", ctx.Err())
	}
	r.BootID = k.BootID()
	r.Ticks = k.Ticks()
	r.Procs = k.Procs()
	k.ProcDump()

	log.Info("workload finished", "ticks", r.Ticks, "pagefaults", r.PageFaults)
	if reportURL != "" {
		if err := config.Save(ctx, fs, reportURL, r); err != nil {
			return err
		}
		log.Info("report uploaded", "url", reportURL)
	}
	return nil
}

// cowtest fills a heap, then forks readers and writers over it.
func cowtest(p *kernel.Proc, out io.Writer) {
	const pages = 8
	base := p.Sbrk(pages * int(mem.PGSIZE))
	if base < 0 {
		fmt.Fprintf(out, "cowtest: sbrk failed\n")
		return
	}
	for i := 0; i < pages; i++ {
		p.Store(uint64(base)+uint64(i)*mem.PGSIZE, []byte{byte(i)})
	}

	before := p.PageFaults()
	for i := 0; i < 3; i++ {
		write := i%2 == 1
		p.Fork(func(c *kernel.Proc) {
			for pg := 0; pg < pages; pg++ {
				va := uint64(base) + uint64(pg)*mem.PGSIZE
				if write {
					c.Store(va, []byte{0xff})
					continue
				}
				if got := c.Load(va, 1)[0]; got != byte(pg) {
					fmt.Fprintf(out, "cowtest: pid %d read %d at page %d\n", c.Getpid(), got, pg)
					c.Exit(1)
				}
			}
		})
	}
	const statusAddr = 520
	failed := 0
	for i := 0; i < 3; i++ {
		if p.Wait(statusAddr) < 0 || binary.LittleEndian.Uint32(p.Load(statusAddr, 4)) != 0 {
			failed++
		}
	}
	for i := 0; i < pages; i++ {
		if got := p.Load(uint64(base)+uint64(i)*mem.PGSIZE, 1)[0]; got != byte(i) {
			fmt.Fprintf(out, "cowtest: parent sees %d at page %d\n", got, i)
			failed++
		}
	}
	p.Sbrk(-pages * int(mem.PGSIZE))
	if failed > 0 {
		fmt.Fprintf(out, "cowtest: FAILED\n")
		return
	}
	fmt.Fprintf(out, "cowtest: OK, %d page faults\n", p.PageFaults()-before)
}

// schedtest runs CPU-bound children, child i holding i+1 tickets, and
// collects their waitx times.
func schedtest(p *kernel.Proc, out io.Writer, n, work int) []childStat {
	const waddr, raddr = 512, 516
	tickets := map[int]int{}
	for i := 0; i < n; i++ {
		share := i + 1
		pid := p.Fork(func(c *kernel.Proc) {
			c.SetTickets(share)
			sum := 0
			for j := 0; j < work; j++ {
				sum += j
				if j%1000 == 0 {
					c.Checkpoint()
				}
			}
			c.Exit(sum & 1)
		})
		if pid < 0 {
			fmt.Fprintf(out, "schedtest: fork failed\n")
			break
		}
		tickets[pid] = share
	}

	var stats []childStat
	for range tickets {
		pid := p.Waitx(0, waddr, raddr)
		if pid < 0 {
			break
		}
		st := childStat{
			Pid:     pid,
			Tickets: tickets[pid],
			WTime:   binary.LittleEndian.Uint32(p.Load(waddr, 4)),
			RTime:   binary.LittleEndian.Uint32(p.Load(raddr, 4)),
		}
		fmt.Fprintf(out, "schedtest: pid %d tickets %d rtime %d wtime %d\n", st.Pid, st.Tickets, st.RTime, st.WTime)
		stats = append(stats, st)
	}
	return stats
}
