package kernel

import (
	"fmt"
	"io"
	"strings"
)

// printf writes to the console. Output from concurrent callers is not
// interleaved.
func (k *Kernel) printf(format string, args ...any) {
	k.prlock.Lock()
	defer k.prlock.Unlock()
	fmt.Fprintf(k.console, format, args...)
}

// ProcDump prints a process listing to the console.
// Runs when user types ^P on console.
// No lock to avoid wedging a stuck machine further.
func (k *Kernel) ProcDump() {
	k.prlock.Lock()
	defer k.prlock.Unlock()
	k.procdump(k.console)
}

func (k *Kernel) procdump(w io.Writer) {
	fmt.Fprintf(w, "\n")
	for i := range k.proc {
		p := &k.proc[i]
		if p.state == UNUSED {
			continue
		}
		fmt.Fprintf(w, "%d %s %s", p.pid, p.state, p.name)
		fmt.Fprintf(w, "\n")
	}
}

// ProcInfo is a locked snapshot of one process slot.
type ProcInfo struct {
	Pid     int    `yaml:"pid" json:"pid"`
	State   string `yaml:"state" json:"state"`
	Name    string `yaml:"name" json:"name"`
	Queue   int    `yaml:"queue" json:"queue"`
	Tickets int    `yaml:"tickets" json:"tickets"`
	CTime   uint64 `yaml:"ctime" json:"ctime"`
	RTime   uint64 `yaml:"rtime" json:"rtime"`
	Killed  bool   `yaml:"killed,omitempty" json:"killed,omitempty"`
}

// Procs returns every allocated process slot.
func (k *Kernel) Procs() []ProcInfo {
	var infos []ProcInfo
	for i := range k.proc {
		p := &k.proc[i]
		acquire(&p.lock)
		if p.state != UNUSED {
			infos = append(infos, ProcInfo{
				Pid:     p.pid,
				State:   strings.TrimSpace(p.state.String()),
				Name:    p.name,
				Queue:   p.queue,
				Tickets: p.tickets,
				CTime:   p.ctime,
				RTime:   p.rtime,
				Killed:  p.killed,
			})
		}
		release(&p.lock)
	}
	return infos
}
