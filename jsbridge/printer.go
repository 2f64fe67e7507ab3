package jsbridge

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// printer routes console output to the log and, when set, to a writer.
type printer struct {
	log *zap.Logger
	out io.Writer
	mu  sync.Mutex
}

func (p *printer) write(level, s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out == nil {
		return
	}
	if level == "" {
		fmt.Fprintln(p.out, s)
		return
	}
	fmt.Fprintf(p.out, "%s: %s\n", level, s)
}

func (p *printer) Log(s string) {
	p.log.Info(s, zap.String("source", "console"))
	p.write("", s)
}

func (p *printer) Warn(s string) {
	p.log.Warn(s, zap.String("source", "console"))
	p.write("warn", s)
}

func (p *printer) Error(s string) {
	p.log.Error(s, zap.String("source", "console"))
	p.write("error", s)
}
