package kernel

import (
	"io"
	"log/slog"
)

type Option func(k *Kernel)

// WithLogger sets the kernel's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(k *Kernel) {
		k.logger = logger
	}
}

// WithConsole sets where kernel printf output goes.
func WithConsole(w io.Writer) Option {
	return func(k *Kernel) {
		k.console = w
	}
}

// WithFileSystem replaces the in-memory file system.
func WithFileSystem(fs FileSystem) Option {
	return func(k *Kernel) {
		k.fs = fs
	}
}
