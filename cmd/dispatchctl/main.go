//go:build linux
// +build linux

// File: cmd/dispatchctl/main.go
// Author: momentics <momentics@gmail.com>
//
// dispatchctl is an interactive inspector for the dispatcher: an
// urfave/cli/v2 App whose sole action drops into a chzyer/readline REPL,
// with go-homedir locating the per-user history file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	iodispatch "github.com/momentics/iodispatch"
	"github.com/momentics/iodispatch/api"
	"github.com/momentics/iodispatch/control"
	"github.com/momentics/iodispatch/internal/handle"
	"github.com/momentics/iodispatch/internal/obslog"
)

// stdoutSink prints delivered events instead of dispatching to a real
// application port table, for interactive inspection.
type stdoutSink struct{}

func (stdoutSink) PostInt32(port int64, value int32) {
	fmt.Printf("# post_i32(port=%d, mask=%s)\n", port, api.EventMask(value))
}

func (stdoutSink) PostNull(port int64) {
	fmt.Printf("# post_null(port=%d)\n", port)
}

type cliWrapper struct {
	app        *cli.App
	dispatcher *iodispatch.Dispatcher
	handles    map[int64]*handle.Handle
}

func newCliWrapper() *cliWrapper {
	w := &cliWrapper{handles: make(map[int64]*handle.Handle)}
	w.app = &cli.App{
		Name:  "dispatchctl",
		Usage: "interactive inspector for the iodispatch worker",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dev", Usage: "use development (console) logging"},
		},
		Action: w.run,
	}
	return w
}

func (w *cliWrapper) run(c *cli.Context) error {
	log, err := obslog.New(c.Bool("dev"))
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg := control.NewDispatcherConfig(nil)
	d, err := iodispatch.New(cfg, stdoutSink{}, nil, log)
	if err != nil {
		return err
	}
	w.dispatcher = d

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		return err
	}

	historyDir, err := homedir.Expand("~/.iodispatch")
	if err != nil {
		historyDir = os.TempDir()
	}
	os.MkdirAll(historyDir, 0o700)

	input, err := readline.NewEx(&readline.Config{
		Prompt: "iodispatch> ",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("register"),
			readline.PcItem("setmask"),
			readline.PcItem("returntoken"),
			readline.PcItem("close"),
			readline.PcItem("timer"),
			readline.PcItem("reload"),
			readline.PcItem("status"),
			readline.PcItem("exit"),
		),
		HistoryFile: filepath.Join(historyDir, fmt.Sprintf("cmd_history_%s", time.Now().Format("20060102"))),
	})
	if err != nil {
		return err
	}
	defer input.Close()
	input.CaptureExitSignal()

	for {
		line, err := input.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				break
			}
			log.Warn("readline error", zap.Error(err))
			continue
		}
		if strings.EqualFold(strings.TrimSpace(line), "exit") {
			break
		}
		w.handleLine(line)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ShutdownTimeoutMs)*time.Millisecond)
	defer cancel()
	return d.Shutdown(shutdownCtx)
}

func (w *cliWrapper) handleLine(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "register":
		r, wr, err := os.Pipe()
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		wr.Close() // demo fd: read end only, never becomes writable
		h := handle.New(r.Fd(), false)
		id := w.dispatcher.Register(h)
		w.handles[id] = h
		fmt.Printf("registered id=%d fd=%d\n", id, h.FD())

	case "setmask":
		if len(fields) != 4 {
			fmt.Println("usage: setmask <id> <port> <in|out|inout>")
			return
		}
		id, port := mustInt(fields[1]), mustInt(fields[2])
		mask := parseMask(fields[3])
		w.dispatcher.SendData(id, port, api.PackCommand(api.CommandWord{
			Command: api.CommandSetMask, Events: mask,
		}))

	case "returntoken":
		if len(fields) != 4 {
			fmt.Println("usage: returntoken <id> <port> <n>")
			return
		}
		id, port, n := mustInt(fields[1]), mustInt(fields[2]), mustInt(fields[3])
		w.dispatcher.SendData(id, port, api.PackCommand(api.CommandWord{
			Command: api.CommandReturnToken, Tokens: uint16(n),
		}))

	case "close":
		if len(fields) != 3 {
			fmt.Println("usage: close <id> <port>")
			return
		}
		id, port := mustInt(fields[1]), mustInt(fields[2])
		w.dispatcher.SendData(id, port, api.PackCommand(api.CommandWord{Command: api.CommandClose}))

	case "timer":
		if len(fields) != 3 {
			fmt.Println("usage: timer <port> <deadline_ms>")
			return
		}
		port, deadline := mustInt(fields[1]), mustInt(fields[2])
		w.dispatcher.SendTimer(port, deadline)

	case "reload":
		if len(fields) != 3 {
			fmt.Println("usage: reload <key> <value>")
			return
		}
		w.dispatcher.ReloadConfig(map[string]any{fields[1]: fields[2]})
		fmt.Println("reloaded:", w.dispatcher.ConfigSnapshot())

	case "status":
		snap := w.dispatcher.Metrics()
		fmt.Printf("metrics registered: %v (see /metrics if exposed)\n", snap != nil)
		fmt.Printf("debug state: %v\n", w.dispatcher.DebugState())

	default:
		fmt.Println("unknown command:", fields[0])
	}
}

func mustInt(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseMask(s string) api.EventMask {
	switch strings.ToLower(s) {
	case "in":
		return api.EventIn
	case "out":
		return api.EventOut
	case "inout":
		return api.EventIn | api.EventOut
	default:
		return 0
	}
}

func main() {
	if err := newCliWrapper().app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
