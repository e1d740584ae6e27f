package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"avaneesh/seriallink-go/pkg/app"
	"avaneesh/seriallink-go/pkg/link"
	"avaneesh/seriallink-go/pkg/observability"
	"avaneesh/seriallink-go/pkg/seriallink"
)

const usage = `usage: linkctl [-config link.toml] [tx] <file>
       linkctl [-config link.toml] [rx] [output]
The role may be left out when the config file sets it.`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "linkctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("linkctl", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a TOML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	role, path, err := resolveCommand(cfg, fs.Args())
	if err != nil {
		return err
	}
	cfg.Options.Link.Role = role

	seriallink.SetLogLevel(cfg.LogLevel)
	seriallink.EnableFrameDebug(cfg.FrameDebug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status := &linkStatus{}
	status.set(role, link.PhaseClosed)
	cfg.Options.Link.StatusCallback = func(phase link.Phase, err error) {
		status.set(role, phase)
	}

	if cfg.MetricsListen != "" {
		srv := startHTTP(cfg.MetricsListen, cfg.CORSOrigins, status)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	m := seriallink.NewManager()
	l, err := m.Open(ctx, "linkctl", cfg.Options)
	if err != nil {
		return err
	}

	var transferErr error
	if role == link.RoleTransmitter {
		transferErr = sendFile(ctx, l, path)
	} else {
		transferErr = receiveFile(ctx, l, path)
	}

	// Release the link even when interrupted
	closeCtx, cancel := context.WithTimeout(context.Background(), closeBudget(cfg.Options.Link))
	defer cancel()
	closeErr := m.Remove(closeCtx, "linkctl", cfg.ShowStatistics)

	if transferErr != nil {
		return transferErr
	}
	return closeErr
}

// resolveCommand picks the role from the leading tx/rx argument, falling
// back to the role set in the config file, and returns the file argument
func resolveCommand(cfg linkctlConfig, args []string) (link.Role, string, error) {
	role := cfg.Options.Link.Role
	if len(args) > 0 {
		if r, err := parseRole(args[0]); err == nil {
			role = r
			args = args[1:]
		} else if !cfg.RoleFromFile {
			return 0, "", fmt.Errorf("%w\n%s", err, usage)
		}
	} else if !cfg.RoleFromFile {
		return 0, "", errors.New(usage)
	}

	if len(args) > 1 {
		return 0, "", errors.New(usage)
	}
	var path string
	if len(args) == 1 {
		path = args[0]
	}
	if role == link.RoleTransmitter && path == "" {
		return 0, "", errors.New(usage)
	}
	return role, path, nil
}

// closeBudget covers every DISC transmission plus slack
func closeBudget(cfg link.Config) time.Duration {
	return time.Duration(cfg.MaxRetransmissions+2) * cfg.Timeout
}

func startHTTP(addr string, origins []string, status *linkStatus) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{Addr: addr, Handler: newRouter(status, origins)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			seriallink.LogError("linkctl: metrics server: %v", err)
		}
	}()
	seriallink.LogInfo("linkctl: serving /metrics and /health on %s", addr)
	return srv
}

func sendFile(ctx context.Context, l *seriallink.Link, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}

	began := time.Now()
	info, err := app.SendFile(ctx, l, filepath.Base(path), f, st.Size())
	observability.RecordFileTransfer(l.Role(), info.Size, time.Since(began), err == nil)
	if err != nil {
		return err
	}

	fmt.Printf("sent %s: %d bytes, %d packets, crc 0x%04X, %s\n",
		info.Name, info.Size, info.Packets, info.CRC, time.Since(began).Round(time.Millisecond))
	return nil
}

// receiveFile writes into a temporary file next to the destination and
// renames it once the checksum matches. Without output the announced name
// is used in the working directory.
func receiveFile(ctx context.Context, l *seriallink.Link, output string) error {
	dir := "."
	if output != "" {
		dir = filepath.Dir(output)
	}
	tmp, err := os.CreateTemp(dir, ".linkctl-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	began := time.Now()
	info, err := app.ReceiveFile(ctx, l, tmp)
	observability.RecordFileTransfer(l.Role(), info.Size, time.Since(began), err == nil)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	if output == "" {
		output = filepath.Base(info.Name)
		if output == "." || output == string(filepath.Separator) {
			output = "received.bin"
		}
	}
	if err := os.Rename(tmp.Name(), output); err != nil {
		return err
	}

	fmt.Printf("received %s: %d bytes, %d packets, crc 0x%04X, %s\n",
		output, info.Size, info.Packets, info.CRC, time.Since(began).Round(time.Millisecond))

	// Wait for the transmitter's disconnect
	if _, err := l.Receive(ctx); err != nil && !errors.Is(err, link.ErrClosed) {
		return err
	}
	return nil
}
