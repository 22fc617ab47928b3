package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/writer"
)

// ErrNoSession is returned when no session was found on the local network.
var ErrNoSession = errors.New("no pairpad session found")

// createConn creates a WebSocket connection, retrying with exponential
// backoff while the host is not reachable.
func createConn(ctx context.Context, opts Options, log logrus.FieldLogger) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: opts.Server, Path: "/"}
	if opts.Secure {
		u.Scheme = "wss"
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 2 * time.Minute,
	}

	var conn *websocket.Conn
	dial := func() error {
		c, _, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithField("retry_in", wait).Warn("failed to connect")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(opts.Retries)), ctx)
	if err := backoff.RetryNotify(dial, b, notify); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u.String(), err)
	}
	return conn, nil
}

// discover looks for a session advertised on the local network and returns
// its address.
func discover(ctx context.Context, service string, timeout time.Duration) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("failed to initialize mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		return "", fmt.Errorf("failed to browse for %s: %w", service, err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", ErrNoSession
			}
			if len(entry.AddrIPv4) == 0 {
				continue
			}
			return net.JoinHostPort(entry.AddrIPv4[0].String(), strconv.Itoa(entry.Port)), nil
		case <-ctx.Done():
			return "", ErrNoSession
		}
	}
}

// ensureDirExists ensures that a directory exists, and if it isn't present, it tries to create a new one.
func ensureDirExists(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.Mkdir(path, 0o700)
}

// setupLogger initializes the client's logger (logrus). The screen belongs to
// the editor, so everything goes to files in ~/.pairpad: warnings and errors to
// pairpad.log, the rest to pairpad-debug.log.
func setupLogger(logger *logrus.Logger, debug bool) (*os.File, *os.File, error) {
	logPath := "pairpad.log"
	debugLogPath := "pairpad-debug.log"

	if homeDir, err := os.UserHomeDir(); err == nil {
		pairpadDir := filepath.Join(homeDir, ".pairpad")
		if err := ensureDirExists(pairpadDir); err != nil {
			return nil, nil, err
		}
		logPath = filepath.Join(pairpadDir, logPath)
		debugLogPath = filepath.Join(pairpadDir, debugLogPath)
	}

	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) // skipcq: GSC-G302
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	debugLogFile, err := os.OpenFile(debugLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) // skipcq: GSC-G302
	if err != nil {
		logFile.Close()
		return nil, nil, fmt.Errorf("failed to open debug log file: %w", err)
	}

	logger.SetOutput(io.Discard)
	logger.SetFormatter(&logrus.JSONFormatter{})
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	logger.AddHook(&writer.Hook{
		Writer: logFile,
		LogLevels: []logrus.Level{
			logrus.WarnLevel,
			logrus.ErrorLevel,
			logrus.FatalLevel,
			logrus.PanicLevel,
		},
	})
	logger.AddHook(&writer.Hook{
		Writer: debugLogFile,
		LogLevels: []logrus.Level{
			logrus.TraceLevel,
			logrus.DebugLevel,
			logrus.InfoLevel,
		},
	})

	return logFile, debugLogFile, nil
}

// closeLogFiles closes the log files created by the client.
// closeLogFiles is meant to be used for defer calls.
func closeLogFiles(logFile, debugLogFile *os.File) {
	if err := logFile.Close(); err != nil {
		fmt.Printf("Failed to close log file: %s", err)
		return
	}

	if err := debugLogFile.Close(); err != nil {
		fmt.Printf("Failed to close debug log file: %s", err)
		return
	}
}

// saveDocument writes the document to a local file.
func saveDocument(fileName, content string) error {
	return os.WriteFile(fileName, []byte(content), 0o644) // skipcq: GSC-G306
}

// loadDocument reads a local file to replace the document with.
func loadDocument(fileName string) (string, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
