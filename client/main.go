package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/burntcarrot/pairpad/commons"
	"github.com/burntcarrot/pairpad/config"
	"github.com/burntcarrot/pairpad/jupiter"
)

// Options represents the command-line flags that are passed to pairpad's client.
type Options struct {
	Server   string
	Secure   bool
	Name     string
	Document string
	File     string
	Discover bool
	Service  string
	Retries  int
	Checksum time.Duration
	Debug    bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := Options{}

	cmd := &cobra.Command{
		Use:           "pairpad",
		Short:         "Edit documents together with a pairpad host",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := run(cmd.Context(), opts); err != nil {
				color.Red("%s", err)
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Server, "server", "localhost"+config.DefaultAddr, "The network address of the server")
	flags.BoolVar(&opts.Secure, "secure", false, "Enable a secure WebSocket connection (wss://)")
	flags.StringVar(&opts.Name, "name", "", "Your name, asked for when empty")
	flags.StringVarP(&opts.Document, "document", "d", "", "The document to edit, the host picks one when empty")
	flags.StringVar(&opts.File, "file", "pairpad-content.txt", "The file to save the document to (ctrl+s) and load it from (ctrl+l)")
	flags.BoolVar(&opts.Discover, "discover", false, "Find the session on the local network (mDNS)")
	flags.StringVar(&opts.Service, "service", config.DefaultService, "The mDNS service type to look for")
	flags.IntVar(&opts.Retries, "retries", 5, "How often to retry connecting to the server")
	flags.DurationVar(&opts.Checksum, "checksum-interval", config.DefaultChecksumInterval, "How often to send a checksum of the document to the host, 0 to disable")
	flags.BoolVar(&opts.Debug, "debug", false, "Enable debugging mode to show more verbose logs")

	return cmd
}

func run(ctx context.Context, opts Options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := logrus.New()
	logFile, debugLogFile, err := setupLogger(logger, opts.Debug)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	defer closeLogFiles(logFile, debugLogFile)

	if opts.Discover {
		color.Yellow("Looking for a session on the local network...\n")
		addr, err := discover(ctx, opts.Service, 10*time.Second)
		if err != nil {
			return err
		}
		opts.Server = addr
	}

	color.Green("Connecting to server @ %s\n", opts.Server)
	conn, err := createConn(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	eng := newEngine(opts.Name, jupiter.Path(opts.Document), logger)
	p := tea.NewProgram(newModel(conn, eng, opts.File, opts.Checksum, logger), tea.WithAltScreen())

	go readMessages(conn, p, logger)

	if err := p.Start(); err != nil {
		return err
	}
	return nil
}

// readMessages forwards messages from the host to the user interface.
func readMessages(conn *websocket.Conn, p *tea.Program, log logrus.FieldLogger) {
	for {
		var msg commons.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(err).Error("websocket error")
			}
			p.Send(disconnectedMsg{err: err})
			return
		}
		log.WithField("type", msg.Type).Debug("message received")
		p.Send(hostMsg(msg))
	}
}
