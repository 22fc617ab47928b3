package main

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/pairpad/config"
)

// advertise announces the session over mDNS until ctx is cancelled.
func advertise(ctx context.Context, cfg config.Config, log logrus.FieldLogger) error {
	_, portStr, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", cfg.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	instance := fmt.Sprintf("pairpad-%s", cfg.Name)
	server, err := zeroconf.Register(instance, cfg.Service, "local.", port, []string{"host=" + cfg.Name, "path=/"}, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	defer server.Shutdown()

	log.WithFields(logrus.Fields{"instance": instance, "service": cfg.Service, "port": port}).Info("advertising session")
	<-ctx.Done()
	return nil
}
