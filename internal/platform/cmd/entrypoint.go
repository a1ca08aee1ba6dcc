package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/louisbranch/breakpoint/internal/platform/config"
	"github.com/louisbranch/breakpoint/internal/platform/otel"
	"github.com/louisbranch/breakpoint/internal/platform/timeouts"
)

// ServiceRooms names the rooms service in telemetry and logs.
const ServiceRooms = "rooms"

// LoadConfig reads T from the environment, lets bind register flags whose
// defaults are the environment values, then parses args over them.
func LoadConfig[T any](fs *flag.FlagSet, args []string, bind func(fs *flag.FlagSet, cfg *T)) (T, error) {
	var cfg T
	if fs == nil {
		return cfg, errors.New("flag parser is required")
	}
	if err := config.ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	if bind != nil {
		bind(fs, &cfg)
	}
	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// RunWithTelemetry installs the tracer provider for service, runs run, and
// flushes spans once it returns.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return fmt.Errorf("service name is required")
	}
	if run == nil {
		return fmt.Errorf("run function is required")
	}
	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("%s: otel shutdown err=%v", service, err)
		}
	}()
	return run(ctx)
}
