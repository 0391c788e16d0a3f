package main

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/desertthunder/crate/internal/rekordbox"
	"github.com/desertthunder/crate/internal/server"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/urfave/cli/v3"
)

// Serve runs the HTTP API until the process is interrupted.
//
// A configured Rekordbox source counts as connected, so imports work without a connect call.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	host := r.config.Server.Host
	if v := cmd.String("host"); v != "" {
		host = v
	}
	port := r.config.Server.Port
	if v := int(cmd.Int("port")); v != 0 {
		port = v
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: port %d out of range", shared.ErrInvalidArgument, port)
	}

	catalog, err := r.openCatalog(ctx)
	if err != nil {
		return err
	}
	defer catalog.Close()

	rbOpts := r.rekordboxOptions()
	srv := server.New(catalog, r.newEngine(catalog, rekordbox.Page{}), rbOpts, server.Options{
		Addr:      net.JoinHostPort(host, strconv.Itoa(port)),
		RateLimit: r.config.Server.RateLimit,
		Burst:     r.config.Server.Burst,
		Logger:    r.logger,
	})

	if src := (rekordbox.Source{Path: r.config.Rekordbox.Path, Key: r.config.Rekordbox.Key}); src.Path != "" {
		if err := src.Validate(); err != nil {
			r.logger.Warn("configured rekordbox source is unusable, connect through the API", "err", err)
		} else {
			srv.SetSource(src)
		}
	}

	r.writePlain("%s\n", r.palette.OK(fmt.Sprintf("Serving %s on http://%s", catalog.Path(), net.JoinHostPort(host, strconv.Itoa(port)))))
	return srv.ListenAndServe(ctx)
}
