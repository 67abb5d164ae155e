package main

import (
	"context"
	"os"
	"time"

	cli "github.com/jawher/mow.cli"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/avpkit/mjpegstream/internal/config"
	"github.com/avpkit/mjpegstream/internal/mjpeg"
	"github.com/avpkit/mjpegstream/internal/rtsp"
)

const (
	appName = "mjpegstream"
	appDesc = "single-stream MJPEG RTSP server"
)

func main() {
	app := cli.App(appName, appDesc)

	configPath := app.String(cli.StringOpt{
		Name:   "config",
		Desc:   "YAML config file location",
		EnvVar: "MJPEGSTREAM_CONFIG",
		Value:  "",
	})

	listen := app.String(cli.StringOpt{
		Name:   "listen",
		Desc:   "RTSP listen address",
		EnvVar: "MJPEGSTREAM_LISTEN",
		Value:  "",
	})

	address := app.String(cli.StringOpt{
		Name:   "address",
		Desc:   "server address advertised to clients",
		EnvVar: "MJPEGSTREAM_ADDRESS",
		Value:  "",
	})

	path := app.String(cli.StringOpt{
		Name:   "path",
		Desc:   "stream path",
		EnvVar: "MJPEGSTREAM_PATH",
		Value:  "",
	})

	jpegPath := app.String(cli.StringOpt{
		Name:   "jpeg",
		Desc:   "JPEG file streamed in a loop as the frame source",
		EnvVar: "MJPEGSTREAM_JPEG",
		Value:  "",
	})

	app.Action = func() {
		cfg := config.Default()
		if *configPath != "" {
			loaded, err := config.Load(*configPath)
			if err != nil {
				log.WithError(err).Fatal("failed to load config")
			}
			cfg = loaded
		}
		// flags override file values
		if *listen != "" {
			cfg.Server.Listen = *listen
		}
		if *address != "" {
			cfg.Server.Address = *address
		}
		if *path != "" {
			cfg.Stream.Path = *path
		}
		log.SetLevel(cfg.LogrusLevel())

		server := rtsp.NewServer(rtsp.ServerConfig{
			Address:        cfg.Server.Address,
			Path:           cfg.Stream.Path,
			MaxPayloadSize: cfg.Stream.MaxPayloadSize,
		})

		ctx := context.Background()
		group, ctx := errgroup.WithContext(ctx)

		group.Go(func() error {
			log.WithFields(log.Fields{
				"listen": cfg.Server.Listen,
				"url":    "rtsp://" + cfg.Server.Address + "/" + cfg.Stream.Path,
			}).Info("starting RTSP server")
			return server.Start(ctx, cfg.Server.Listen)
		})

		if *jpegPath != "" {
			frame, err := loadFrame(*jpegPath)
			if err != nil {
				log.WithError(err).Fatal("failed to load JPEG frame")
			}
			group.Go(func() error {
				ticker := time.NewTicker(100 * time.Millisecond)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-ticker.C:
						if err := server.SendFrame(frame); err != nil {
							log.WithError(err).Warn("failed to broadcast frame")
						}
					}
				}
			})
		}

		if err := group.Wait(); err != nil {
			log.WithError(err).Fatal("server stopped")
		}
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("failed to run application")
	}
}

func loadFrame(path string) (*mjpeg.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return mjpeg.ParseFrame(data)
}
