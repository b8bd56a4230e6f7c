package coordinator

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
	"github.com/williamlsh/logging"

	"github.com/benfoxall/cast/internal/coordinator"
	"github.com/benfoxall/cast/internal/coordinator/cfg"
	"github.com/benfoxall/cast/internal/store"
	"github.com/benfoxall/cast/pkg/mqttclient"
)

const configFlagName = "config"

// Command returns the coordinator command.
func Command() *cli.Command {
	ctx := context.Background()

	var (
		logger zerolog.Logger

		st store.Store

		mqttConfigOptions   mqttclient.ConfigOptions
		serverConfigOptions cfg.ServerConfigOptions
		storeConfigOptions  cfg.StoreConfigOptions
		sfuConfigOptions    cfg.SFUConfigOptions
		bridgeConfigOptions cfg.BridgeConfigOptions
	)

	flags := func() (flags []cli.Flag) {
		for _, v := range [][]cli.Flag{
			loadConfigFlag(),
			serverFlags(&serverConfigOptions),
			storeFlags(&storeConfigOptions),
			sfuFlags(&sfuConfigOptions),
			mqttFlags(&mqttConfigOptions),
			bridgeFlags(&bridgeConfigOptions),
		} {
			flags = append(flags, v...)
		}
		return
	}()

	return &cli.Command{
		Name:  "coordinator",
		Usage: "coordinate screen-sharing sessions between casters and viewers",
		Flags: flags,
		Before: func(c *cli.Context) error {
			if err := altsrc.InitInputSourceWithContext(
				flags,
				altsrc.NewTomlSourceFromFlagFunc(configFlagName),
			)(c); err != nil {
				return err
			}

			// Set up logger.
			logging.Debug(c.Bool("debug"))
			logger = log.With().Str("service", "cast").Str("command", "coordinator").Logger()
			ctx = logger.WithContext(ctx)

			// Select session storage. An empty redis URL keeps records in
			// process memory, which is only acceptable for development.
			if storeConfigOptions.RedisURL != "" {
				redis, err := store.NewRedis(storeConfigOptions.RedisURL, storeConfigOptions.KeyPrefix)
				if err != nil {
					return err
				}
				st = redis
			} else {
				logger.Warn().Msg("no redis configured, session records will not survive restarts")
				st = store.NewMemory()
			}

			// The MQTT event bridge is optional.
			if mqttConfigOptions.Server != "" {
				mc := mqttclient.NewClient(ctx, mqttConfigOptions)
				if err := mqttclient.CheckConnectivity(mc, 3*time.Second); err != nil {
					return err
				}
				ctx = mqttclient.WithContext(ctx, mc)
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			svc := coordinator.New(ctx, st, &cfg.ConfigOptions{
				ServerConfigOptions: serverConfigOptions,
				StoreConfigOptions:  storeConfigOptions,
				SFUConfigOptions:    sfuConfigOptions,
				BridgeConfigOptions: bridgeConfigOptions,
			})

			serveCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigs
				cancel()
			}()

			err := svc.Serve(serveCtx)
			if err != nil {
				logger.Err(err).Msg("coordinator failed")
			}
			return err
		},
		After: func(c *cli.Context) error {
			if mc := mqttclient.FromContext(ctx); mc != nil {
				disconnect(mc)
			}
			logger.Info().Msg("exits")
			return nil
		},
	}
}

func disconnect(mc mqtt.Client) {
	const quiesceMillis = 250
	mc.Disconnect(quiesceMillis)
}

// loadConfigFlag sets a config file path for app command.
// Note: you can't set any other flags' `Required` value to `true`,
// As it conflicts with this flag. You can set only either this flag or specifically the other flags but not both.
func loadConfigFlag() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        configFlagName,
			Aliases:     []string{"c"},
			Usage:       "Config file path",
			Value:       "config/config.toml",
			DefaultText: "config/config.toml",
		},
	}
}

func serverFlags(options *cfg.ServerConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "server.host",
			Usage:       "Host of the coordinator HTTP server",
			Value:       "0.0.0.0",
			DefaultText: "0.0.0.0",
			Destination: &options.Host,
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:        "server.port",
			Usage:       "Port of the coordinator HTTP server",
			Value:       8080,
			DefaultText: "8080",
			Destination: &options.Port,
		}),
	}
}

func storeFlags(options *cfg.StoreConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "store.redis_url",
			Usage:       "Redis URL for durable session records, empty for in-memory storage",
			Value:       "",
			Destination: &options.RedisURL,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "store.key_prefix",
			Usage:       "Key prefix for session records",
			Value:       "cast:",
			DefaultText: "cast:",
			Destination: &options.KeyPrefix,
		}),
	}
}

func sfuFlags(options *cfg.SFUConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "sfu.base_url",
			Usage:       "Base URL of the SFU control-plane API",
			Value:       "https://rtc.live.cloudflare.com/v1",
			DefaultText: "https://rtc.live.cloudflare.com/v1",
			Destination: &options.BaseURL,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "sfu.app_id",
			Usage:       "SFU application id",
			Value:       "",
			Destination: &options.AppID,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "sfu.app_secret",
			Usage:       "SFU application secret, kept server-side",
			Value:       "",
			Destination: &options.AppSecret,
		}),
		altsrc.NewDurationFlag(&cli.DurationFlag{
			Name:        "sfu.request_timeout",
			Usage:       "Deadline for each SFU control-plane request",
			Value:       10 * time.Second,
			DefaultText: "10s",
			Destination: &options.RequestTimeout,
		}),
	}
}

func mqttFlags(options *mqttclient.ConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "mqtt.server",
			Usage:       "MQTT server address for the event bridge, empty to disable",
			Value:       "",
			Destination: &options.Server,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "mqtt.clientID",
			Usage:       "MQTT client id",
			Value:       "cast_coordinator",
			DefaultText: "cast_coordinator",
			Destination: &options.ClientID,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "mqtt.username",
			Usage:       "MQTT broker username",
			Value:       "",
			Destination: &options.Username,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "mqtt.password",
			Usage:       "MQTT broker password",
			Value:       "",
			Destination: &options.Password,
		}),
	}
}

func bridgeFlags(options *cfg.BridgeConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "bridge.topic_prefix",
			Usage:       "MQTT topic prefix for session events",
			Value:       "/cast/sessions/events",
			DefaultText: "/cast/sessions/events",
			Destination: &options.TopicPrefix,
		}),
		altsrc.NewUintFlag(&cli.UintFlag{
			Name:        "bridge.qos",
			Usage:       "MQTT qos for session events",
			Value:       0,
			DefaultText: "0",
			Destination: &options.Qos,
		}),
		altsrc.NewBoolFlag(&cli.BoolFlag{
			Name:        "bridge.retained",
			Usage:       "MQTT retention for session events",
			Value:       false,
			DefaultText: "false",
			Destination: &options.Retained,
		}),
	}
}
