// Package turn runs a standalone TURN relay for cast participants whose
// networks block direct media paths to the SFU. It is deliberately separate
// from the coordinator: media relay scales on different axes than session
// control.
package turn

import (
	"fmt"
	"net"
	"strconv"

	"github.com/pion/turn/v2"
	"github.com/rs/zerolog"
)

// Serve starts the relay and returns the running server; the caller owns its
// shutdown.
func Serve(logger *zerolog.Logger, cfg *ConfigOptions) (*turn.Server, error) {
	udpListener, err := net.ListenPacket("udp4", "0.0.0.0:"+strconv.Itoa(cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("could not create udp4 listener: %w", err)
	}
	logger.Info().Str("host", "0.0.0.0").Int("port", cfg.Port).Msg("created udp4 listener")

	// One static long-term credential; cast clients receive it with their
	// ICE server config. Hash it once up front, the auth handler runs per
	// allocation.
	usersMap := map[string][]byte{
		cfg.Username: turn.GenerateAuthKey(cfg.Username, cfg.Realm, cfg.Password),
	}

	s, err := turn.NewServer(turn.ServerConfig{
		LoggerFactory: adapter(&pionLogger{logger}),
		Realm:         cfg.Realm,
		AuthHandler: func(username, realm string, srcAddr net.Addr) (key []byte, ok bool) {
			if key, ok := usersMap[username]; ok {
				return key, true
			}
			return nil, false
		},
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: udpListener,
				RelayAddressGenerator: &turn.RelayAddressGeneratorPortRange{
					// Advertise the configured public IP but listen on every
					// interface.
					RelayAddress: net.ParseIP(cfg.PublicIP),
					Address:      "0.0.0.0",
					MinPort:      uint16(cfg.RelayMinPort),
					MaxPort:      uint16(cfg.RelayMaxPort),
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("could not create TURN server: %w", err)
	}
	logger.Info().
		Uint("min_port", cfg.RelayMinPort).
		Uint("max_port", cfg.RelayMaxPort).
		Str("public_ip", cfg.PublicIP).
		Msg("started turn server")

	return s, nil
}
