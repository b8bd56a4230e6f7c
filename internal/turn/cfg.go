package turn

// ConfigOptions configures the relay: the address advertised to cast
// participants, the static long-term credential handed out with their ICE
// server config, and the relay port range.
type ConfigOptions struct {
	PublicIP     string
	Port         int
	Username     string
	Password     string
	Realm        string
	RelayMinPort uint
	RelayMaxPort uint
}
