// Package cfg groups the config options of the coordinator service.
package cfg

import "time"

type ConfigOptions struct {
	ServerConfigOptions
	StoreConfigOptions
	SFUConfigOptions
	BridgeConfigOptions
}

// ServerConfigOptions configures the HTTP server hosting the session API and
// notification channel.
type ServerConfigOptions struct {
	Host string
	Port int
}

// StoreConfigOptions configures durable session storage. An empty RedisURL
// selects the in-memory store.
type StoreConfigOptions struct {
	RedisURL  string
	KeyPrefix string
}

// SFUConfigOptions configures the control-plane client for the external SFU.
// AppSecret is the service credential and never reaches browsers.
type SFUConfigOptions struct {
	BaseURL        string
	AppID          string
	AppSecret      string
	RequestTimeout time.Duration
}

// BridgeConfigOptions configures the optional MQTT event bridge.
type BridgeConfigOptions struct {
	TopicPrefix string
	Qos         uint
	Retained    bool
}
