package config

import (
	"net"

	"github.com/valkey-io/valkey-go"
)

// ClientOption builds the client options for the backing store from config.
func (v ValKey) ClientOption() valkey.ClientOption {
	return valkey.ClientOption{
		InitAddress: []string{net.JoinHostPort(v.Host, v.Port)},
		Username:    v.Username,
		Password:    v.Password,
	}
}
