// Package config loads runtime configuration for the idkeeper CLI.
//
// Sources, later ones winning:
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or -config.
//  3. Command-line flags -a, -d, -t and -i.
//
// JSON example:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "session_db": "idkeeper-session.db",
//	  "request_timeout": "10s",
//	  "online_check_interval": "3s"
//	}
package config
