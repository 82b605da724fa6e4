package main

import (
	"fmt"
	"strings"

	"github.com/agentmem/memvcs/internal/memcore"
	"github.com/agentmem/memvcs/internal/transport"
	server "github.com/agentmem/memvcs/internal/transport/httptransport"
)

// openTransport resolves a remote name to a Transport: an "http://" or
// "https://" URL dials the HTTP transport, anything else is treated as a
// filesystem path to another repository (§6.3's reference transport).
func openTransport(url string) (memcore.Transport, func(), error) {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return server.NewHTTPTransport(url), func() {}, nil
	}
	lt, err := transport.OpenLocalTransport(url)
	if err != nil {
		return nil, nil, err
	}
	return lt, func() {}, nil
}
