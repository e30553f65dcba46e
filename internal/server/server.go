package server

import (
	"github.com/DominicWuest/backbuild/pkg/backbuild"
)

// A StatusSource reports the progress of a running job. [backbuild.Job] is one.
type StatusSource interface {
	Status() backbuild.Status
}

type Server interface {
	Init(int, StatusSource) error
}

// NewServer starts a server reporting the status of source on the passed port
func NewServer(port int, source StatusSource) (Server, error) {
	server := &httpServer{}
	return server, server.Init(port, source)
}
