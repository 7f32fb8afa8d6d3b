package main

import (
	"net/http"

	"github.com/mcdev12/bobgourmet/go/internal/config"
	"github.com/mcdev12/bobgourmet/go/internal/inspector"
)

func setupServer(cfg *config.Config, services *Services) *http.Server {
	handler := inspector.NewHandler(services.Store, services.Conn, services.Notes, services.Gate.Username, version)
	return inspector.NewServer(cfg.Inspector.Addr, handler)
}
