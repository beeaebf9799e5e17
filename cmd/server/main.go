package main

import (
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/internal/server"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/internal/util"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/logger"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.New(console.Params{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
