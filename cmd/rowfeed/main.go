package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/G-Research/rowfeed/cmd/rowfeed/cmd"
	"github.com/G-Research/rowfeed/internal/common"
)

func main() {
	common.ConfigureLogging()
	root := cmd.RootCmd()
	if err := root.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
