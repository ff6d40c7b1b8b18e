/*
NAME
  chibitv - descrambles, remuxes, and serves an ISDB-S MMT broadcast as
  a tuned-channel HTTP stream with an accompanying EPG.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package main wires a configuration file's CAS key, tuners, and
// channel list into a running chibitv instance: one tuned pipeline on the
// first configured tuner (id 0), an EPG registry fed from its signaling
// tables, and an HTTP surface over the result. Other configured tuners
// are registered but get no pipeline.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/utils/logging"

	"github.com/siketyan/chibitv/internal/cas"
	"github.com/siketyan/chibitv/internal/channel"
	"github.com/siketyan/chibitv/internal/config"
	"github.com/siketyan/chibitv/internal/descramble"
	"github.com/siketyan/chibitv/internal/registry"
	"github.com/siketyan/chibitv/internal/server"
	"github.com/siketyan/chibitv/internal/stream"
	"github.com/siketyan/chibitv/internal/tuner"
)

// Current software version.
const version = "v0.1.0"

// Logging configuration.
const (
	logPath      = "chibitv.log"
	logMaxSize   = 100 // MB
	logMaxBackup = 5
	logMaxAge    = 28 // days
	logVerbosity = logging.Info
	logSuppress  = false
)

func main() {
	configPath := flag.String("config", "chibitv.toml", "path to the configuration file")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	fileLog := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logMaxSize,
		MaxBackups: logMaxBackup,
		MaxAge:     logMaxAge,
	}
	log := logging.New(logVerbosity, io.MultiWriter(fileLog, os.Stdout), logSuppress)

	if err := run(*configPath, log); err != nil {
		log.Error("chibitv: fatal", "error", err.Error())
		os.Exit(1)
	}
}

func run(configPath string, log logging.Logger) error {
	log.Info("chibitv: starting", "version", version, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	casModule, err := cas.Open()
	if err != nil {
		return fmt.Errorf("open cas module: %w", err)
	}

	descrambler, err := descramble.Init(casModule, cfg.Cas.MasterKey)
	if err != nil {
		return fmt.Errorf("init descrambler: %w", err)
	}

	reg := registry.New()

	channels, err := channel.FromConfig(cfg.Channels)
	if err != nil {
		return fmt.Errorf("build channel list: %w", err)
	}
	if len(channels) == 0 {
		return fmt.Errorf("no channels configured")
	}

	tuners := tuner.NewTuners()
	for i, tc := range cfg.Tuners {
		if err := tuners.AddFromConfig(uint32(i), tc, log); err != nil {
			return fmt.Errorf("add tuner %d: %w", i, err)
		}
	}

	firstTuner, ok := tuners.Get(0)
	if !ok {
		return fmt.Errorf("no tuners configured")
	}

	st, err := stream.Open(firstTuner, reg, descrambler, log)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	if err := st.SetChannel(defaultServiceID(channels[0]), channels[0]); err != nil {
		return fmt.Errorf("tune default channel: %w", err)
	}

	streams := stream.NewStreams()
	streams.Add(0, st)

	ws := stream.NewWorkspace(channels, reg, streams)
	srv := server.New(ws, log)

	log.Info("chibitv: listening", "address", cfg.Server.Address)
	return http.ListenAndServe(cfg.Server.Address, srv)
}

// defaultServiceID returns the service id recorded for the stream when it
// is first tuned. It is always 0, whatever ch is; the stream's service id
// changes only when a later SetChannel call names one.
func defaultServiceID(ch channel.Channel) uint16 {
	return 0
}
