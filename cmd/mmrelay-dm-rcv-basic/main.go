// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command mmrelay-dm-rcv-basic runs a mesh-to-Matrix relay host with the
// dm-rcv-basic plugin, which copies direct messages sent to the relay node
// into a Matrix room. Packets are fed in through the admin API's
// /api/inject-packet endpoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	flag "maunium.net/go/mauflag"

	"github.com/aiku/mmrelay-dm-rcv-basic/pkg/dmrcv"
	"github.com/aiku/mmrelay-dm-rcv-basic/pkg/plugin"
	"github.com/aiku/mmrelay-dm-rcv-basic/pkg/relay"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const name = "mmrelay-dm-rcv-basic"

var (
	configPath      = flag.MakeFull("c", "config", "The path to your config file.", "config.yaml").String()
	generateExample = flag.MakeFull("e", "generate-example-config", "Print the example config and quit.", "false").Bool()
	dontSaveConfig  = flag.MakeFull("n", "no-update", "Don't save updated config to disk.", "false").Bool()
	version         = flag.MakeFull("v", "version", "View version and quit.", "false").Bool()
	wantHelp, _     = flag.MakeHelpFlag()
)

var registrations = []plugin.Registration{
	dmrcv.Registration,
}

func main() {
	flag.SetHelpTitles(
		name+" - forward mesh direct messages to Matrix",
		name+" [-hevn] [-c <path>]",
	)
	err := flag.Parse()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	}

	if *version {
		fmt.Printf("%s %s (commit %s, built %s)\n", name, Tag, Commit, BuildTime)
		return
	}
	if *generateExample {
		upgrader, err := relay.ConfigUpgrader(registrations...)
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Print(upgrader.GetBase())
		return
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("Relay failed")
	}
}

func run(log zerolog.Logger) error {
	cfg, err := relay.LoadConfig(*configPath, !*dontSaveConfig, registrations...)
	if err != nil {
		return err
	}
	log = log.Level(cfg.LogLevel())
	log.Info().Str("version", Tag).Str("commit", Commit).Msg("Starting " + name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *relay.LongNameStore
	if cfg.Database.Path != "" {
		store, err = relay.OpenLongNameStore(ctx, cfg.Database.Path, log)
		if err != nil {
			return err
		}
	}

	r, err := relay.New(cfg, store, log)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return err
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close long-name database")
		}
	}()

	if err := r.LoadPlugins(registrations...); err != nil {
		return err
	}
	if len(r.Plugins()) == 0 {
		log.Warn().Msg("No plugins are active; enable one under community-plugins")
	}
	if err := r.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	return nil
}
