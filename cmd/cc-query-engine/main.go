// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-query-engine.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/nats-io/nats.go"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/ClusterCockpit/cc-query-engine/internal/config"
	"github.com/ClusterCockpit/cc-query-engine/internal/engine"
	"github.com/ClusterCockpit/cc-query-engine/internal/transport"
	"github.com/ClusterCockpit/cc-query-engine/pkg/queryspec"
	"github.com/ClusterCockpit/cc-query-engine/pkg/rawblock"
	"github.com/ClusterCockpit/cc-query-engine/pkg/timestamp"
)

var (
	flagConfigFile  string
	flagSources     string
	flagBegin       int64
	flagEnd         int64
	flagTransport   string
	flagNatsURL     string
	flagNatsSubject string
	flagLogLevel    string
)

func main() {
	flag.StringVar(&flagConfigFile, "config", "./engine-config.json", "Overwrite the default engine options by those specified in `config.json`")
	flag.StringVar(&flagSources, "sources", "", "Comma-separated `list` of source names to query")
	flag.Int64Var(&flagBegin, "begin", 0, "Begin of the query interval, epoch seconds")
	flag.Int64Var(&flagEnd, "end", 0, "End of the query interval, epoch seconds")
	flag.StringVar(&flagTransport, "transport", "forward", "Preferred transport: `forward`, `backward` or `bidirectional`")
	flag.StringVar(&flagNatsURL, "nats-url", nats.DefaultURL, "NATS server `url` the engine requests streams from")
	flag.StringVar(&flagNatsSubject, "nats-subject", "cc-query-engine.requests", "NATS request `subject`")
	flag.StringVar(&flagLogLevel, "loglevel", "info", "Minimum log `level` to print (debug, info, warn, err)")
	flag.Parse()

	cclog.Init(flagLogLevel, true)

	if flagSources == "" {
		cclog.Abort("at least one source must be given via -sources")
	}

	engineCfg, err := loadEngineConfig(flagConfigFile)
	if err != nil {
		cclog.Fatalf("loading engine config: %s", err.Error())
	}

	conn, err := nats.Connect(flagNatsURL)
	if err != nil {
		cclog.Fatalf("connecting to nats at %s: %s", flagNatsURL, err.Error())
	}
	defer conn.Close()

	factory := transport.NewNATSFactory(conn, flagNatsSubject)
	opener := transport.NewOpener(factory)
	eng := engine.New(engineCfg, opener)

	spec := queryspec.New(
		strings.Split(flagSources, ","),
		timestamp.Timestamp{Seconds: flagBegin},
		timestamp.Timestamp{Seconds: flagEnd},
		parseTransport(flagTransport),
	)
	if !spec.Valid() {
		cclog.Fatal("constructed request is invalid: check -sources, -begin and -end")
	}

	set, err := eng.QueryCorrelated(context.Background(), spec)
	if err != nil {
		cclog.Fatalf("query failed: %s", err.Error())
	}

	printSummary(set)
}

func parseTransport(s string) queryspec.Transport {
	switch strings.ToLower(s) {
	case "backward":
		return queryspec.Backward
	case "bidirectional":
		return queryspec.Bidirectional
	default:
		return queryspec.Forward
	}
}

// loadEngineConfig reads a JSON config file (defaulting to a bare engine
// if the file does not exist) and turns it into an engine.Config, mirroring
// the teacher's ProgramConfig-from-file bootstrap.
func loadEngineConfig(path string) (engine.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cclog.Warnf("[MAIN]> no config file at %s, using defaults", path)
			return engine.Config{}, nil
		}
		return engine.Config{}, err
	}

	workerTimeout, pollTimeout, overallDeadline, err := config.LoadEngineConfig(json.RawMessage(raw))
	if err != nil {
		return engine.Config{}, err
	}

	return engine.Config{
		MaxStreams:              config.Keys.MaxStreams,
		MinDomainThreshold:      config.Keys.MinDomainThreshold,
		CorrelateWhileStreaming: config.Keys.CorrelateWhileStreaming,
		ConcurrencyEnabled:      config.Keys.ConcurrencyEnabled,
		ConcurrencyWorkers:      config.Keys.ConcurrencyWorkers,
		PivotSize:               config.Keys.PivotSize,
		WorkerTimeout:           workerTimeout,
		PollTimeout:             pollTimeout,
		OverallDeadline:         overallDeadline,
	}, nil
}

// printSummary prints one line per correlated block: its start time, its
// sample count and the source names it carries.
func printSummary(set *rawblock.CorrelatedSet) {
	fmt.Printf("correlated blocks: %d\n", set.Len())
	for _, block := range set.Snapshot() {
		names := make([]string, 0, len(block.Columns()))
		for _, col := range block.Columns() {
			names = append(names, col.SourceName)
		}
		fmt.Printf("  t=%d samples=%d sources=%s\n", block.StartTime().Seconds, block.SampleCount(), strings.Join(names, ","))
	}
}
