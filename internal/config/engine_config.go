// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-query-engine.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/json"
	"time"
)

// Keys is the engine's configuration, populated from a JSON file and
// validated against engineConfigSchema (spec.md §4.9, §6 "Configuration
// surface"). Mirrors the teacher's package-level Keys-struct pattern
// (internal/memorystore's own Keys).
var Keys EngineConfig

// EngineConfig names every tunable enumerated in spec.md §4.9/§5. Durations
// are accepted on the wire as Go duration strings ("30s", "2m") and parsed
// into time.Duration at load time, matching the teacher's "interval"
// string fields.
type EngineConfig struct {
	MaxStreams              int    `json:"max-streams"`
	MinDomainThreshold      int64  `json:"min-domain-threshold"`
	CorrelateWhileStreaming bool   `json:"correlate-while-streaming"`
	ConcurrencyEnabled      bool   `json:"concurrency-enabled"`
	ConcurrencyWorkers      int    `json:"concurrency-workers"`
	PivotSize               int    `json:"pivot-size"`
	WorkerTimeout           string `json:"worker-timeout"`
	PollTimeout             string `json:"poll-timeout"`
	OverallDeadline         string `json:"overall-deadline"`
}

const engineConfigSchema = `{
    "type": "object",
    "description": "Configuration for the streaming query engine and correlator.",
    "properties": {
        "max-streams": {
            "description": "Upper bound on concurrently running stream tasks.",
            "type": "integer",
            "minimum": 1
        },
        "min-domain-threshold": {
            "description": "approxDomainSize below which the decomposer returns the request unsplit.",
            "type": "integer",
            "minimum": 0
        },
        "correlate-while-streaming": {
            "description": "Start the transfer task before stream tasks instead of after they join.",
            "type": "boolean"
        },
        "concurrency-enabled": {
            "description": "Allow the correlator's concurrent insertion path once pivot-size is reached.",
            "type": "boolean"
        },
        "concurrency-workers": {
            "description": "Worker pool size for the correlator's concurrent insertion path.",
            "type": "integer",
            "minimum": 1
        },
        "pivot-size": {
            "description": "Block-set size that triggers the correlator's concurrent insertion path.",
            "type": "integer",
            "minimum": 0
        },
        "worker-timeout": {
            "description": "Deadline for the correlator's concurrent insertion worker pool, as a Go duration string.",
            "type": "string"
        },
        "poll-timeout": {
            "description": "MessageBuffer poll timeout used by the transfer task, as a Go duration string.",
            "type": "string"
        },
        "overall-deadline": {
            "description": "Deadline for a whole Engine.QueryCorrelated call, as a Go duration string.",
            "type": "string"
        }
    },
    "required": ["max-streams", "min-domain-threshold", "pivot-size"]
}`

// LoadEngineConfig validates raw against engineConfigSchema, decodes it
// into Keys and returns the parsed durations. Validation failures and
// malformed duration strings are both reported as errors rather than
// cclog.Fatal, since a library caller (unlike the teacher's cmd/cc-backend
// bootstrap) should be able to recover from bad config.
func LoadEngineConfig(raw json.RawMessage) (worker, poll, deadline time.Duration, err error) {
	if err = ValidateEngine(raw); err != nil {
		return 0, 0, 0, err
	}
	if err = json.Unmarshal(raw, &Keys); err != nil {
		return 0, 0, 0, err
	}

	if Keys.WorkerTimeout != "" {
		if worker, err = time.ParseDuration(Keys.WorkerTimeout); err != nil {
			return 0, 0, 0, err
		}
	}
	if Keys.PollTimeout != "" {
		if poll, err = time.ParseDuration(Keys.PollTimeout); err != nil {
			return 0, 0, 0, err
		}
	}
	if Keys.OverallDeadline != "" {
		if deadline, err = time.ParseDuration(Keys.OverallDeadline); err != nil {
			return 0, 0, 0, err
		}
	}
	return worker, poll, deadline, nil
}
