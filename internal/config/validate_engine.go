// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-query-engine.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateEngine validates instance against engineConfigSchema, returning
// an error instead of the teacher's Validate (which calls cclog.Fatal) —
// the engine is a library, callers decide how to react to bad config.
func ValidateEngine(instance json.RawMessage) error {
	sch, err := jsonschema.CompileString("engine-config.json", engineConfigSchema)
	if err != nil {
		return fmt.Errorf("compiling engine config schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(instance, &v); err != nil {
		return fmt.Errorf("decoding engine config: %w", err)
	}

	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("validating engine config: %w", err)
	}
	return nil
}
