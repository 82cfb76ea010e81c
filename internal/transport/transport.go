// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-query-engine.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transport implements the TransportFactory abstraction named in
// spec.md §9 ("replace runtime reflection on a service class with a
// TransportFactory: one method per stub kind, statically dispatched") and
// its NATS-backed implementation, adapted from the teacher's
// github.com/ClusterCockpit/cc-backend/pkg/nats client.
package transport

import (
	"context"

	"github.com/ClusterCockpit/cc-query-engine/pkg/queryspec"
	"github.com/ClusterCockpit/cc-query-engine/pkg/streampipe"
)

// Factory opens a transport stream for a sub-request in one of the three
// modes spec.md §1/§9 names; the concrete wire bootstrap (how a subject or
// endpoint is derived, how the remote is told to start streaming) is an
// external collaborator's concern, out of scope per spec.md §1.
type Factory interface {
	OpenForward(ctx context.Context, sub queryspec.RequestSpec) (streampipe.Stream, error)
	OpenBackward(ctx context.Context, sub queryspec.RequestSpec) (streampipe.Stream, error)
	OpenBidirectional(ctx context.Context, sub queryspec.RequestSpec) (streampipe.Stream, error)
}

// opener adapts a Factory to streampipe.Opener by dispatching on the
// sub-request's PreferredTransport hint.
type opener struct {
	factory Factory
}

// NewOpener wraps factory as a streampipe.Opener, statically dispatching
// each sub-request to the factory method matching its preferred
// transport.
func NewOpener(factory Factory) streampipe.Opener {
	return &opener{factory: factory}
}

func (o *opener) Open(ctx context.Context, sub queryspec.RequestSpec) (streampipe.Stream, error) {
	switch sub.PreferredTransport {
	case queryspec.Backward:
		return o.factory.OpenBackward(ctx, sub)
	case queryspec.Bidirectional:
		return o.factory.OpenBidirectional(ctx, sub)
	default:
		return o.factory.OpenForward(ctx, sub)
	}
}
