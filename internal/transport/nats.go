// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-query-engine.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/ClusterCockpit/cc-query-engine/pkg/qerrors"
	"github.com/ClusterCockpit/cc-query-engine/pkg/queryspec"
	"github.com/ClusterCockpit/cc-query-engine/pkg/streampipe"
	"github.com/ClusterCockpit/cc-query-engine/pkg/wire"
)

// NATSFactory is the default Factory (spec.md §9), one NATS subject per
// sub-request. Forward, backward and bidirectional modes all reduce to
// the same subscribe/request framing here — the distinction matters to
// the remote's send direction, which is outside this client's control —
// so all three Factory methods share openSubject.
type NATSFactory struct {
	conn           *nats.Conn
	requestSubject string
}

// NewNATSFactory builds a Factory that publishes sub-request bootstrap
// messages to requestSubject and listens for responses on a
// per-sub-request reply subject it generates.
func NewNATSFactory(conn *nats.Conn, requestSubject string) *NATSFactory {
	return &NATSFactory{conn: conn, requestSubject: requestSubject}
}

func (f *NATSFactory) OpenForward(ctx context.Context, sub queryspec.RequestSpec) (streampipe.Stream, error) {
	return f.openSubject(ctx, sub)
}

func (f *NATSFactory) OpenBackward(ctx context.Context, sub queryspec.RequestSpec) (streampipe.Stream, error) {
	return f.openSubject(ctx, sub)
}

func (f *NATSFactory) OpenBidirectional(ctx context.Context, sub queryspec.RequestSpec) (streampipe.Stream, error) {
	return f.openSubject(ctx, sub)
}

// openSubject subscribes to a fresh reply subject, then publishes the
// wire-encoded sub-request naming that subject, mirroring the
// request/reply idiom of pkg/nats.Client.Request but kept streaming
// (many responses, not one) by subscribing before publishing.
func (f *NATSFactory) openSubject(ctx context.Context, sub queryspec.RequestSpec) (streampipe.Stream, error) {
	replySubject := fmt.Sprintf("%s.reply.%s", f.requestSubject, uuid.NewString())

	natsSub, err := f.conn.SubscribeSync(replySubject)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.Transport, "nats subscribe failed", err).WithSubRequest(sub.ID())
	}

	reqMsg := wire.RequestToWire(sub)
	payload, err := json.Marshal(reqMsg)
	if err != nil {
		natsSub.Unsubscribe()
		return nil, qerrors.Wrap(qerrors.Internal, "encoding request message failed", err).WithSubRequest(sub.ID())
	}

	if err := f.conn.PublishRequest(f.requestSubject, replySubject, payload); err != nil {
		natsSub.Unsubscribe()
		return nil, qerrors.Wrap(qerrors.Transport, "nats publish failed", err).WithSubRequest(sub.ID())
	}

	cclog.Debugf("[TRANSPORT]> opened stream for sub-request %s on %s", sub.ID(), replySubject)
	return &natsStream{sub: natsSub, subRequestID: sub.ID()}, nil
}

// natsStream adapts a *nats.Subscription to streampipe.Stream. A
// zero-length message payload is this transport's end-of-stream marker,
// since NATS subjects carry no built-in close signal.
type natsStream struct {
	sub          *nats.Subscription
	subRequestID string
}

func (s *natsStream) Recv(ctx context.Context) (any, error) {
	msg, err := s.sub.NextMsgWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, qerrors.Wrap(qerrors.Cancelled, "nats recv cancelled", err).WithSubRequest(s.subRequestID)
		}
		return nil, qerrors.Wrap(qerrors.Transport, "nats recv failed", err).WithSubRequest(s.subRequestID)
	}
	if len(msg.Data) == 0 {
		return nil, io.EOF
	}

	decoded, err := wire.DecodeResponseMessage(msg.Data)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.Rejected, "decoding response message failed", err).WithSubRequest(s.subRequestID)
	}
	return decoded, nil
}

func (s *natsStream) Close() error {
	return s.sub.Unsubscribe()
}
