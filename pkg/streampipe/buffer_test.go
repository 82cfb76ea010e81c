// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-query-engine.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package streampipe

import (
	"sync"
	"testing"
	"time"
)

func TestPushPollFIFO(t *testing.T) {
	b := NewMessageBuffer(4)
	for i := 0; i < 3; i++ {
		if err := b.Push(i); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		v, ok := b.Poll(time.Second)
		if !ok || v.(int) != i {
			t.Fatalf("Poll got %v, %v; want %d, true", v, ok, i)
		}
	}
}

func TestPollTimesOutWhenEmpty(t *testing.T) {
	b := NewMessageBuffer(1)
	start := time.Now()
	_, ok := b.Poll(50 * time.Millisecond)
	if ok {
		t.Fatal("expected timeout on empty buffer")
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("Poll returned before its timeout elapsed")
	}
}

func TestPushBlocksWhileFull(t *testing.T) {
	b := NewMessageBuffer(1)
	if err := b.Push(1); err != nil {
		t.Fatalf("Push: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	pushed := make(chan struct{})
	go func() {
		defer wg.Done()
		b.Push(2)
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("second Push should have blocked while buffer is full")
	case <-time.After(50 * time.Millisecond):
	}

	if _, ok := b.Poll(time.Second); !ok {
		t.Fatal("expected to drain first item")
	}
	wg.Wait()
}

func TestCloseSupplyDrainsThenCloses(t *testing.T) {
	b := NewMessageBuffer(4)
	b.Push("a")
	b.Push("b")
	b.CloseSupply()

	if b.Supplying() {
		t.Fatal("expected Supplying() == false after CloseSupply")
	}
	if b.State() != Draining {
		t.Fatalf("expected Draining, got %v", b.State())
	}

	v, ok := b.Poll(time.Second)
	if !ok || v != "a" {
		t.Fatalf("got %v, %v", v, ok)
	}
	v, ok = b.Poll(time.Second)
	if !ok || v != "b" {
		t.Fatalf("got %v, %v", v, ok)
	}
	if b.State() != Closed {
		t.Fatalf("expected Closed once drained, got %v", b.State())
	}

	if _, ok := b.Poll(50 * time.Millisecond); ok {
		t.Fatal("expected no more items once Closed")
	}
}

func TestCloseSupplyEmptyGoesDirectlyToClosed(t *testing.T) {
	b := NewMessageBuffer(4)
	b.CloseSupply()
	if b.State() != Closed {
		t.Fatalf("expected Closed, got %v", b.State())
	}
}

func TestPushRejectedOnceNotSupplying(t *testing.T) {
	b := NewMessageBuffer(4)
	b.CloseSupply()
	if err := b.Push("x"); err == nil {
		t.Fatal("expected Push to fail once buffer is not Supplying")
	}
}
