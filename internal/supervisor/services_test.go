// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/kvcache"
	"github.com/wayfarerhq/wayfarer/internal/logging"
)

type fakeHTTPServer struct {
	startErr error
	done     chan struct{}
	shutdown chan struct{}
}

func newFakeHTTPServer(startErr error) *fakeHTTPServer {
	return &fakeHTTPServer{
		startErr: startErr,
		done:     make(chan struct{}),
		shutdown: make(chan struct{}, 1),
	}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	if f.startErr != nil {
		return f.startErr
	}
	<-f.done
	return nil
}

func (f *fakeHTTPServer) Shutdown(_ context.Context) error {
	f.shutdown <- struct{}{}
	close(f.done)
	return nil
}

func TestHTTPServerService_GracefulShutdown(t *testing.T) {
	srv := newFakeHTTPServer(nil)
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop after cancel")
	}

	select {
	case <-srv.shutdown:
	default:
		t.Error("Shutdown was not called")
	}
}

func TestHTTPServerService_StartupFailure(t *testing.T) {
	startErr := errors.New("bind: address already in use")
	svc := NewHTTPServerService(newFakeHTTPServer(startErr), time.Second)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, startErr) {
		t.Errorf("err = %v, want wrapped start error", err)
	}
}

func TestCacheGCService_StopsOnCancel(t *testing.T) {
	cache, err := kvcache.Open(config.CacheConfig{
		InMemory:     true,
		ThrottleTTL:  time.Second,
		SearchTTL:    time.Second,
		NarrationTTL: time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	svc := NewCacheGCService(cache, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop after cancel")
	}
}

func TestTree_RunsSupervisedServices(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), TreeConfig{})

	srv := newFakeHTTPServer(nil)
	tree.AddAPIService(NewHTTPServerService(srv, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("tree err = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop after cancel")
	}

	select {
	case <-srv.shutdown:
	default:
		t.Error("supervised HTTP server was not shut down")
	}
}
