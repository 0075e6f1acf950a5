package infinitic_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alpex29/infinitic"
)

type fakeStore struct{ closed bool }

func (s *fakeStore) Migrate(context.Context) error { return nil }
func (s *fakeStore) Ping(context.Context) error    { return nil }
func (s *fakeStore) Close() error                  { s.closed = true; return nil }

type fakeTransport struct{ closed bool }

func (t *fakeTransport) Close() error { t.closed = true; return nil }

type fakeRunner struct {
	started, stopped int
	err              error
}

func (r *fakeRunner) Start(context.Context) error { r.started++; return r.err }
func (r *fakeRunner) Stop(context.Context) error  { r.stopped++; return nil }

type fakeEmitter struct{ shutdowns int }

func (e *fakeEmitter) EmitShutdown(context.Context) { e.shutdowns++ }

func TestNew_Options(t *testing.T) {
	n, err := infinitic.New(
		infinitic.WithConcurrency(3),
		infinitic.WithEngineConsumers(7),
		infinitic.WithKinds("task", "job"),
		infinitic.WithCodec("msgpack"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg := n.Config()
	if cfg.Concurrency != 3 || cfg.EngineConsumers != 7 || cfg.Codec != "msgpack" || len(cfg.Kinds) != 2 {
		t.Errorf("config = %+v", cfg)
	}
	if n.Logger() == nil {
		t.Error("expected a default logger")
	}
}

func TestNew_WithConfigValidates(t *testing.T) {
	cfg := infinitic.DefaultConfig()
	cfg.Codec = "xml"
	if _, err := infinitic.New(infinitic.WithConfig(cfg)); !errors.Is(err, infinitic.ErrUnknownDriver) {
		t.Fatalf("expected ErrUnknownDriver, got %v", err)
	}
}

func TestNode_StartErrors(t *testing.T) {
	tests := []struct {
		name string
		opts []infinitic.Option
		want error
	}{
		{"no store", nil, infinitic.ErrNoStore},
		{"no transport", []infinitic.Option{infinitic.WithStore(&fakeStore{})}, infinitic.ErrNoTransport},
		{"not built", []infinitic.Option{infinitic.WithStore(&fakeStore{}), infinitic.WithTransport(&fakeTransport{})}, infinitic.ErrNotBuilt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := infinitic.New(tt.opts...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if err := n.Start(context.Background()); !errors.Is(err, tt.want) {
				t.Fatalf("Start = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNode_Lifecycle(t *testing.T) {
	st := &fakeStore{}
	tr := &fakeTransport{}
	n, err := infinitic.New(infinitic.WithStore(st), infinitic.WithTransport(tr))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := &fakeRunner{}
	em := &fakeEmitter{}
	n.SetRunner(r)
	n.SetExtensions(em)

	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := n.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if r.started != 1 || r.stopped != 1 {
		t.Errorf("runner started=%d stopped=%d", r.started, r.stopped)
	}
	if em.shutdowns != 1 {
		t.Errorf("shutdowns = %d, want 1", em.shutdowns)
	}
	if !st.closed || !tr.closed {
		t.Error("expected store and transport to be closed")
	}
}

func TestNode_StartFailureSkipsRunnerStop(t *testing.T) {
	r := &fakeRunner{err: errors.New("boom")}
	n, err := infinitic.New(infinitic.WithStore(&fakeStore{}), infinitic.WithTransport(&fakeTransport{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n.SetRunner(r)

	if err := n.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail")
	}
	if err := n.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if r.stopped != 0 {
		t.Errorf("runner stopped %d times after a failed start", r.stopped)
	}
}
