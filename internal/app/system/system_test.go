package system

import (
	"context"
	"fmt"
	"testing"

	"github.com/R3E-Network/securities_layer/pkg/logger"
)

type fakeService struct {
	name     string
	startErr error
	events   *[]string
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start(context.Context) error {
	*f.events = append(*f.events, "start:"+f.name)
	return f.startErr
}

func (f *fakeService) Stop(context.Context) error {
	*f.events = append(*f.events, "stop:"+f.name)
	return nil
}

func TestManagerStartsInOrderStopsInReverse(t *testing.T) {
	var events []string
	m := NewManager(logger.NewNop())
	m.Register(&fakeService{name: "a", events: &events})
	m.Register(&fakeService{name: "b", events: &events})

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start:a", "start:b", "stop:b", "stop:a"}
	if fmt.Sprint(events) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	var events []string
	m := NewManager(logger.NewNop())
	m.Register(&fakeService{name: "a", events: &events})
	m.Register(&fakeService{name: "b", startErr: fmt.Errorf("boom"), events: &events})
	m.Register(&fakeService{name: "c", events: &events})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("start should fail")
	}

	want := []string{"start:a", "start:b", "stop:a"}
	if fmt.Sprint(events) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	var events []string
	m := NewManager(logger.NewNop())
	m.Register(&fakeService{name: "a", events: &events})
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("events = %v, want none", events)
	}
}
