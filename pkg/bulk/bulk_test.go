package bulk

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/fruitsalade/projectfiles/pkg/models"
)

func nodes(ids ...string) []models.Node {
	out := make([]models.Node, len(ids))
	for i, id := range ids {
		out[i] = models.Node{ID: id, Name: id}
	}
	return out
}

func TestRun_FailFast(t *testing.T) {
	e := NewExecutor()
	boom := errors.New("boom")

	var called []string
	report, err := e.Run(context.Background(), ActionMove, nodes("a", "b", "c", "d"),
		func(ctx context.Context, n models.Node) error {
			called = append(called, n.ID)
			if n.ID == "b" {
				return boom
			}
			return nil
		})

	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if !reflect.DeepEqual(called, []string{"a", "b"}) {
		t.Errorf("called = %v: nodes after the failure must not be attempted", called)
	}
	if !reflect.DeepEqual(report.Applied, []string{"a"}) {
		t.Errorf("Applied = %v", report.Applied)
	}
	if report.Failed != "b" {
		t.Errorf("Failed = %q", report.Failed)
	}
	if !reflect.DeepEqual(report.Skipped, []string{"c", "d"}) {
		t.Errorf("Skipped = %v", report.Skipped)
	}
	if e.State() != Failed {
		t.Errorf("state = %v, want failed", e.State())
	}
	e.Acknowledge()
	if e.State() != Idle {
		t.Errorf("state after Acknowledge = %v", e.State())
	}
}

func TestRun_Success(t *testing.T) {
	e := NewExecutor()
	report, err := e.Run(context.Background(), ActionDelete, nodes("a", "b"),
		func(ctx context.Context, n models.Node) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK() || len(report.Applied) != 2 || len(report.Skipped) != 0 {
		t.Errorf("report = %+v", report)
	}
	if e.State() != Succeeded || e.Last() != report {
		t.Errorf("state = %v", e.State())
	}
}

func TestRun_BusyWhileRunning(t *testing.T) {
	e := NewExecutor()
	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := e.Run(context.Background(), ActionAccess, nodes("a"),
			func(ctx context.Context, n models.Node) error {
				close(entered)
				<-release
				return nil
			})
		done <- err
	}()

	<-entered
	if !e.InProgress() {
		t.Error("InProgress should be true during a run")
	}
	if _, err := e.Run(context.Background(), ActionDelete, nodes("b"),
		func(ctx context.Context, n models.Node) error { return nil }); !errors.Is(err, ErrBusy) {
		t.Errorf("second Run = %v, want ErrBusy", err)
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if e.InProgress() {
		t.Error("InProgress should clear after the run")
	}
}

func TestRun_ContextCancelledSkipsRest(t *testing.T) {
	e := NewExecutor()
	ctx, cancel := context.WithCancel(context.Background())

	report, err := e.Run(ctx, ActionMove, nodes("a", "b", "c"),
		func(ctx context.Context, n models.Node) error {
			cancel()
			return nil
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !reflect.DeepEqual(report.Applied, []string{"a"}) || !reflect.DeepEqual(report.Skipped, []string{"b", "c"}) {
		t.Errorf("report = %+v", report)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Idle: "idle", Running: "running", Succeeded: "succeeded", Failed: "failed"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q", s, s.String())
		}
	}
}

func TestRun_OnFinish(t *testing.T) {
	var got []*Report
	e := NewExecutor(OnFinish(func(r *Report) { got = append(got, r) }))
	ctx := context.Background()

	ok, _ := e.Run(ctx, ActionAccess, nodes("a"), func(ctx context.Context, n models.Node) error { return nil })
	e.Acknowledge()
	failed, _ := e.Run(ctx, ActionMove, nodes("a"), func(ctx context.Context, n models.Node) error { return errors.New("no") })

	if len(got) != 2 || got[0] != ok || got[1] != failed {
		t.Fatalf("OnFinish reports = %v", got)
	}
	if !got[0].OK() || got[1].OK() {
		t.Errorf("outcomes = %v, %v", got[0].OK(), got[1].OK())
	}
}
