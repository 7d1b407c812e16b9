package transcribe

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/earshot/earshot/pkg/provider/asr"
	"github.com/earshot/earshot/pkg/provider/asr/mock"
)

func TestConvertToText_PrimarySucceeds(t *testing.T) {
	primary := &mock.Transcriber{
		NameValue: "primary",
		Results:   []asr.Result{{Text: "hello world", Confidence: 0.9}},
	}
	backup := &mock.Transcriber{NameValue: "backup"}

	c := NewCoordinator()
	c.Register(primary, 1)
	c.Register(backup, 2)

	got, err := c.ConvertToText(context.Background(), []byte{1, 2}, "")
	if err != nil {
		t.Fatalf("ConvertToText: %v", err)
	}
	if got.Text != "hello world" {
		t.Fatalf("text %q, want %q", got.Text, "hello world")
	}
	if got.Provider != "primary" {
		t.Fatalf("provider %q, want primary", got.Provider)
	}
	if got.WasFallbackUsed {
		t.Fatal("WasFallbackUsed = true for a first-try success")
	}
	if len(got.ProvidersTried) != 1 || got.ProvidersTried[0] != "primary" {
		t.Fatalf("ProvidersTried = %v, want [primary]", got.ProvidersTried)
	}
	if backup.TranscribeCallCount() != 0 {
		t.Fatal("backup provider was called despite primary success")
	}
}

func TestConvertToText_FallbackToSecond(t *testing.T) {
	failing := &mock.Transcriber{
		NameValue:     "a",
		TranscribeErr: errors.New("connection refused"),
	}
	working := &mock.Transcriber{
		NameValue: "b",
		Results:   []asr.Result{{Text: "fallback result"}},
	}

	c := NewCoordinator()
	c.Register(failing, 1)
	c.Register(working, 2)

	got, err := c.ConvertToText(context.Background(), []byte{1}, "")
	if err != nil {
		t.Fatalf("ConvertToText: %v", err)
	}
	if got.Provider != "b" {
		t.Fatalf("provider %q, want b", got.Provider)
	}
	if !got.WasFallbackUsed {
		t.Fatal("WasFallbackUsed = false after a fallback")
	}
	want := []string{"a", "b"}
	if len(got.ProvidersTried) != 2 || got.ProvidersTried[0] != want[0] || got.ProvidersTried[1] != want[1] {
		t.Fatalf("ProvidersTried = %v, want %v", got.ProvidersTried, want)
	}

	select {
	case ev := <-c.Fallbacks():
		if ev.Failed != "a" || ev.Next != "b" {
			t.Fatalf("fallback event %q -> %q, want a -> b", ev.Failed, ev.Next)
		}
	default:
		t.Fatal("no fallback notification published")
	}
}

func TestConvertToText_AllFailListsProviders(t *testing.T) {
	c := NewCoordinator()
	c.Register(&mock.Transcriber{NameValue: "alpha", TranscribeErr: errors.New("down")}, 1)
	c.Register(&mock.Transcriber{NameValue: "beta", TranscribeErr: errors.New("down")}, 2)
	c.Register(&mock.Transcriber{NameValue: "gamma", TranscribeErr: errors.New("down")}, 3)

	_, err := c.ConvertToText(context.Background(), []byte{1}, "")
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("error %v, want ErrAllProvidersFailed", err)
	}
	for _, name := range []string{"alpha", "beta", "gamma"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("terminal error %q does not name provider %s", err, name)
		}
	}
}

func TestConvertToText_NoProviders(t *testing.T) {
	c := NewCoordinator()
	if _, err := c.ConvertToText(context.Background(), []byte{1}, ""); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("error %v, want ErrNoProviders", err)
	}
}

func TestConvertToText_PreferredFirst(t *testing.T) {
	first := &mock.Transcriber{NameValue: "first", Results: []asr.Result{{Text: "from first"}}}
	second := &mock.Transcriber{NameValue: "second", Results: []asr.Result{{Text: "from second"}}}

	c := NewCoordinator()
	c.Register(first, 1)
	c.Register(second, 2)

	got, err := c.ConvertToText(context.Background(), []byte{1}, "second")
	if err != nil {
		t.Fatalf("ConvertToText: %v", err)
	}
	if got.Provider != "second" {
		t.Fatalf("provider %q, want preferred second", got.Provider)
	}
	if first.TranscribeCallCount() != 0 {
		t.Fatal("higher-priority provider was called before the preferred one")
	}
}

func TestConvertToText_UnknownPreferredIgnored(t *testing.T) {
	only := &mock.Transcriber{NameValue: "only", Results: []asr.Result{{Text: "ok"}}}
	c := NewCoordinator()
	c.Register(only, 1)

	got, err := c.ConvertToText(context.Background(), []byte{1}, "ghost")
	if err != nil {
		t.Fatalf("ConvertToText: %v", err)
	}
	if got.Provider != "only" {
		t.Fatalf("provider %q, want only", got.Provider)
	}
}

func TestConvertToText_UnhealthySortedBehindEqualPriority(t *testing.T) {
	flaky := &mock.Transcriber{NameValue: "flaky", TranscribeErr: errors.New("boom")}
	steady := &mock.Transcriber{NameValue: "steady", Results: []asr.Result{{Text: "ok"}}}

	c := NewCoordinator()
	c.Register(flaky, 1)
	c.Register(steady, 1)

	// Drive flaky below a 50% success rate over five attempts.
	for i := 0; i < 5; i++ {
		if _, err := c.ConvertToText(context.Background(), []byte{1}, ""); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	h, ok := c.ProviderHealth("flaky")
	if !ok || h.Healthy {
		t.Fatalf("flaky health = %+v, want unhealthy", h)
	}

	// Unhealthy flaky now sorts behind steady, so steady is hit first and
	// flaky stops accumulating calls.
	before := flaky.TranscribeCallCount()
	if _, err := c.ConvertToText(context.Background(), []byte{1}, ""); err != nil {
		t.Fatalf("post-degradation call: %v", err)
	}
	if flaky.TranscribeCallCount() != before {
		t.Fatal("unhealthy provider was still tried before the healthy one")
	}

	select {
	case ch := <-c.HealthChanges():
		if ch.Provider != "flaky" || ch.Healthy {
			t.Fatalf("health change %+v, want flaky -> unhealthy", ch)
		}
	default:
		t.Fatal("no health change notification published")
	}
}

func TestConvertToText_SuccessRestoresHealth(t *testing.T) {
	p := &mock.Transcriber{NameValue: "p", TranscribeErr: errors.New("down")}
	c := NewCoordinator()
	c.Register(p, 1)

	for i := 0; i < 5; i++ {
		c.ConvertToText(context.Background(), []byte{1}, "")
	}
	if h, _ := c.ProviderHealth("p"); h.Healthy {
		t.Fatal("provider still healthy after five failures")
	}
	drainHealthChanges(c)

	p.TranscribeErr = nil
	p.Results = []asr.Result{{Text: "back"}}
	if _, err := c.ConvertToText(context.Background(), []byte{1}, ""); err != nil {
		t.Fatalf("recovery call: %v", err)
	}

	h, _ := c.ProviderHealth("p")
	if !h.Healthy {
		t.Fatal("provider not restored to healthy by a success")
	}
	select {
	case ch := <-c.HealthChanges():
		if !ch.Healthy {
			t.Fatalf("health change %+v, want recovery to healthy", ch)
		}
	default:
		t.Fatal("no recovery notification published")
	}
}

func TestConvertToText_CancellationSkipsHealthUpdate(t *testing.T) {
	slow := &mock.Transcriber{
		NameValue: "slow",
		Delay:     time.Minute,
		Results:   []asr.Result{{Text: "never"}},
	}
	c := NewCoordinator()
	c.Register(slow, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.ConvertToText(ctx, []byte{1}, "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error %v, want context.Canceled", err)
	}

	h, _ := c.ProviderHealth("slow")
	if h.Successes != 0 || h.Failures != 0 {
		t.Fatalf("aborted call updated health: %+v", h)
	}
}

func TestTestAllProviders(t *testing.T) {
	good := &mock.Transcriber{NameValue: "good"}
	bad := &mock.Transcriber{NameValue: "bad", ProbeErr: errors.New("model file missing")}

	c := NewCoordinator()
	c.Register(good, 1)
	c.Register(bad, 2)

	results := c.TestAllProviders(context.Background())
	if len(results) != 2 {
		t.Fatalf("got %d probe results, want 2", len(results))
	}
	if results["good"] != nil {
		t.Fatalf("good probe error: %v", results["good"])
	}
	if results["bad"] == nil {
		t.Fatal("bad probe reported no error")
	}
	if good.ProbeCallCount != 1 || bad.ProbeCallCount != 1 {
		t.Fatalf("probe counts good=%d bad=%d, want 1 each", good.ProbeCallCount, bad.ProbeCallCount)
	}
	if good.TranscribeCallCount() != 0 || bad.TranscribeCallCount() != 0 {
		t.Fatal("TestAllProviders ran a full transcription")
	}

	h, _ := c.ProviderHealth("good")
	if h.Successes != 1 {
		t.Fatalf("good successes = %d, want 1 from probe", h.Successes)
	}
	h, _ = c.ProviderHealth("bad")
	if h.Failures != 1 {
		t.Fatalf("bad failures = %d, want 1 from probe", h.Failures)
	}
}

func TestHealthSnapshotFields(t *testing.T) {
	p := &mock.Transcriber{
		NameValue: "p",
		Results:   []asr.Result{{Text: "x", Elapsed: 80 * time.Millisecond}},
	}
	c := NewCoordinator()
	c.Register(p, 1)

	if _, err := c.ConvertToText(context.Background(), []byte{1}, ""); err != nil {
		t.Fatalf("ConvertToText: %v", err)
	}

	h, ok := c.ProviderHealth("p")
	if !ok {
		t.Fatal("no health record for registered provider")
	}
	if h.Successes != 1 || h.Failures != 0 {
		t.Fatalf("counts %d/%d, want 1/0", h.Successes, h.Failures)
	}
	if h.AvgResponseTime != 80*time.Millisecond {
		t.Fatalf("AvgResponseTime %v, want 80ms", h.AvgResponseTime)
	}
	if h.LastChecked.IsZero() {
		t.Fatal("LastChecked not set")
	}
}

func drainHealthChanges(c *Coordinator) {
	for {
		select {
		case <-c.HealthChanges():
		default:
			return
		}
	}
}
