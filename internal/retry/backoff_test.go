package retry

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/ncecere/carving_editor/internal/models"
)

type recorder struct {
	waits []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func quotaErr(hint time.Duration) error {
	return &models.ProviderError{Provider: "gemini", Kind: models.KindQuotaExceeded, Status: 429, RetryAfter: hint}
}

func assertWaits(t *testing.T, got, want []time.Duration) {
	t.Helper()
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("waits = %v, want %v", got, want)
	}
}

func TestParseRetryDelay(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"2.5s", 2500 * time.Millisecond},
		{"40s", 40 * time.Second},
		{"0.0011s", 2 * time.Millisecond},
		{"", 0},
		{"soon", 0},
		{"0s", 0},
		{"86400s", MaxRetryDelay},
		{"99999999999999999999999s", MaxRetryDelay},
	}
	for _, c := range cases {
		if got := ParseRetryDelay(c.in); got != c.want {
			t.Errorf("ParseRetryDelay(%q) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestControllerRetriesQuotaWithDoublingDelay(t *testing.T) {
	rec := &recorder{}
	ctrl := &Controller{MaxRetries: 2, InitialDelay: time.Second, Sleep: rec.sleep}

	calls := 0
	_, err := ctrl.Do(context.Background(), func(context.Context) (models.EditResult, error) {
		calls++
		return models.EditResult{}, quotaErr(0)
	})

	if !models.IsQuota(err) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	assertWaits(t, rec.waits, []time.Duration{time.Second, 2 * time.Second})
}

func TestControllerPrefersProviderHint(t *testing.T) {
	rec := &recorder{}
	ctrl := &Controller{MaxRetries: 2, InitialDelay: time.Second, Sleep: rec.sleep}

	calls := 0
	result, err := ctrl.Do(context.Background(), func(context.Context) (models.EditResult, error) {
		calls++
		switch calls {
		case 1:
			return models.EditResult{}, quotaErr(ParseRetryDelay("2.5s"))
		case 2:
			return models.EditResult{}, quotaErr(0)
		default:
			return models.EditResult{Provider: "gemini"}, nil
		}
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if result.Provider != "gemini" || calls != 3 {
		t.Fatalf("unexpected result %+v after %d calls", result, calls)
	}
	// The backoff keeps doubling even when a hint was used for the first wait.
	assertWaits(t, rec.waits, []time.Duration{2500 * time.Millisecond, 2 * time.Second})
}

func TestControllerClampsLongHints(t *testing.T) {
	rec := &recorder{}
	ctrl := &Controller{MaxRetries: 1, InitialDelay: time.Second, MaxWait: 30 * time.Second, Sleep: rec.sleep}

	_, err := ctrl.Do(context.Background(), func(context.Context) (models.EditResult, error) {
		return models.EditResult{}, quotaErr(ParseRetryDelay("86400s"))
	})
	if !models.IsQuota(err) {
		t.Fatalf("expected quota error, got %v", err)
	}
	assertWaits(t, rec.waits, []time.Duration{30 * time.Second})
}

func TestControllerDoesNotRetryOtherKinds(t *testing.T) {
	rec := &recorder{}
	ctrl := &Controller{MaxRetries: 2, InitialDelay: time.Second, Sleep: rec.sleep}

	notConfigured := models.NotConfigured("gemini", "GEMINI_API_KEY is not set")
	calls := 0
	_, err := ctrl.Do(context.Background(), func(context.Context) (models.EditResult, error) {
		calls++
		return models.EditResult{}, notConfigured
	})

	if err != error(notConfigured) {
		t.Fatalf("expected the original error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one attempt, got %d", calls)
	}
	assertWaits(t, rec.waits, nil)
}

func TestControllerSucceedsImmediately(t *testing.T) {
	rec := &recorder{}
	ctrl := &Controller{MaxRetries: 2, Sleep: rec.sleep}

	if _, err := ctrl.Do(context.Background(), func(context.Context) (models.EditResult, error) {
		return models.EditResult{}, nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertWaits(t, rec.waits, nil)
}

func TestControllerStopsWhenContextCancelled(t *testing.T) {
	ctrl := New(2, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := ctrl.Do(ctx, func(context.Context) (models.EditResult, error) {
		calls++
		return models.EditResult{}, quotaErr(0)
	})
	if !models.IsQuota(err) || calls != 1 {
		t.Fatalf("expected one quota attempt, got err=%v calls=%d", err, calls)
	}
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := Sleep(context.Background(), 0); err != nil {
		t.Fatalf("zero sleep: %v", err)
	}
}
