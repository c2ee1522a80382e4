package blend

import (
	"errors"
	"testing"
)

func constProvider(v float64, calls *int) Provider {
	return func() (float64, error) {
		*calls++
		return v, nil
	}
}

func TestBoundaryLaws(t *testing.T) {
	t.Run("alpha zero returns mcdm exactly", func(t *testing.T) {
		var rtsiCalls, mcdmCalls int
		res, err := Blend(0, constProvider(42.5, &rtsiCalls), constProvider(61.2, &mcdmCalls))
		if err != nil {
			t.Fatalf("Blend failed: %v", err)
		}
		if res.Final != 61.2 {
			t.Errorf("expected exactly 61.2, got %f", res.Final)
		}
		if rtsiCalls != 0 {
			t.Errorf("RT-SI must not be evaluated at alpha=0, called %d times", rtsiCalls)
		}
		if mcdmCalls != 1 {
			t.Errorf("expected exactly one MCDM evaluation, got %d", mcdmCalls)
		}
		if res.RTSI != nil {
			t.Error("skipped RT-SI must be nil, not zero")
		}
		if res.MCDM == nil || *res.MCDM != 61.2 {
			t.Error("MCDM sub-score missing from result")
		}
	})

	t.Run("alpha one returns rtsi exactly", func(t *testing.T) {
		var rtsiCalls, mcdmCalls int
		res, err := Blend(1, constProvider(42.5, &rtsiCalls), constProvider(61.2, &mcdmCalls))
		if err != nil {
			t.Fatalf("Blend failed: %v", err)
		}
		if res.Final != 42.5 {
			t.Errorf("expected exactly 42.5, got %f", res.Final)
		}
		if mcdmCalls != 0 {
			t.Errorf("MCDM must not be evaluated at alpha=1, called %d times", mcdmCalls)
		}
		if res.MCDM != nil {
			t.Error("skipped MCDM must be nil")
		}
	})
}

func TestZeroScoreIsValidSignal(t *testing.T) {
	// RT-SI of exactly 0.0 means maximum danger, not missing data.
	var rtsiCalls, mcdmCalls int
	res, err := Blend(0.7, constProvider(0.0, &rtsiCalls), constProvider(60.0, &mcdmCalls))
	if err != nil {
		t.Fatalf("Blend failed: %v", err)
	}
	if res.Final != 18.0 {
		t.Errorf("expected 0.7×0.0 + 0.3×60.0 = 18.0 exactly, got %f", res.Final)
	}
	if res.RTSI == nil {
		t.Fatal("computed RT-SI of 0.0 must be present, not nil")
	}
	if *res.RTSI != 0.0 {
		t.Errorf("expected RT-SI 0.0, got %f", *res.RTSI)
	}
}

func TestMidAlphaEvaluatesBoth(t *testing.T) {
	var rtsiCalls, mcdmCalls int
	res, err := Blend(0.5, constProvider(40, &rtsiCalls), constProvider(80, &mcdmCalls))
	if err != nil {
		t.Fatalf("Blend failed: %v", err)
	}
	if rtsiCalls != 1 || mcdmCalls != 1 {
		t.Errorf("expected one call each, got rtsi=%d mcdm=%d", rtsiCalls, mcdmCalls)
	}
	if res.Final != 60 {
		t.Errorf("expected 60, got %f", res.Final)
	}
}

func TestAlphaOutOfRange(t *testing.T) {
	for _, alpha := range []float64{-0.1, 1.1} {
		if _, err := Blend(alpha, nil, nil); err == nil {
			t.Errorf("expected error for alpha=%f", alpha)
		}
	}
}

func TestProviderErrorPropagates(t *testing.T) {
	boom := errors.New("eb lookup failed")
	failing := func() (float64, error) { return 0, boom }
	var calls int

	_, err := Blend(0.5, failing, constProvider(50, &calls))
	if !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if calls != 0 {
		t.Error("MCDM should not run after RT-SI provider fails")
	}
}
