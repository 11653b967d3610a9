package checkpoint

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/lprior-repo/oya-sub007/internal/errs"
	"github.com/lprior-repo/oya-sub007/internal/ids"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	body := []byte(`{"phase":"fetch","cursor":42}`)
	wire := Serialize(body)
	got, err := Deserialize(wire)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("round trip mismatch: got %q want %q", got, body)
	}
}

func TestSerializeCompressesRepetitiveBody(t *testing.T) {
	body := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 200))
	wire := Serialize(body)
	ratio := CompressionRatio(len(body), len(wire)-8)
	if ratio < 2.0 {
		t.Fatalf("expected at least 2x compression on repetitive input, got %.2f", ratio)
	}
}

func TestDeserializeRejectsBadMagic(t *testing.T) {
	wire := Serialize([]byte("hello"))
	wire[0] = 'X'
	_, err := Deserialize(wire)
	if !errs.Is(err, errs.KindSchemaError) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
}

func TestDeserializeRejectsUnknownVersion(t *testing.T) {
	wire := Serialize([]byte("hello"))
	wire[4] = 99
	_, err := Deserialize(wire)
	if !errs.Is(err, errs.KindSchemaError) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
}

func TestDeserializeRejectsShortBlob(t *testing.T) {
	_, err := Deserialize([]byte{1, 2, 3})
	if !errs.Is(err, errs.KindSchemaError) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
}

func TestAlwaysPolicyTriggersEveryUpdate(t *testing.T) {
	p := AlwaysPolicy{}
	for i := 0; i < 5; i++ {
		if !p.Update(true) {
			t.Fatalf("AlwaysPolicy must trigger on every call, missed call %d", i)
		}
	}
	if !p.Update(false) {
		t.Fatalf("AlwaysPolicy must trigger even on failed transitions")
	}
}

func TestOnSuccessPolicyTriggersOnlyOnSuccess(t *testing.T) {
	p := OnSuccessPolicy{}
	if p.Update(false) {
		t.Fatalf("OnSuccessPolicy must not trigger on failure")
	}
	if !p.Update(true) {
		t.Fatalf("OnSuccessPolicy must trigger on success")
	}
}

func TestIntervalPolicyFirstCallNeverTriggers(t *testing.T) {
	p := NewIntervalPolicy(1)
	if p.Update(true) {
		t.Fatalf("IntervalPolicy must never trigger on its first call, regardless of N")
	}
}

func TestIntervalPolicyTriggersEveryNSuccesses(t *testing.T) {
	p := NewIntervalPolicy(3)
	results := []bool{}
	for i := 0; i < 7; i++ {
		results = append(results, p.Update(true))
	}
	// call 1: seed (never triggers). calls 2..7 are successes 1..6 -> trigger
	// at the 3rd and 6th of those, i.e. indices 3 and 6 (0-based).
	want := []bool{false, false, false, true, false, false, true}
	for i, w := range want {
		if results[i] != w {
			t.Fatalf("call %d: got %v want %v (full: %v)", i, results[i], w, results)
		}
	}
}

func TestIntervalPolicyFailuresDoNotCount(t *testing.T) {
	p := NewIntervalPolicy(2)
	p.Update(true) // seed, never triggers
	if p.Update(false) {
		t.Fatalf("a failed transition must never trigger")
	}
	if p.Update(false) {
		t.Fatalf("failed transitions must not advance the interval counter")
	}
	if p.Update(true) {
		t.Fatalf("1st counted success must not trigger with N=2")
	}
	if !p.Update(true) {
		t.Fatalf("expected trigger on 2nd counted success")
	}
}

func TestEngineMaybeCheckpointRoundTripsThroughRewind(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	eng := NewEngine(store, AlwaysPolicy{})

	wf := ids.New()
	phase := ids.New()
	body := []byte(`{"step":1}`)

	wrote, err := eng.MaybeCheckpoint(ctx, wf, phase, 10, true, body)
	if err != nil {
		t.Fatalf("MaybeCheckpoint: %v", err)
	}
	if !wrote {
		t.Fatalf("AlwaysPolicy should have triggered a write")
	}

	restored, err := eng.Rewind(ctx, wf, phase)
	if err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	if !bytes.Equal(restored, body) {
		t.Fatalf("rewind body mismatch: got %q want %q", restored, body)
	}
}

func TestEngineRewindClearsLaterCheckpoints(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	eng := NewEngine(store, AlwaysPolicy{})

	wf := ids.New()
	phaseA, phaseB := ids.New(), ids.New()

	if _, err := eng.MaybeCheckpoint(ctx, wf, phaseA, 1, true, []byte("a")); err != nil {
		t.Fatalf("checkpoint A: %v", err)
	}
	if _, err := eng.MaybeCheckpoint(ctx, wf, phaseB, 2, true, []byte("b")); err != nil {
		t.Fatalf("checkpoint B: %v", err)
	}

	if _, err := eng.Rewind(ctx, wf, phaseA); err != nil {
		t.Fatalf("Rewind: %v", err)
	}

	if _, ok, _ := store.LoadCheckpoint(ctx, wf, phaseB); ok {
		t.Fatalf("expected checkpoint B to be cleared after rewinding past it")
	}
	if _, ok, _ := store.LoadCheckpoint(ctx, wf, phaseA); !ok {
		t.Fatalf("expected checkpoint A to survive its own rewind target")
	}
}

func TestEngineRewindUnknownPhaseReturnsNotFound(t *testing.T) {
	store := NewMemoryStore()
	eng := NewEngine(store, AlwaysPolicy{})
	_, err := eng.Rewind(context.Background(), ids.New(), ids.New())
	if !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
