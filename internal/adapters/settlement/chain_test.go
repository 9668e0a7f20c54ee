package settlement

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/evanschultz/poa/internal/domain"
)

func sampleRecord(id string) domain.Finalization {
	at := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	return domain.Finalization{
		RequestID:        id,
		Status:           domain.StatusFulfilled,
		Approvers:        []string{"X", "Y"},
		MinimumApprovals: 2,
		TotalActors:      3,
		Deadline:         at.Add(time.Minute),
		FinalizedAt:      at,
	}
}

func TestHashChainSealIsDeterministicAndChained(t *testing.T) {
	var c HashChain
	first, err := c.Seal("", sampleRecord("poa_1"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if !domain.IsValidTxHash(first) {
		t.Fatalf("expected 64 hex chars, got %q", first)
	}
	again, err := c.Seal(Genesis, sampleRecord("poa_1"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if again != first {
		t.Fatal("expected empty prev to behave like genesis")
	}
	second, err := c.Seal(first, sampleRecord("poa_1"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if second == first {
		t.Fatal("expected identifier to depend on previous identifier")
	}
}

func TestHashChainVerify(t *testing.T) {
	var c HashChain
	records := []domain.Finalization{sampleRecord("poa_1"), sampleRecord("poa_2")}
	h1, _ := c.Seal("", records[0])
	h2, _ := c.Seal(h1, records[1])
	if err := c.Verify("", records, []string{h1, h2}); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	records[1].Approvers = []string{"X"}
	if err := c.Verify("", records, []string{h1, h2}); !errors.Is(err, ErrChainBroken) {
		t.Fatalf("expected ErrChainBroken, got %v", err)
	}
}

func TestHashChainRejectsMalformedPrev(t *testing.T) {
	if _, err := (HashChain{}).Seal(strings.Repeat("z", 64), sampleRecord("poa_1")); !errors.Is(err, domain.ErrInvalidTxHash) {
		t.Fatalf("expected ErrInvalidTxHash, got %v", err)
	}
}

func TestSimulatedConfirmerHonorsContext(t *testing.T) {
	if err := (SimulatedConfirmer{}).Confirm(context.Background()); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := (SimulatedConfirmer{Delay: time.Minute}).Confirm(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if err := (SimulatedConfirmer{Delay: time.Millisecond}).Confirm(context.Background()); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
}
