package settlement

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ucarion/jcs"

	"github.com/evanschultz/poa/internal/domain"
)

// Genesis is the previous-hash value for the first sealed finalization.
var Genesis = strings.Repeat("0", 64)

// ErrChainBroken reports a settlement identifier that does not match its record.
var ErrChainBroken = errors.New("settlement chain broken")

// HashChain seals finalization records into a SHA-256 chain over RFC 8785
// canonical JSON, so every identifier commits to all earlier ones.
type HashChain struct{}

// Seal returns sha256(prev || jcs(rec)) as lowercase hex. An empty prev starts a new chain.
func (HashChain) Seal(prev string, rec domain.Finalization) (string, error) {
	if prev == "" {
		prev = Genesis
	}
	if !domain.IsValidTxHash(prev) {
		return "", fmt.Errorf("%w: previous identifier %q", domain.ErrInvalidTxHash, prev)
	}
	canonical, err := canonicalize(rec)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify recomputes a sequence of records against their identifiers, starting from prev.
func (c HashChain) Verify(prev string, records []domain.Finalization, hashes []string) error {
	if len(records) != len(hashes) {
		return fmt.Errorf("%w: %d records for %d identifiers", ErrChainBroken, len(records), len(hashes))
	}
	for i, rec := range records {
		want, err := c.Seal(prev, rec)
		if err != nil {
			return err
		}
		if want != hashes[i] {
			return fmt.Errorf("%w: request %s at position %d", ErrChainBroken, rec.RequestID, i)
		}
		prev = want
	}
	return nil
}

// canonicalize renders v as RFC 8785 JSON.
func canonicalize(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal finalization: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return "", fmt.Errorf("normalize finalization: %w", err)
	}
	out, err := jcs.Format(normalized)
	if err != nil {
		return "", fmt.Errorf("canonicalize finalization: %w", err)
	}
	return out, nil
}
