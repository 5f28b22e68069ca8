package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Citation is a normalized source reference. Its ID is a pure function of
// the normalized URL: the same URL always yields the same ID, across runs
// and re-normalizations, which makes citation upserts idempotent.
type Citation struct {
	ID              string    `json:"citation_id"`
	URL             string    `json:"url"`
	Title           string    `json:"title,omitempty"`
	Publisher       string    `json:"publisher,omitempty"`
	ReliabilityTags []string  `json:"reliability_tags,omitempty"`
	AccessedAt      time.Time `json:"accessed_at,omitempty"`
}

// Evidence is a structured claim with supporting material. Its ID is a pure
// function of the claim text for idempotent re-derivation across retries.
type Evidence struct {
	ID          string     `json:"evidence_id"`
	Claim       string     `json:"claim"`
	Snippet     string     `json:"snippet,omitempty"`
	CitationIDs []string   `json:"citation_ids,omitempty"`
	Confidence  Confidence `json:"confidence"`
}

// Reference is one entry of the ordered reference list attached to a
// synthesized report. Numbers are assigned by first textual occurrence.
type Reference struct {
	Number     int    `json:"n"`
	CitationID string `json:"citation_id"`
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
}

// CitationID derives the deterministic citation identifier from a normalized URL.
func CitationID(normalizedURL string) string {
	return contentID("cit", normalizedURL)
}

// EvidenceID derives the deterministic evidence identifier from a claim.
func EvidenceID(claim string) string {
	return contentID("ev", claim)
}

// contentID hashes content into a short stable identifier with a type prefix.
// 16 hex characters of SHA-256 keeps ids readable while leaving collision
// probability negligible at this corpus size.
func contentID(prefix, content string) string {
	sum := sha256.Sum256([]byte(content))
	return prefix + "_" + hex.EncodeToString(sum[:8])
}
