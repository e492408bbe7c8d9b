package pnode

import "errors"

// ErrUpstreamUnavailable is returned when the cluster or credit source cannot be reached
// or answers with a non-success status.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// ErrNotFound is returned when a pubkey or pod ID has no record.
var ErrNotFound = errors.New("not found")

// ErrInvalidPubkey is returned for pubkeys that fail validation before any lookup.
var ErrInvalidPubkey = errors.New("invalid pubkey")

// ValidatePubkey rejects empty or too-short pubkeys.
func ValidatePubkey(pubkey string) error {
	if len(pubkey) < MinPubkeyLen {
		return ErrInvalidPubkey
	}
	return nil
}
