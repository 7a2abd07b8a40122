package feature

import "unicode/utf16"

// Bucket maps a user id to a stable bucket in [0, 100). The hash is a base-31
// polynomial rolling hash over the id's UTF-16 code units wrapped to 32 bits,
// so the bucket is a pure function of the string: the same id lands in the
// same bucket across calls, processes and restarts.
//
// An empty id (anonymous context) hashes to bucket 0, so all anonymous users
// share a bucket; callers needing per-session variance must supply a stable
// pseudo-identity.
func Bucket(userID string) int {
	var hash int32
	for _, unit := range utf16.Encode([]rune(userID)) {
		hash = 31*hash + int32(unit)
	}
	bucket := int64(hash)
	if bucket < 0 {
		bucket = -bucket
	}
	return int(bucket % 100)
}

// InRollout reports whether the user falls inside a percentage rollout.
// Percentages at or above 100 admit everyone, at or below 0 admit no one.
func InRollout(userID string, percentage int) bool {
	if percentage >= 100 {
		return true
	}
	if percentage <= 0 {
		return false
	}
	return Bucket(userID) < percentage
}
