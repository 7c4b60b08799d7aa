// Package presence defines the user presence record shared by every store
// backend and the facade, together with the error taxonomy surfaced to
// applications.
package presence

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Record is the latest known location and identity snapshot for one user.
// A write always replaces the whole record; fields are never merged.
type Record struct {
	Lat         float64 `json:"lat" firestore:"lat"`
	Lng         float64 `json:"lng" firestore:"lng"`
	Tipo        string  `json:"tipo" firestore:"tipo"`
	DisplayName string  `json:"displayName" firestore:"displayName"`
}

// Users maps uid to the user's current presence record.
type Users map[string]Record

// Error categories. Callers match them with errors.Is; the wrapped chain
// still carries the underlying SDK error.
var (
	// ErrAuth is returned when a sign-in flow fails
	ErrAuth = errors.New("auth error")

	// ErrWrite is returned when the store rejects a write
	ErrWrite = errors.New("write error")

	// ErrSubscription is returned when a watch or read of the users mapping fails
	ErrSubscription = errors.New("subscription error")

	// ErrInvalidRecord is returned for records rejected before reaching the store
	ErrInvalidRecord = errors.New("invalid presence record")
)

// forbiddenKeyChars cannot appear in a Realtime Database key, and "/" would
// also turn a Firestore document ID into a path.
const forbiddenKeyChars = "/.#$[]"

// ValidateUID checks that uid can be used as a key in every backend.
func ValidateUID(uid string) error {
	if uid == "" {
		return fmt.Errorf("%w: uid is required", ErrInvalidRecord)
	}
	if strings.ContainsAny(uid, forbiddenKeyChars) {
		return fmt.Errorf("%w: uid %q contains one of %q", ErrInvalidRecord, uid, forbiddenKeyChars)
	}
	return nil
}

// Validate rejects coordinates that are not finite or out of range.
func (r Record) Validate() error {
	if math.IsNaN(r.Lat) || math.IsInf(r.Lat, 0) {
		return fmt.Errorf("%w: lat must be a finite number", ErrInvalidRecord)
	}
	if math.IsNaN(r.Lng) || math.IsInf(r.Lng, 0) {
		return fmt.Errorf("%w: lng must be a finite number", ErrInvalidRecord)
	}
	if r.Lat < -90 || r.Lat > 90 {
		return fmt.Errorf("%w: lat %v out of range [-90, 90]", ErrInvalidRecord, r.Lat)
	}
	if r.Lng < -180 || r.Lng > 180 {
		return fmt.Errorf("%w: lng %v out of range [-180, 180]", ErrInvalidRecord, r.Lng)
	}
	return nil
}

// Copy returns an independent copy of the mapping. A nil mapping copies to
// an empty, non-nil one.
func (u Users) Copy() Users {
	copied := make(Users, len(u))
	for uid, rec := range u {
		copied[uid] = rec
	}
	return copied
}
