// Package ir provides the value types shared by every streamledger package.
//
// This package contains type definitions, the typed error taxonomy and the
// canonical serialisation used for content-addressed command ids. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - amounts and heights are uint64
//   - Principals are compared in NFC-normalised form
//   - All JSON tags use snake_case
//   - Heights come from the external clock, never from wall time
package ir
