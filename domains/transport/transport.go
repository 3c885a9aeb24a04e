// Package transport defines the boundary to the messaging-protocol layer.
// The lifecycle manager only ever sees these contracts; the whatsmeow glue
// lives in infrastructure/whatsapp.
package transport

import (
	"context"
	"time"
)

// EventKind is the closed set of notifications a live handle can emit.
type EventKind int

const (
	EventQRIssued EventKind = iota
	EventOpened
	EventClosed
	EventReceipt
)

// CloseCode is the reason category reported by the transport when a
// connection ends. Classification into retry policy happens in the
// lifecycle manager, not here.
type CloseCode string

const (
	CloseLoggedOut   CloseCode = "logged_out"
	CloseBanned      CloseCode = "banned"
	CloseConflict    CloseCode = "multidevice_conflict"
	CloseForbidden   CloseCode = "forbidden"
	CloseOutdated    CloseCode = "client_outdated"
	CloseRateLimited CloseCode = "rate_limited"
	CloseNetwork     CloseCode = "network"
)

// ReceiptKind mirrors the delivery acknowledgements the protocol reports
// for previously sent messages.
type ReceiptKind string

const (
	ReceiptDelivered ReceiptKind = "delivered"
	ReceiptRead      ReceiptKind = "read"
)

// Identity is the account identity resolved by the transport once a
// connection is fully established.
type Identity struct {
	Phone    string
	PushName string
	DeviceID string
}

// Event is a tagged variant; Kind selects which payload fields are set.
type Event struct {
	Kind EventKind

	// EventQRIssued
	QRPayload string

	// EventClosed
	CloseCode    CloseCode
	CloseMessage string

	// EventOpened
	Identity Identity

	// EventReceipt
	Receipt    ReceiptKind
	MessageIDs []string
}

// SendReceipt is returned by a successful send.
type SendReceipt struct {
	MessageID string
	Timestamp time.Time
}

// Content is one outbound message. MediaRef is carried for accounting but
// rendering/MIME concerns stay outside this layer.
type Content struct {
	Body     string
	MediaRef string
}

// Handle is one live protocol connection, exclusively owned by the registry
// entry of a single account.
type Handle interface {
	// Send delivers one message; transport failures propagate unchanged.
	Send(ctx context.Context, target string, content Content) (SendReceipt, error)
	// Logout gracefully terminates the remote session. Best effort: it is
	// expected to fail when the link is already dead.
	Logout(ctx context.Context) error
	// PairCode requests a phone-number pairing code instead of a QR scan.
	// Only valid while the handle is still unpaired.
	PairCode(ctx context.Context, phone string) (string, error)
	// Identity returns the resolved identity, zero while pairing.
	Identity() Identity
	// Close releases local resources without touching the remote session.
	Close()
}

// PurgeMode selects how much of the persisted session artifacts to remove
// before a new connect.
type PurgeMode int

const (
	// PurgeLight removes only corruptible auxiliary files, preserving
	// credentials so an automatic retry does not force re-pairing.
	PurgeLight PurgeMode = iota
	// PurgeAggressive discards the whole per-account session directory so
	// the next connect always requires a fresh pairing.
	PurgeAggressive
)

// Dialer opens handles and manages their on-disk session artifacts.
type Dialer interface {
	// Open creates a new handle for the account and starts delivering its
	// events to onEvent, in transport order, until the handle closes.
	// It returns once the connection attempt is underway; establishment
	// completes asynchronously via events.
	Open(ctx context.Context, accountID string, onEvent func(Event)) (Handle, error)
	// Purge removes persisted session artifacts for the account.
	Purge(accountID string, mode PurgeMode) error
}

// HandleRegistry is the single source of truth for "is this account
// currently connected". One handle slot per account key; accounts never
// contend with each other.
type HandleRegistry interface {
	Get(accountID string) (Handle, bool)
	// Set stores the handle for the account, closing any previous one.
	Set(accountID string, handle Handle)
	// Remove drops and returns the handle, or nil if none was registered.
	Remove(accountID string) Handle
	// Drain removes and returns all handles. Used at shutdown.
	Drain() map[string]Handle
	Count() int
}
