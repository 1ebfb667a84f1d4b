package oidcguard

import (
	"context"
	"errors"
	"io"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/MrEthical07/oidcguard/internal"
	"github.com/MrEthical07/oidcguard/internal/audit"
)

// AuditEvent is one replay-protection decision. Values are identified by a
// digest, never by their raw content.
type AuditEvent = audit.Event

// AuditSink receives audit events from the Guard's dispatcher.
type AuditSink = audit.Sink

type (
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	ZapSink        = audit.ZapSink
)

func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return audit.NewJSONWriterSink(w) }

// NewZapSink logs audit events through logger under the "audit" name.
func NewZapSink(logger *zap.Logger) *ZapSink { return audit.NewZapSink(logger) }

const (
	auditEventNonceIssued   = "nonce_issued"
	auditEventNonceConsumed = "nonce_consumed"
	auditEventNonceRejected = "nonce_rejected"
	auditEventStateAdded    = "state_added"
	auditEventStateRemoved  = "state_removed"
	auditEventStateRejected = "state_rejected"
	auditEventStorageReset  = "storage_reset"
)

// Rejection reasons carried in the "reason" metadata of rejected events.
const (
	rejectEmpty           = "empty"
	rejectInvalidEncoding = "invalid_encoding"
	rejectUnknown         = "unknown_or_expired"
)

func rejectReason(value string) func() map[string]string {
	reason := rejectUnknown
	switch {
	case value == "":
		reason = rejectEmpty
	case !utf8.ValidString(value):
		reason = rejectInvalidEncoding
	}
	return func() map[string]string {
		return map[string]string{"reason": reason}
	}
}

// AuditErrorCode is the stable error label carried by failed audit events.
type AuditErrorCode string

const (
	auditErrNotFound     AuditErrorCode = "not_found"
	auditErrInvalidValue AuditErrorCode = "invalid_value"
	auditErrUnavailable  AuditErrorCode = "storage_unavailable"
	auditErrInternal     AuditErrorCode = "internal_error"
)

func (g *Guard) emitAudit(
	ctx context.Context,
	eventType string,
	bucket string,
	value string,
	success bool,
	err error,
	metadataBuilder func() map[string]string,
) {
	if g == nil || g.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:   g.now().UTC(),
		EventType:   eventType,
		Bucket:      bucket,
		ValueDigest: internal.Digest(value),
		Success:     success,
		Metadata:    metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	} else if !success {
		event.Error = string(auditErrNotFound)
	}

	g.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidValue):
		return auditErrInvalidValue
	case errors.Is(err, ErrStorageUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
