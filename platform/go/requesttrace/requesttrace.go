package requesttrace

import (
	"context"
	"errors"

	platformauth "github.com/moddy-bot/moddy/platform/go/auth"
)

type contextKey string

const (
	ctxAuditInfo contextKey = "MODDY_REQUEST_TRACE"
)

// ActorKind represents who initiated a request.
type ActorKind string

const (
	ActorKindUser      ActorKind = "user"
	ActorKindService   ActorKind = "service"
	ActorKindAnonymous ActorKind = "anonymous"
	ActorKindSystem    ActorKind = "system"
)

// AuditInfo captures request-scoped metadata needed for traceability and auditing.
// ActorID is the Discord user behind the change; set only when ActorKind is user.
// Service names the authenticated caller of the internal API, if any.
type AuditInfo struct {
	ActorKind ActorKind
	ActorID   *int64
	Service   string
	RequestID string
}

// ChangedBy returns the id stamped on audit rows; 0 when no user is behind the change.
func (a AuditInfo) ChangedBy() int64 {
	if a.ActorID == nil {
		return 0
	}
	return *a.ActorID
}

// IntoContext stores the AuditInfo in the provided context.
func IntoContext(ctx context.Context, audit AuditInfo) context.Context {
	return context.WithValue(ctx, ctxAuditInfo, audit)
}

// FromContext extracts the AuditInfo from context, returning false when not present.
func FromContext(ctx context.Context) (AuditInfo, bool) {
	if ctx == nil {
		return AuditInfo{}, false
	}
	v := ctx.Value(ctxAuditInfo)
	if v == nil {
		return AuditInfo{}, false
	}

	audit, ok := v.(AuditInfo)
	return audit, ok
}

// FromContextOrAnonymous returns the AuditInfo stored on the context, or an anonymous record when absent.
func FromContextOrAnonymous(ctx context.Context) AuditInfo {
	if audit, ok := FromContext(ctx); ok {
		return audit
	}
	return Anonymous("")
}

// FromCredentials builds an AuditInfo from verified service credentials and a request ID.
// A token without actor_id yields a service actor.
func FromCredentials(creds *platformauth.Credentials, requestID string) (AuditInfo, error) {
	if creds == nil {
		return AuditInfo{}, errors.New("credentials are required to build audit info")
	}
	if creds.Subject == "" {
		return AuditInfo{}, errors.New("subject is required to build audit info")
	}

	if creds.ActorID == nil {
		return AuditInfo{ActorKind: ActorKindService, Service: creds.Subject, RequestID: requestID}, nil
	}

	actor := *creds.ActorID
	return AuditInfo{
		ActorKind: ActorKindUser,
		ActorID:   &actor,
		Service:   creds.Subject,
		RequestID: requestID,
	}, nil
}

// User builds an AuditInfo for a change made directly by a Discord user (bot commands).
func User(actorID int64, requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindUser, ActorID: &actorID, RequestID: requestID}
}

// Anonymous builds an AuditInfo for unauthenticated requests.
func Anonymous(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindAnonymous, RequestID: requestID}
}

// System builds an AuditInfo for background/system operations.
func System(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindSystem, RequestID: requestID}
}
