package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/careflow/internal/platform/auth"
)

// AuditEntry records which staff member touched which clinical resource.
type AuditEntry struct {
	ActorID    string
	ActorRoles []string
	HospitalID string
	Resource   string
	RecordID   string
	Action     string // read, create, update, delete
	Method     string
	Path       string
	IPAddress  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every /api/v1 request after it completes, with the acting
// staff member taken from the authenticated context. Recorders receive the
// same entry; a recorder failure is logged and never fails the request.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !strings.HasPrefix(path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			ctx := c.Request().Context()
			entry := AuditEntry{
				ActorID:    auth.ActorFromContext(ctx),
				ActorRoles: auth.RolesFromContext(ctx),
				Method:     req.Method,
				Path:       path,
				IPAddress:  c.RealIP(),
				Action:     httpMethodToAction(req.Method),
				StatusCode: c.Response().Status,
				Timestamp:  time.Now().UTC(),
			}
			if he, ok := err.(*echo.HTTPError); ok {
				entry.StatusCode = he.Code
			}
			entry.Resource, entry.RecordID = splitResourcePath(path)
			entry.RequestID, _ = c.Get("request_id").(string)
			entry.HospitalID, _ = c.Get("hospital_id").(string)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "access_audit").
				Str("request_id", entry.RequestID).
				Str("actor_id", entry.ActorID).
				Strs("actor_roles", entry.ActorRoles).
				Str("hospital_id", entry.HospitalID).
				Str("resource", entry.Resource).
				Str("record_id", entry.RecordID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("clinical_access")

			return err
		}
	}
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// splitResourcePath turns /api/v1/admissions/<id>/discharge into
// ("admissions", "<id>").
func splitResourcePath(path string) (resource, recordID string) {
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "unknown", ""
	}
	resource = segments[0]
	for _, s := range segments[1:] {
		if _, err := uuid.Parse(s); err == nil {
			return resource, s
		}
	}
	return resource, ""
}
