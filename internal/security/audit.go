package security

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charlesng35/seatkeeper/internal/app"
)

// CheckStatus is the outcome of one audit check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

// Check is the result of a single verification.
type Check struct {
	ID          string      `json:"id"`
	Status      CheckStatus `json:"status"`
	Message     string      `json:"message"`
	Remediation string      `json:"remediation,omitempty"`
}

// Result aggregates all checks with a per-status summary.
type Result struct {
	CheckedAt time.Time      `json:"checked_at"`
	Checks    []Check        `json:"checks"`
	Summary   map[string]int `json:"summary"`
}

// RoleCounter counts active identities holding a role.
type RoleCounter interface {
	CountActiveWithRole(ctx context.Context, role string) (int64, error)
}

const maxRecommendedSessionTTL = 30 * 24 * time.Hour

// AuditService inspects the running configuration for settings that put codes or
// accounts at risk.
type AuditService struct {
	cfg       *app.Config
	roles     RoleCounter
	adminRole string
	now       func() time.Time
}

// NewAuditService constructs the audit service. A nil roles counter skips the admin check.
func NewAuditService(cfg *app.Config, roles RoleCounter, adminRole string) *AuditService {
	return &AuditService{cfg: cfg, roles: roles, adminRole: adminRole, now: time.Now}
}

// WithClock overrides the clock used in results.
func (s *AuditService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Run executes all checks.
func (s *AuditService) Run(ctx context.Context) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	checks := []Check{s.checkAdminPresent(ctx)}
	if s.cfg == nil {
		checks = append(checks, Check{
			ID:      "configuration",
			Status:  StatusFail,
			Message: "Configuration not loaded.",
		})
	} else {
		checks = append(checks,
			s.checkCodesKey(),
			s.checkLinkScheme(),
			s.checkSessionTTL(),
			s.checkMailTransport(),
		)
	}

	summary := map[string]int{string(StatusPass): 0, string(StatusWarn): 0, string(StatusFail): 0}
	for _, check := range checks {
		summary[string(check.Status)]++
	}
	return Result{CheckedAt: s.now().UTC(), Checks: checks, Summary: summary}
}

func (s *AuditService) checkAdminPresent(ctx context.Context) Check {
	const id = "admin_present"
	if s.roles == nil {
		return Check{ID: id, Status: StatusWarn, Message: "Identity store unavailable; admin presence not verified."}
	}

	count, err := s.roles.CountActiveWithRole(ctx, s.adminRole)
	switch {
	case err != nil:
		return Check{ID: id, Status: StatusWarn, Message: fmt.Sprintf("Could not count admins: %v", err)}
	case count == 0:
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("No active identity holds the %q role.", s.adminRole),
			Remediation: "Grant the role to an identity so invites and agency tokens can be managed.",
		}
	default:
		return Check{ID: id, Status: StatusPass, Message: fmt.Sprintf("%d active admin(s).", count)}
	}
}

func (s *AuditService) checkCodesKey() Check {
	const id = "codes_encryption_key"
	if err := app.ValidateCodesKey(s.cfg.Codes.EncryptionKey); err != nil {
		return Check{
			ID:          id,
			Status:      StatusFail,
			Message:     err.Error(),
			Remediation: "Set SEATKEEPER_CODES_ENCRYPTION_KEY to 32 random bytes, hex or base64 encoded.",
		}
	}
	if n := app.KeyByteLength(s.cfg.Codes.EncryptionKey); n < 32 {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Assignment codes are sealed with a %d-byte key.", n),
			Remediation: "Use a 32-byte key for AES-256-GCM.",
		}
	}
	return Check{ID: id, Status: StatusPass, Message: "Codes encryption key configured."}
}

func (s *AuditService) checkLinkScheme() Check {
	const id = "link_scheme"
	u, err := url.Parse(strings.TrimSpace(s.cfg.Codes.BaseURL))
	if err != nil || u.Host == "" {
		return Check{ID: id, Status: StatusFail, Message: "codes.base_url is not an absolute URL."}
	}
	if u.Scheme != "https" && !isLoopback(u.Hostname()) {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Emailed codes link to %s over %s.", u.Host, u.Scheme),
			Remediation: "Serve the public site over https so codes are not sent in clear text.",
		}
	}
	return Check{ID: id, Status: StatusPass, Message: "Emailed links use " + u.Scheme + "."}
}

func (s *AuditService) checkSessionTTL() Check {
	const id = "session_ttl"
	ttl := s.cfg.Auth.Session.TTL
	if ttl <= 0 {
		return Check{ID: id, Status: StatusWarn, Message: "Session TTL is not configured; the default applies."}
	}
	if ttl > maxRecommendedSessionTTL {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Session TTL (%s) exceeds %s.", ttl, maxRecommendedSessionTTL),
			Remediation: "Lower auth.session.ttl to limit the exposure of a leaked token.",
		}
	}
	return Check{ID: id, Status: StatusPass, Message: fmt.Sprintf("Session TTL is %s.", ttl)}
}

func (s *AuditService) checkMailTransport() Check {
	const id = "mail_transport"
	if s.cfg.Notifications.DriverName() != "smtp" {
		return Check{ID: id, Status: StatusPass, Message: "Notifications are not sent over SMTP directly."}
	}
	if !s.cfg.Email.SMTP.UseTLS {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     "SMTP delivery is not using TLS.",
			Remediation: "Enable email.smtp.use_tls; messages carry verification codes.",
		}
	}
	return Check{ID: id, Status: StatusPass, Message: "SMTP delivery uses TLS."}
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
