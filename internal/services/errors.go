package services

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/charlesng35/seatkeeper/internal/registry"
	"github.com/charlesng35/seatkeeper/internal/seats"
	apperrors "github.com/charlesng35/seatkeeper/pkg/errors"
)

var (
	// ErrResourceNotFound indicates a code, token or identity does not exist.
	ErrResourceNotFound = apperrors.New("RESOURCE_NOT_FOUND", "The requested resource could not be found", http.StatusNotFound)
	// ErrCodeExpired indicates the request's validity window has elapsed.
	ErrCodeExpired = apperrors.New("CODE_EXPIRED", "This code has expired, please request a new one", http.StatusGone)
	// ErrCodeAlreadyUsed indicates the request already reached its terminal state.
	ErrCodeAlreadyUsed = apperrors.New("CODE_ALREADY_USED", "This code has already been used", http.StatusConflict)
	// ErrNotEnoughSpaceAvailable indicates every seat of the agency token is taken.
	ErrNotEnoughSpaceAvailable = apperrors.New("NOT_ENOUGH_SPACE_AVAILABLE", "There are no spaces left on this agency token", http.StatusConflict)
	// ErrVerificationCodeNotFound indicates a code matches no pending workflow.
	ErrVerificationCodeNotFound = apperrors.New("VERIFICATION_CODE_NOT_FOUND", "This verification code is not recognised", http.StatusNotFound)
	// ErrIdentityAlreadyActive indicates reactivation was requested for an active identity.
	ErrIdentityAlreadyActive = apperrors.New("IDENTITY_ALREADY_ACTIVE", "This account is already active", http.StatusConflict)
	// ErrAgencyTokenRequired asks the caller to collect agency token details and retry.
	ErrAgencyTokenRequired = apperrors.New("AGENCY_TOKEN_REQUIRED", "An agency token is required for this email domain", http.StatusPreconditionRequired)
	// ErrEmailInUse indicates another identity already owns the address.
	ErrEmailInUse = apperrors.New("EMAIL_IN_USE", "This email address is already in use", http.StatusConflict)
	// ErrGenericSystem wraps unexpected lower-layer failures.
	ErrGenericSystem = apperrors.New("GENERIC_SYSTEM_ERROR", "Something went wrong, please try again later", http.StatusInternalServerError)
)

// translate maps collaborator errors onto the lifecycle taxonomy.
func translate(err error) *apperrors.AppError {
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, registry.ErrTokenNotFound):
		return ErrResourceNotFound
	case errors.Is(err, seats.ErrNotEnoughSpace):
		return ErrNotEnoughSpaceAvailable
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrResourceNotFound
	default:
		return ErrGenericSystem.WithInternal(err)
	}
}

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") ||
		strings.Contains(lower, "duplicate")
}
