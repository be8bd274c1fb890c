package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vultisig/custodian/chainhelper"
	"github.com/vultisig/custodian/internal/crypto"
	"github.com/vultisig/custodian/internal/securemem"
	"github.com/vultisig/custodian/internal/transport"
	"github.com/vultisig/custodian/internal/vault"
	"github.com/vultisig/custodian/service"
)

func (s *Server) statsdMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if s.sdClient == nil {
			return err
		}
		duration := time.Since(start).Milliseconds()

		// Send metrics to statsd
		_ = s.sdClient.Incr("http.requests", []string{"path:" + c.Path()}, 1)
		_ = s.sdClient.Timing("http.response_time", time.Duration(duration)*time.Millisecond, []string{"path:" + c.Path()}, 1)
		_ = s.sdClient.Incr("http.status."+fmt.Sprint(c.Response().Status), []string{"path:" + c.Path(), "method:" + c.Request().Method}, 1)

		return err
	}
}

func bearerToken(c echo.Context) string {
	token, _ := strings.CutPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
	return strings.TrimSpace(token)
}

func (s *Server) AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Missing Authorization header"})
		}
		if _, err := s.authService.ValidateToken(tokenStr); err != nil {
			s.logger.Warnf("fail to validate token, err: %v", err)
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		return next(c)
	}
}

// statusOf maps engine errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, vault.ErrWrongPassword),
		errors.Is(err, transport.ErrInvalidToken),
		errors.Is(err, transport.ErrAuthTagMismatch),
		errors.Is(err, service.ErrInvalidAccessToken):
		return http.StatusUnauthorized
	case errors.Is(err, vault.ErrNotInitialized),
		errors.Is(err, vault.ErrAlreadyInitialized),
		errors.Is(err, service.ErrDuplicateWallet),
		errors.Is(err, service.ErrDuplicateGroup),
		errors.Is(err, service.ErrPlaintextField):
		return http.StatusConflict
	case errors.Is(err, vault.ErrLocked):
		return http.StatusLocked
	case errors.Is(err, service.ErrWalletNotFound),
		errors.Is(err, service.ErrGroupNotFound),
		errors.Is(err, service.ErrBackupNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNoEndpointsAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, securemem.ErrIntegrity),
		errors.Is(err, securemem.ErrKeyUnavailable):
		return http.StatusInternalServerError
	case errors.Is(err, crypto.ErrFormat),
		errors.Is(err, transport.ErrUnsealed),
		errors.Is(err, transport.ErrNoSealingMode),
		errors.Is(err, transport.ErrDecrypt),
		errors.Is(err, vault.ErrEmptyPassword),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrAddressMismatch),
		errors.Is(err, service.ErrBackupVersion),
		errors.Is(err, chainhelper.ErrUnsupportedChain),
		errors.Is(err, chainhelper.ErrUnsupportedWordCount),
		errors.Is(err, chainhelper.ErrInvalidPrivateKey),
		errors.Is(err, chainhelper.ErrInvalidMnemonic),
		errors.Is(err, chainhelper.ErrInvalidIndex):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = c.JSON(he.Code, map[string]interface{}{"error": he.Message})
		return
	}
	status := statusOf(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.WithField("path", c.Path()).WithError(err).Error("request failed")
		message = http.StatusText(status)
	}
	_ = c.JSON(status, map[string]string{"error": message})
}
