package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/custodian/internal/transport"
	"github.com/vultisig/custodian/internal/types"
	"github.com/vultisig/custodian/internal/vault"
	"github.com/vultisig/custodian/service"
)

type Server struct {
	host        string
	port        int64
	vault       *vault.Vault
	sealer      *transport.Sealer
	wallets     *service.WalletService
	endpoints   *service.EndpointService
	backups     *service.BackupService
	authService *service.AuthService
	sdClient    *statsd.Client
	logger      *logrus.Logger
}

// NewServer returns a new server. backups and sdClient may be nil.
func NewServer(host string,
	port int64,
	v *vault.Vault,
	sealer *transport.Sealer,
	wallets *service.WalletService,
	endpoints *service.EndpointService,
	backups *service.BackupService,
	authService *service.AuthService,
	sdClient *statsd.Client,
	logger *logrus.Logger) *Server {
	return &Server{
		host:        host,
		port:        port,
		vault:       v,
		sealer:      sealer,
		wallets:     wallets,
		endpoints:   endpoints,
		backups:     backups,
		authService: authService,
		sdClient:    sdClient,
		logger:      logger,
	}
}

// Router builds the echo instance with every route registered.
func (s *Server) Router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("2M")) // set maximum allowed size for a request body to 2M
	e.Use(s.statsdMiddleware)
	e.Use(middleware.CORS())
	limiterStore := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{Rate: 5, Burst: 30, ExpiresIn: 5 * time.Minute},
	)
	e.Use(middleware.RateLimiter(limiterStore))

	e.GET("/ping", s.Ping)

	transportGroup := e.Group("/transport")
	transportGroup.GET("/public-key", s.GetPublicKey)
	transportGroup.POST("/register", s.RegisterSession)

	vaultGroup := e.Group("/vault")
	vaultGroup.GET("/status", s.GetVaultStatus)
	vaultGroup.POST("/init", s.InitVault)
	vaultGroup.POST("/unlock", s.UnlockVault)
	vaultGroup.POST("/lock", s.LockVault, s.AuthMiddleware)
	vaultGroup.POST("/change-password", s.ChangePassword, s.AuthMiddleware)

	e.POST("/auth/refresh", s.RefreshToken)

	walletGroup := e.Group("/wallets", s.AuthMiddleware)
	walletGroup.POST("", s.CreateWallets)
	walletGroup.GET("", s.ListWallets)
	walletGroup.POST("/export", s.ExportWallets)
	walletGroup.PUT("/:id", s.UpdateWallet)
	walletGroup.DELETE("/:id", s.DeleteWallet)
	walletGroup.POST("/:id/secrets", s.GetWalletSecrets)

	groupsGroup := e.Group("/groups", s.AuthMiddleware)
	groupsGroup.POST("", s.CreateGroup)
	groupsGroup.GET("", s.ListGroups)
	groupsGroup.PUT("/:id", s.UpdateGroup)
	groupsGroup.DELETE("/:id", s.DeleteGroup)

	rpcGroup := e.Group("/rpc", s.AuthMiddleware)
	rpcGroup.POST("/endpoints", s.AddEndpoint)
	rpcGroup.GET("/:chain/select", s.SelectEndpoint)
	rpcGroup.GET("/:chain/endpoints", s.ListEndpoints)

	// backups are only available when block storage is configured. Restore targets an
	// uninitialized vault, so no token can exist for it yet.
	if s.backups != nil {
		e.POST("/backups/restore", s.RestoreBackup)
		backupGroup := e.Group("/backups", s.AuthMiddleware)
		backupGroup.POST("", s.CreateBackup)
		backupGroup.GET("", s.ListBackups)
	}
	return e
}

// StartServer serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) StartServer(ctx context.Context) error {
	e := s.Router()
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(fmt.Sprintf("%s:%d", s.host, s.port))
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("fail to shutdown server, err: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Ping(c echo.Context) error {
	return c.String(http.StatusOK, "Custodian is running")
}

func (s *Server) GetPublicKey(c echo.Context) error {
	pem, err := s.sealer.PublicKeyPEM()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, types.PublicKeyResponse{PublicKeyPEM: pem})
}

func (s *Server) RegisterSession(c echo.Context) error {
	var req types.RegisterSessionRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: fail to parse request, err: %v", service.ErrInvalidRequest, err)
	}
	if err := req.IsValid(); err != nil {
		return fmt.Errorf("%w: %v", service.ErrInvalidRequest, err)
	}
	token, err := s.sealer.RegisterSession(req.EncryptedKeyB64)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, types.RegisterSessionResponse{Token: token})
}

// resolvePassword unwraps the RSA-OAEP form when it is given.
func (s *Server) resolvePassword(clear, encryptedB64 string) (string, error) {
	if encryptedB64 != "" {
		return s.sealer.OpenAsymmetric(encryptedB64)
	}
	return clear, nil
}

func (s *Server) GetVaultStatus(c echo.Context) error {
	initialized, err := s.vault.IsInitialized(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, types.VaultStatus{
		Initialized: initialized,
		Unlocked:    s.vault.IsUnlocked(),
	})
}

func (s *Server) issueToken(c echo.Context) error {
	token, err := s.authService.GenerateToken()
	if err != nil {
		return fmt.Errorf("fail to generate token, err: %w", err)
	}
	return c.JSON(http.StatusOK, types.UnlockResponse{Unlocked: true, AccessToken: token})
}

func (s *Server) InitVault(c echo.Context) error {
	var req types.PasswordRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: fail to parse request, err: %v", service.ErrInvalidRequest, err)
	}
	if err := req.IsValid(); err != nil {
		return fmt.Errorf("%w: %v", service.ErrInvalidRequest, err)
	}
	pw, err := s.resolvePassword(req.Password, req.EncryptedPasswordB64)
	if err != nil {
		return err
	}
	if err := s.vault.Initialize(c.Request().Context(), pw); err != nil {
		return err
	}
	return s.issueToken(c)
}

func (s *Server) UnlockVault(c echo.Context) error {
	var req types.PasswordRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: fail to parse request, err: %v", service.ErrInvalidRequest, err)
	}
	if err := req.IsValid(); err != nil {
		return fmt.Errorf("%w: %v", service.ErrInvalidRequest, err)
	}
	pw, err := s.resolvePassword(req.Password, req.EncryptedPasswordB64)
	if err != nil {
		return err
	}
	ok, err := s.vault.Unlock(c.Request().Context(), pw)
	if !ok {
		if err != nil {
			return err
		}
		return c.JSON(http.StatusUnauthorized, types.UnlockResponse{Unlocked: false})
	}
	if err != nil {
		// the vault is unlocked; the legacy fields are retried on the next unlock
		s.logger.WithError(err).Error("legacy field migration failed")
	}
	return s.issueToken(c)
}

func (s *Server) LockVault(c echo.Context) error {
	s.vault.Lock()
	if err := s.authService.Revoke(); err != nil {
		return fmt.Errorf("fail to revoke tokens, err: %w", err)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) ChangePassword(c echo.Context) error {
	var req types.ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: fail to parse request, err: %v", service.ErrInvalidRequest, err)
	}
	if err := req.IsValid(); err != nil {
		return fmt.Errorf("%w: %v", service.ErrInvalidRequest, err)
	}
	oldPw, err := s.resolvePassword(req.OldPassword, req.EncryptedOldPasswordB64)
	if err != nil {
		return err
	}
	newPw, err := s.resolvePassword(req.NewPassword, req.EncryptedNewPasswordB64)
	if err != nil {
		return err
	}
	if err := s.vault.ChangePassword(c.Request().Context(), oldPw, newPw); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) RefreshToken(c echo.Context) error {
	token, err := s.authService.RefreshToken(bearerToken(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, types.TokenResponse{AccessToken: token})
}

func (s *Server) CreateWallets(c echo.Context) error {
	var req types.CreateWalletsRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: fail to parse request, err: %v", service.ErrInvalidRequest, err)
	}
	result, err := s.wallets.CreateWallets(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

func (s *Server) ListWallets(c echo.Context) error {
	filter := types.WalletFilter{ChainType: c.QueryParam("chain_type")}
	if raw := c.QueryParam("group_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("%w: group_id is not a uuid", service.ErrInvalidRequest)
		}
		filter.GroupID = &id
	}
	wallets, err := s.wallets.ListWallets(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, wallets)
}

func pathID(c echo.Context, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s id is not a uuid", service.ErrInvalidRequest, what)
	}
	return id, nil
}

func walletID(c echo.Context) (uuid.UUID, error) {
	return pathID(c, "wallet")
}

func (s *Server) UpdateWallet(c echo.Context) error {
	id, err := walletID(c)
	if err != nil {
		return err
	}
	var req types.UpdateWalletRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: fail to parse request, err: %v", service.ErrInvalidRequest, err)
	}
	info, err := s.wallets.UpdateWallet(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) DeleteWallet(c echo.Context) error {
	id, err := walletID(c)
	if err != nil {
		return err
	}
	if err := s.wallets.DeleteWallet(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) CreateGroup(c echo.Context) error {
	var req types.CreateGroupRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: fail to parse request, err: %v", service.ErrInvalidRequest, err)
	}
	group, err := s.wallets.CreateGroup(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, group)
}

func (s *Server) ListGroups(c echo.Context) error {
	groups, err := s.wallets.ListGroups(c.Request().Context(), c.QueryParam("chain_type"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, groups)
}

func (s *Server) UpdateGroup(c echo.Context) error {
	id, err := pathID(c, "group")
	if err != nil {
		return err
	}
	var req types.UpdateGroupRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: fail to parse request, err: %v", service.ErrInvalidRequest, err)
	}
	group, err := s.wallets.UpdateGroup(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, group)
}

// DeleteGroup also deletes every wallet in the group and its sub-groups.
func (s *Server) DeleteGroup(c echo.Context) error {
	id, err := pathID(c, "group")
	if err != nil {
		return err
	}
	removed, err := s.wallets.DeleteGroup(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, types.DeleteGroupResponse{WalletsDeleted: removed})
}

func (s *Server) GetWalletSecrets(c echo.Context) error {
	id, err := walletID(c)
	if err != nil {
		return err
	}
	var creds types.Credentials
	if err := c.Bind(&creds); err != nil {
		return fmt.Errorf("%w: fail to parse request, err: %v", service.ErrInvalidRequest, err)
	}
	secrets, err := s.wallets.GetWalletSecrets(c.Request().Context(), types.WalletSecretsRequest{
		Credentials: creds,
		IDs:         []uuid.UUID{id},
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, secrets[0])
}

func (s *Server) ExportWallets(c echo.Context) error {
	var req types.WalletSecretsRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: fail to parse request, err: %v", service.ErrInvalidRequest, err)
	}
	secrets, err := s.wallets.ExportWallets(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, secrets)
}

func (s *Server) SelectEndpoint(c echo.Context) error {
	chainKey := strings.TrimSpace(c.Param("chain"))
	url, err := s.endpoints.SelectEndpoint(c.Request().Context(), chainKey)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, types.SelectEndpointResponse{ChainKey: chainKey, URL: url})
}

func (s *Server) ListEndpoints(c echo.Context) error {
	endpoints, err := s.endpoints.Endpoints(c.Request().Context(), c.Param("chain"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, endpoints)
}

func (s *Server) AddEndpoint(c echo.Context) error {
	var req types.AddEndpointRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: fail to parse request, err: %v", service.ErrInvalidRequest, err)
	}
	endpoint, err := s.endpoints.AddEndpoint(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, endpoint)
}

func (s *Server) CreateBackup(c echo.Context) error {
	key, err := s.backups.Backup(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, types.BackupResponse{Key: key})
}

func (s *Server) ListBackups(c echo.Context) error {
	keys, err := s.backups.ListBackups(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, keys)
}

func (s *Server) RestoreBackup(c echo.Context) error {
	var req types.RestoreBackupRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: fail to parse request, err: %v", service.ErrInvalidRequest, err)
	}
	if err := req.IsValid(); err != nil {
		return fmt.Errorf("%w: %v", service.ErrInvalidRequest, err)
	}
	n, err := s.backups.Restore(c.Request().Context(), req.Key)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, types.RestoreBackupResponse{Wallets: n})
}
