package aliyundrive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LoginFlow is the external QR-code login collaborator the bootstrap path
// delegates to when no refresh token is available from either the CLI or
// disk. The real interactive flow (poll Aliyun's QR endpoint, render the
// code, exchange the scan for a refresh token) is out of scope here; this
// interface is the seam that keeps the bootstrap path testable without it.
type LoginFlow interface {
	// Login blocks until a refresh token is obtained or the flow fails.
	Login(ctx context.Context) (refreshToken string, err error)
}

// NonInteractiveLogin is used when stdout isn't a terminal, or when no
// LoginFlow was configured: it always fails with actionable guidance.
type NonInteractiveLogin struct{}

func (NonInteractiveLogin) Login(context.Context) (string, error) {
	return "", fmt.Errorf("%w: no refresh token available; pass --refresh-token or populate workdir/refresh_token", ErrNoCredential)
}

type credentials struct {
	refreshToken string
	accessToken  string // empty until the first refresh succeeds
}

// RefreshResult is what a forced refresh reports back to callers that
// need the new expiry or drive id.
type RefreshResult struct {
	AccessToken    string
	RefreshToken   string
	ExpiresIn      int64
	DefaultDriveID string
}

// TokenManager is C1: holds the refresh/access token pair, periodically
// refreshes, persists the refresh token, and serves fresh access tokens.
type TokenManager struct {
	transport *Transport
	workdir   string
	login     LoginFlow

	mu    sync.RWMutex // many concurrent token reads, occasional exclusive refresh; a waiting refresh blocks new readers
	creds credentials

	driveID string

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewTokenManager performs the synchronous first refresh described in
// step 2 and, on success, spawns the background refresher
// (step 3). It returns only once a usable access token and drive id are
// known, breaking the token/refresher/drive-id cycle: refresh first,
// capture drive id from that result, only then start the loop.
func NewTokenManager(ctx context.Context, transport *Transport, cliRefreshToken, workdir string, login LoginFlow, driveType DriveType) (*TokenManager, error) {
	if login == nil {
		login = NonInteractiveLogin{}
	}
	tm := &TokenManager{
		transport: transport,
		workdir:   workdir,
		login:     login,
		stopCh:    make(chan struct{}),
	}

	fileToken, _ := readRefreshTokenFile(workdir)
	refreshToken := strings.TrimSpace(cliRefreshToken)
	if refreshToken == "" {
		refreshToken = fileToken
	}
	if refreshToken == "" {
		tok, err := login.Login(ctx)
		if err != nil {
			return nil, err
		}
		refreshToken = tok
	}
	tm.creds = credentials{refreshToken: refreshToken}

	result, err := tm.refreshWithRetry(ctx, refreshToken, fileToken)
	if err != nil {
		return nil, fmt.Errorf("startup token refresh failed: %w", err)
	}

	drive, err := tm.fetchDriveID(ctx, driveType)
	if err != nil {
		return nil, fmt.Errorf("get drive id failed: %w", err)
	}
	tm.driveID = drive
	logrus.WithField("drive_id", drive).Info("💻 found drive")

	delay := result.ExpiresIn - 200
	if delay < 0 {
		delay = 0
	}
	go tm.refreshLoop(ctx, delay)

	return tm, nil
}

// AccessToken returns the current access token, failing if none has ever
// succeeded.
func (tm *TokenManager) AccessToken() (string, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	if tm.creds.accessToken == "" {
		return "", ErrNoCredential
	}
	return tm.creds.accessToken, nil
}

// DriveID returns the default drive id discovered at startup.
func (tm *TokenManager) DriveID() string { return tm.driveID }

// RefreshNow forces a refresh and returns the new expiry and drive id;
// called by the requester (C2) on a reactive 401.
func (tm *TokenManager) RefreshNow(ctx context.Context) (RefreshResult, error) {
	tm.mu.RLock()
	current := tm.creds.refreshToken
	tm.mu.RUnlock()
	return tm.refreshWithRetry(ctx, current, "")
}

func (tm *TokenManager) refreshToken() string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.creds.refreshToken
}

// refreshWithRetry retries an initial refresh up to 10 attempts with
// 1-second spacing, retrying on connect/timeout/429; if the in-memory
// token differs from the on-disk one, swap in the on-disk token once.
func (tm *TokenManager) refreshWithRetry(ctx context.Context, refreshToken, fileToken string) (RefreshResult, error) {
	var lastErr error
	triedFileFallback := fileToken == "" || fileToken == refreshToken
	for attempt := 0; attempt < 10; attempt++ {
		res, err := tm.doRefresh(ctx, refreshToken)
		if err == nil {
			tm.mu.Lock()
			tm.creds.refreshToken = res.RefreshToken
			tm.creds.accessToken = res.AccessToken
			tm.mu.Unlock()
			if perr := tm.persistRefreshToken(res.RefreshToken); perr != nil {
				logrus.WithError(perr).Error("🙅 save refresh token failed")
			}
			return res, nil
		}
		lastErr = err

		if !triedFileFallback {
			triedFileFallback = true
			refreshToken = fileToken
			logrus.Warn("📝 refresh_token argument rejected, retrying with workdir/refresh_token")
			continue
		}

		if !isRetryableRefreshErr(err) {
			break
		}
		logrus.WithError(err).Warn("🐛 refresh token failed, will wait and retry")
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return RefreshResult{}, ctx.Err()
		}
	}
	return RefreshResult{}, lastErr
}

func isRetryableRefreshErr(err error) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	if e.Kind == KindTransport {
		return true
	}
	return e.Kind == KindUpstream && e.Status == 429
}

func (tm *TokenManager) doRefresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	body := refreshTokenRequest{
		RefreshToken: refreshToken,
		GrantType:    "refresh_token",
		ClientID:     tm.transport.clientID,
		ClientSecret: tm.transport.clientSecret,
	}
	var resp refreshTokenResponse
	if err := tm.transport.postOAuth(ctx, "/oauth/access_token", body, &resp); err != nil {
		return RefreshResult{}, err
	}
	if resp.RefreshToken == "" || resp.AccessToken == "" {
		return RefreshResult{}, newErr(KindGeneralFailure, fmt.Errorf("empty token in refresh response"))
	}
	return RefreshResult{
		AccessToken:    resp.AccessToken,
		RefreshToken:   resp.RefreshToken,
		ExpiresIn:      resp.ExpiresIn,
		DefaultDriveID: resp.DefaultDriveID,
	}, nil
}

func (tm *TokenManager) fetchDriveID(ctx context.Context, driveType DriveType) (string, error) {
	var resp getDriveInfoResponse
	token, err := tm.AccessToken()
	if err != nil {
		return "", err
	}
	if err := tm.transport.postJSON(ctx, token, "/adrive/v1.0/user/getDriveInfo", struct{}{}, &resp, tm.RefreshNow); err != nil {
		return "", err
	}
	switch driveType {
	case DriveTypeResource:
		if resp.ResourceDriveID != "" {
			return resp.ResourceDriveID, nil
		}
		logrus.Warn("resource drive not found, using default drive instead")
	case DriveTypeBackup:
		if resp.BackupDriveID != "" {
			return resp.BackupDriveID, nil
		}
		logrus.Warn("backup drive not found, using default drive instead")
	}
	return resp.DefaultDriveID, nil
}

// refreshLoop sleeps expires_in - 200s then refreshes again, logging and
// continuing on failure — a subsequent 401-triggered refresh will retry.
func (tm *TokenManager) refreshLoop(ctx context.Context, firstDelay int64) {
	delay := time.Duration(firstDelay) * time.Second
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tm.stopCh:
			return
		case <-timer.C:
			res, err := tm.RefreshNow(ctx)
			next := 7000 * time.Second
			if err != nil {
				logrus.WithError(err).Error("refresh token failed")
			} else {
				logrus.Debug("💻 refresh token")
				d := res.ExpiresIn - 200
				if d < 0 {
					d = 0
				}
				next = time.Duration(d) * time.Second
			}
			timer.Reset(next)
		}
	}
}

// Stop ends the background refresh loop.
func (tm *TokenManager) Stop() {
	tm.stopOnce.Do(func() { close(tm.stopCh) })
}

func (tm *TokenManager) persistRefreshToken(token string) error {
	if tm.workdir == "" {
		return nil
	}
	if err := os.MkdirAll(tm.workdir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(tm.workdir, "refresh_token")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(token), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readRefreshTokenFile(workdir string) (string, error) {
	if workdir == "" {
		return "", os.ErrNotExist
	}
	b, err := os.ReadFile(filepath.Join(workdir, "refresh_token"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
