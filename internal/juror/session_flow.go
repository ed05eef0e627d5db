package juror

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/api"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/session"
	"go.uber.org/zap"
)

const (
	messageLoginDisabled  = "Juror login is currently disabled by the administrator."
	messageFillLoginForm  = "Fill in first name, surname and administrator password."
	messageSessionExpired = "The session has expired. Please log in again."
)

// LoginForm is the juror's credential input.
type LoginForm struct {
	FirstName     string
	SurName       string
	AdminPassword string
}

// Bootstrap restores a stored session. A stored session is renewed first; any refresh
// failure discards it and returns to the login state.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	c.update(func(s *State) { s.Starting = true })

	stored, ok := c.sessions.ReadSession(ctx)
	if !ok || stored.Role != session.RoleJuror {
		c.update(func(s *State) { s.Starting = false })
		_ = c.CheckLoginStatus(ctx)
		return nil
	}

	if err := c.sessions.Refresh(ctx); err != nil {
		c.logger.Info("stored session not renewed",
			zap.String("operation", opBootstrap),
			zap.Int("status", api.StatusOf(err)))
		_ = c.sessions.Clear(ctx)
		c.update(func(s *State) { s.Starting = false })
		_ = c.CheckLoginStatus(ctx)
		return nil
	}

	refreshed, ok := c.sessions.ReadSession(ctx)
	if !ok {
		c.update(func(s *State) { s.Starting = false })
		_ = c.CheckLoginStatus(ctx)
		return nil
	}
	c.sessionReady(ctx, refreshed)
	return nil
}

// CheckLoginStatus loads whether juror login is enabled. A failed check leaves login enabled.
func (c *Coordinator) CheckLoginStatus(ctx context.Context) error {
	status, err := c.api.LoginStatus(ctx)
	if err != nil {
		c.logError(opLoginStatus, "request_failed", err)
		c.update(func(s *State) {
			s.LoginEnabled = true
			s.LoginStatusLoaded = true
		})
		return err
	}
	c.update(func(s *State) {
		s.LoginEnabled = status.Enabled
		s.LoginStatusLoaded = true
	})
	if !status.Enabled {
		c.notify(NoticeInfo, messageLoginDisabled)
	}
	return nil
}

// Login signs the juror in and starts synchronization.
func (c *Coordinator) Login(ctx context.Context, form LoginForm) error {
	request := api.LoginRequest{
		FirstName:     strings.TrimSpace(form.FirstName),
		SurName:       strings.TrimSpace(form.SurName),
		AdminPassword: form.AdminPassword,
	}

	c.mu.Lock()
	switch {
	case !c.state.LoginEnabled:
		c.notifyLocked(NoticeInfo, messageLoginDisabled)
		c.mu.Unlock()
		return ErrLoginDisabled
	case c.state.LoginInProgress:
		c.mu.Unlock()
		return ErrLoginInProgress
	}
	if err := c.validate.Struct(request); err != nil || strings.TrimSpace(request.AdminPassword) == "" {
		c.notifyLocked(NoticeError, messageFillLoginForm)
		c.mu.Unlock()
		return ErrIncompleteLoginForm
	}
	c.mutateLocked(func(s *State) { s.LoginInProgress = true })
	c.mu.Unlock()

	created, err := c.sessions.Login(ctx, request)
	if err != nil {
		c.logError(opLogin, "login_failed", err)
		c.update(func(s *State) { s.LoginInProgress = false })
		c.notify(NoticeError, api.MessageOf(err))
		return err
	}
	c.sessionReady(ctx, created)
	return nil
}

// Logout ends the session deliberately.
func (c *Coordinator) Logout(ctx context.Context) error {
	err := c.signOut(ctx)
	_ = c.CheckLoginStatus(ctx)
	return err
}

// forceLogout ends the session after an unrecoverable authentication failure.
func (c *Coordinator) forceLogout(ctx context.Context, message string) {
	_ = c.signOut(ctx)
	c.notify(NoticeSessionExpired, message)
	_ = c.CheckLoginStatus(ctx)
}

func (c *Coordinator) signOut(ctx context.Context) error {
	c.mu.Lock()
	c.shouldReconnect = false
	c.epoch++
	c.cancelReconnectLocked()
	c.pendingLive = nil
	c.mu.Unlock()

	if c.live != nil {
		c.live.Disconnect()
	}
	err := c.sessions.Clear(ctx)
	if err != nil {
		c.logError(opLogout, "clear_failed", err)
	}

	c.update(func(s *State) { *s = s.signedOut() })
	return err
}

func (c *Coordinator) sessionReady(ctx context.Context, ready session.Session) {
	c.mu.Lock()
	c.shouldReconnect = true
	c.mutateLocked(func(s *State) {
		s.Starting = false
		s.Authenticated = true
		s.LoginInProgress = false
		s.JurorDisplayName = ready.DisplayName()
		s.DataLoading = true
	})
	c.mu.Unlock()

	c.connectLive(ctx)
	_ = c.loadSnapshot(ctx, true)
}

// connectLive opens the live channel with the stored access token while a session is active.
func (c *Coordinator) connectLive(ctx context.Context) {
	if c.live == nil {
		return
	}
	c.mu.Lock()
	wanted := c.shouldReconnect
	c.mu.Unlock()
	if !wanted {
		return
	}
	current, ok := c.sessions.ReadSession(ctx)
	if !ok {
		return
	}
	if err := c.live.Connect(ctx, current.AccessToken); err != nil {
		c.logger.Info("live channel connect failed",
			zap.String("operation", opConnectLive),
			zap.String("reason", fmt.Sprint(err)))
	}
}
