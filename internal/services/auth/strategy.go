package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/platewise/mealsync/internal/models"
	"github.com/platewise/mealsync/internal/remote"
	syncsvc "github.com/platewise/mealsync/internal/services/sync"
)

// Action names one queued auth operation.
type Action string

const (
	ActionRegister       Action = "register"
	ActionUpdateProfile  Action = "updateProfile"
	ActionChangePassword Action = "changePassword"
	ActionLogout         Action = "logout"
	ActionDeleteAccount  Action = "deleteAccount"
)

// Request is the auth domain's queue envelope: one action plus the
// fields that action needs.
type Request struct {
	Action   Action        `json:"action"`
	Register *RegisterData `json:"register,omitempty"`
	Profile  *ProfileData  `json:"profile,omitempty"`
	Password *PasswordData `json:"password,omitempty"`
}

// RegisterData carries queued registration credentials. They ride in
// the payload because the drain may run much later than the signup.
type RegisterData struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

// ProfileData carries changed profile fields. Zero values mean
// unchanged.
type ProfileData struct {
	DisplayName  string `json:"display_name,omitempty"`
	CalorieGoal  int    `json:"calorie_goal,omitempty"`
	DietaryNotes string `json:"dietary_notes,omitempty"`
}

// PasswordData carries a queued password rotation.
type PasswordData struct {
	Current string `json:"current"`
	New     string `json:"new"`
}

// Strategy syncs queued account operations. Registration hitting an
// existing account falls back to login with the queued credentials,
// and tearing down an already-invalid session counts as done; both are
// alternate successes, not failures.
type Strategy struct {
	svc *Service
}

// Domain returns the domain this strategy owns.
func (st *Strategy) Domain() models.Domain { return models.DomainAuth }

// Priority returns the drain priority. Auth goes first: later domains
// may need the session it establishes.
func (st *Strategy) Priority() int { return 1 }

// MaxRetries returns the retry ceiling for auth payloads.
func (st *Strategy) MaxRetries() int { return 5 }

// Validate checks the request envelope before it is enqueued.
func (st *Strategy) Validate(data interface{}) error {
	req, ok := data.(*Request)
	if !ok {
		return &models.ValidationError{Domain: models.DomainAuth, Field: "data", Reason: fmt.Sprintf("unexpected payload type %T", data)}
	}

	switch req.Action {
	case ActionRegister:
		if req.Register == nil {
			return &models.ValidationError{Domain: models.DomainAuth, Field: "register", Reason: "required"}
		}
		if !strings.Contains(req.Register.Email, "@") {
			return &models.ValidationError{Domain: models.DomainAuth, Field: "email", Reason: "invalid email address"}
		}
		if len(req.Register.Password) < minPasswordLen {
			return &models.ValidationError{Domain: models.DomainAuth, Field: "password", Reason: "too short"}
		}
	case ActionUpdateProfile:
		if req.Profile == nil {
			return &models.ValidationError{Domain: models.DomainAuth, Field: "profile", Reason: "required"}
		}
	case ActionChangePassword:
		if req.Password == nil || req.Password.Current == "" || len(req.Password.New) < minPasswordLen {
			return &models.ValidationError{Domain: models.DomainAuth, Field: "password", Reason: "current and new password required"}
		}
	case ActionLogout, ActionDeleteAccount:
		// No body.
	default:
		return &models.ValidationError{Domain: models.DomainAuth, Field: "action", Reason: fmt.Sprintf("unknown action %q", req.Action)}
	}
	return nil
}

// Prepare serializes the request into a payload.
func (st *Strategy) Prepare(data interface{}) (*models.SyncPayload, error) {
	req, ok := data.(*Request)
	if !ok {
		return nil, fmt.Errorf("unexpected auth payload type %T", data)
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal auth request: %w", err)
	}
	return models.NewSyncPayload(models.DomainAuth, raw, st.Priority(), st.MaxRetries()), nil
}

// Upload replays one queued auth action against the backend.
func (st *Strategy) Upload(ctx context.Context, p *models.SyncPayload) (*syncsvc.UploadResult, error) {
	var req Request
	if err := json.Unmarshal(p.Data, &req); err != nil {
		return nil, fmt.Errorf("decode auth payload: %w", err)
	}

	switch req.Action {
	case ActionRegister:
		return st.register(ctx, &req)

	case ActionUpdateProfile:
		update := remote.ProfileUpdate{
			DisplayName:  req.Profile.DisplayName,
			CalorieGoal:  req.Profile.CalorieGoal,
			DietaryNotes: req.Profile.DietaryNotes,
		}
		if err := st.svc.api.UpdateProfile(ctx, &update); err != nil {
			return nil, err
		}
		return &syncsvc.UploadResult{}, nil

	case ActionChangePassword:
		change := remote.PasswordChange{
			CurrentPassword: req.Password.Current,
			NewPassword:     req.Password.New,
		}
		if err := st.svc.api.ChangePassword(ctx, &change); err != nil {
			return nil, err
		}
		return &syncsvc.UploadResult{}, nil

	case ActionLogout:
		if err := st.svc.api.Logout(ctx); err != nil {
			if sessionGone(err) {
				return &syncsvc.UploadResult{Conflict: true}, nil
			}
			return nil, err
		}
		return &syncsvc.UploadResult{}, nil

	case ActionDeleteAccount:
		if err := st.svc.api.DeleteAccount(ctx); err != nil {
			if sessionGone(err) {
				return &syncsvc.UploadResult{Conflict: true}, nil
			}
			return nil, err
		}
		return &syncsvc.UploadResult{}, nil

	default:
		return nil, fmt.Errorf("unknown auth action %q", req.Action)
	}
}

// register creates the account, or logs in with the queued credentials
// when the account already exists.
func (st *Strategy) register(ctx context.Context, req *Request) (*syncsvc.UploadResult, error) {
	wire := remote.RegisterRequest{
		Email:       req.Register.Email,
		Password:    req.Register.Password,
		DisplayName: req.Register.DisplayName,
	}

	sess, err := st.svc.api.Register(ctx, &wire)
	if err != nil {
		var apiErr *models.APIError
		if !errors.As(err, &apiErr) || !apiErr.Conflict() {
			return nil, err
		}

		st.svc.logger.WithField("email", req.Register.Email).Info("Account exists, logging in instead")
		creds := remote.Credentials{Email: req.Register.Email, Password: req.Register.Password}
		sess, err = st.svc.api.Login(ctx, &creds)
		if err != nil {
			return nil, err
		}
		return &syncsvc.UploadResult{ServerID: sess.UserID, Conflict: true, Detail: sess}, nil
	}

	return &syncsvc.UploadResult{ServerID: sess.UserID, Detail: sess}, nil
}

// OnSuccess reconciles local auth state after a drained action.
func (st *Strategy) OnSuccess(ctx context.Context, res *syncsvc.UploadResult, p *models.SyncPayload) error {
	var req Request
	if err := json.Unmarshal(p.Data, &req); err != nil {
		return fmt.Errorf("decode auth payload: %w", err)
	}

	switch req.Action {
	case ActionRegister:
		if sess, ok := res.Detail.(*remote.Session); ok && sess != nil {
			st.svc.adoptSession(sessionToken(sess, req.Register.Email))
		}
		return st.svc.mutateProfile(ctx, func(profile *models.Profile) {
			if profile.Email == "" {
				profile.Email = req.Register.Email
			}
			if res.ServerID != "" {
				profile.UserID = res.ServerID
			}
			profile.Synced = true
		})

	case ActionUpdateProfile:
		return st.svc.mutateProfile(ctx, func(profile *models.Profile) {
			profile.Synced = true
		})

	case ActionLogout, ActionDeleteAccount:
		st.svc.dropSession()
		return nil
	}
	return nil
}

// OnFailure records the attempt; queue bookkeeping handles the retry.
func (st *Strategy) OnFailure(err error, p *models.SyncPayload) {
	st.svc.logger.WithError(err).WithField("payload_id", p.ID).Debug("Auth sync attempt failed")
}

// sessionGone reports auth failures that mean the session is already
// invalid server-side, so signout and teardown have nothing to do.
func sessionGone(err error) bool {
	var apiErr *models.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return apiErr.Conflict()
}
