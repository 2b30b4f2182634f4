package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/atelierhq/atelier/internal/apperr"
	"github.com/atelierhq/atelier/internal/device"
	"github.com/atelierhq/atelier/internal/docstore"
	"github.com/atelierhq/atelier/internal/flatten"
	"github.com/atelierhq/atelier/internal/gateway"
	"github.com/atelierhq/atelier/internal/mailer"
	"github.com/atelierhq/atelier/internal/obs"
	"github.com/atelierhq/atelier/internal/principal"
	"github.com/atelierhq/atelier/internal/query"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) login(kind principal.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body credentials
		if err := decodeBody(r, &body); err != nil {
			writeError(w, err)
			return
		}
		if body.Email == "" {
			writeError(w, apperr.New("missing_email", "Missing email", http.StatusBadRequest))
			return
		}
		if body.Password == "" {
			writeError(w, apperr.New("missing_password", "Missing password", http.StatusBadRequest))
			return
		}

		p, err := a.principals.FindByCredentials(r.Context(), kind, body.Email, body.Password)
		if err != nil {
			writeError(w, err)
			return
		}
		if p.Status() != "active" {
			writeError(w, apperr.DisabledAccount())
			return
		}

		ua, ip := gateway.ClientInfo(r)
		raw, err := principal.IssueAuthToken(a.codec, p, device.NewAccessRecord(ua, ip, time.Time{}))
		if err != nil {
			writeError(w, err)
			return
		}
		if err := a.principals.Save(r.Context(), p); err != nil {
			writeError(w, err)
			return
		}

		spec := query.Parse(r.URL.Query())
		writeJSON(w, http.StatusOK, map[string]any{
			"token": raw,
			"user":  principal.Sanitize(p, spec.Populate, spec.Select),
		})
	}
}

// logout removes the current device from the trusted list. Persisting
// the removal is best effort: the caller always gets a success, but a
// failed write is still logged and counted.
func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	auth, ok := gateway.FromContext(r.Context())
	if !ok {
		writeError(w, apperr.MissingAuthorization())
		return
	}
	p := auth.Principal

	ua, ip := gateway.ClientInfo(r)
	request := device.NewAccessRecord(ua, ip, time.Time{})
	p.SetAccess(device.Remove(request, p.Access()))

	if err := a.principals.Save(r.Context(), p); err != nil {
		obs.SwallowedPersistFailure("logout")
		obs.Error("logout persist failed", err, map[string]any{"principal": p.ID()})
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (a *API) getMe(w http.ResponseWriter, r *http.Request) {
	auth, ok := gateway.FromContext(r.Context())
	if !ok {
		writeError(w, apperr.MissingAuthorization())
		return
	}
	spec := query.Parse(r.URL.Query())
	writeJSON(w, http.StatusOK, principal.Sanitize(auth.Principal, spec.Populate, spec.Select))
}

// updateMe deep-merges the (possibly flattened) body into the caller's
// own record. Password changes go through the hashing path.
func (a *API) updateMe(w http.ResponseWriter, r *http.Request) {
	auth, ok := gateway.FromContext(r.Context())
	if !ok {
		writeError(w, apperr.MissingAuthorization())
		return
	}
	p := auth.Principal

	var body map[string]any
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	updates := flatten.Unflatten(body)

	password, hasPassword := updates["password"].(string)
	delete(updates, "password")

	p.Doc = docstore.Document(flatten.Merge(p.Doc, updates))
	if err := a.principals.Save(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	if hasPassword && password != "" {
		if err := a.principals.UpdatePassword(r.Context(), p, password); err != nil {
			writeError(w, err)
			return
		}
	}

	spec := query.Parse(r.URL.Query())
	writeJSON(w, http.StatusOK, principal.Sanitize(p, spec.Populate, spec.Select))
}

func (a *API) forgotPassword(kind principal.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body credentials
		if err := decodeBody(r, &body); err != nil {
			writeError(w, err)
			return
		}
		if body.Email == "" {
			writeError(w, apperr.New("missing_email", "Missing Email", http.StatusBadRequest))
			return
		}

		p, err := a.principals.FindByEmail(r.Context(), kind, body.Email)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				writeError(w, apperr.New("invalid_email", "Invalid Email", http.StatusBadRequest))
				return
			}
			writeError(w, err)
			return
		}

		raw, err := principal.IssueResetToken(a.codec, p)
		if err != nil {
			writeError(w, err)
			return
		}

		link := a.cfg.Auth.ClientURL + "/auth/reset-password?resetPasswordToken=" + url.QueryEscape(raw)
		if err := a.mail.Send(mailer.ResetPassword(p.Email(), p.FirstName(), link)); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{})
	}
}

// resetPassword runs behind ResetAuth, so the context principal was
// loaded from a verified reset token.
func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	auth, ok := gateway.FromContext(r.Context())
	if !ok {
		writeError(w, apperr.MissingAuthorization())
		return
	}

	var body struct {
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirmPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Password == "" || body.ConfirmPassword == "" {
		writeError(w, apperr.New("missing_passwords", "Missing Passwords", http.StatusBadRequest))
		return
	}
	if body.Password != body.ConfirmPassword {
		writeError(w, apperr.New("passwords_do_not_match", "Passwords Do Not Match", http.StatusBadRequest))
		return
	}

	if err := a.principals.UpdatePassword(r.Context(), auth.Principal, body.Password); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

// register creates a member account, assigns the default Member role,
// issues a first auth token, and seeds a contact entry best effort.
func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var body docstore.Document
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if password, _ := body["password"].(string); password == "" {
		writeError(w, apperr.New("missing_password", "Missing password", http.StatusBadRequest))
		return
	}

	if _, ok := body["role"].(string); !ok {
		role, err := a.principals.RoleByName(r.Context(), "Member")
		if err == nil {
			body["role"] = role.ID
		} else if !errors.Is(err, docstore.ErrNotFound) {
			writeError(w, err)
			return
		}
	}

	p, err := a.principals.Create(r.Context(), principal.KindMember, body)
	if err != nil {
		writeError(w, err)
		return
	}

	ua, ip := gateway.ClientInfo(r)
	raw, err := principal.IssueAuthToken(a.codec, p, device.NewAccessRecord(ua, ip, time.Time{}))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.principals.Save(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}

	if _, err := a.store.Collection("contacts").Insert(r.Context(), docstore.Document{"email": p.Email()}); err != nil {
		obs.SwallowedPersistFailure("register_contact")
		obs.Error("contact seed failed", err, map[string]any{"email": p.Email()})
	}

	if err := a.mail.Send(mailer.MemberWelcome(p.Email(), p.FirstName())); err != nil {
		obs.Error("welcome email failed", err, map[string]any{"email": p.Email()})
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"token": raw,
		"user":  principal.Sanitize(p, nil, nil),
	})
}
