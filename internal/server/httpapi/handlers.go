package httpapi

import (
	"net/http"
	"net/netip"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/livesync/internal/errs"
	"github.com/and161185/livesync/internal/model"
)

type versionResponse struct {
	BackendVersion string `json:"backend_version"`
}

func (a *api) getVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, versionResponse{BackendVersion: a.version})
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerResponse struct {
	AccountID uuid.UUID `json:"account_id"`
}

func (a *api) postRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decode(w, r, &req); err != nil || req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "empty username/password"})
		return
	}
	id, err := a.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{AccountID: id})
}

type loginResponse struct {
	AccountID    uuid.UUID         `json:"account_id"`
	AccessToken  model.AccessToken `json:"access_token"`
	RefreshToken []byte            `json:"refresh_token"`
}

func (a *api) postLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decode(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad request"})
		return
	}
	id, pair, err := a.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{AccountID: id, AccessToken: pair.Access, RefreshToken: pair.Refresh})
}

type accountState struct {
	State       model.AccountState      `json:"state"`
	Permissions model.Permissions       `json:"permissions"`
	Visibility  model.ProfileVisibility `json:"visibility"`
	SyncVersion model.SyncVersion       `json:"sync_version"`
}

func toAccountState(acc model.Account) accountState {
	return accountState{
		State:       acc.State,
		Permissions: acc.Permissions,
		Visibility:  acc.Visibility,
		SyncVersion: acc.SyncVersion,
	}
}

func (a *api) getAccountState(w http.ResponseWriter, r *http.Request) {
	if !a.components.Account {
		a.fail(w, r, errs.ErrComponentDisabled)
		return
	}
	id, _ := AccountIDFromCtx(r.Context())
	acc, err := a.accounts.Account(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountState(acc))
}

type visibilityRequest struct {
	Visibility model.ProfileVisibility `json:"visibility"`
}

func (a *api) putProfileVisibility(w http.ResponseWriter, r *http.Request) {
	if !a.components.Account {
		a.fail(w, r, errs.ErrComponentDisabled)
		return
	}
	var req visibilityRequest
	if err := decode(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad visibility"})
		return
	}
	id, _ := AccountIDFromCtx(r.Context())
	acc, err := a.accounts.AccountChanged(r.Context(), id, func(acc *model.Account) {
		acc.Visibility = req.Visibility
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountState(acc))
}

type checkTokenRequest struct {
	Token model.AccessToken `json:"token"`
	// Address, when set, must match the IP of the live connection.
	Address string `json:"address,omitempty"`
}

type checkTokenResponse struct {
	AccountID uuid.UUID `json:"account_id"`
}

func (a *api) postCheckAccessToken(w http.ResponseWriter, r *http.Request) {
	var req checkTokenRequest
	if err := decode(w, r, &req); err != nil || req.Token == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad request"})
		return
	}

	var (
		id uuid.UUID
		ok bool
	)
	if req.Address != "" {
		addr, err := netip.ParseAddr(req.Address)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad address"})
			return
		}
		id, ok = a.tokens.ResolveWithAddress(req.Token, addr)
	} else {
		id, ok = a.tokens.Resolve(req.Token)
	}
	if !ok {
		a.fail(w, r, errs.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, checkTokenResponse{AccountID: id})
}

type syncChangedRequest struct {
	AccountID uuid.UUID `json:"account_id"`
	// DataType is a chat category id. Ignored when NewMessage is set.
	DataType   model.SyncDataType `json:"data_type"`
	NewMessage bool               `json:"new_message,omitempty"`
}

type syncChangedResponse struct {
	Version *model.SyncVersion `json:"version,omitempty"`
}

func (a *api) postSyncChanged(w http.ResponseWriter, r *http.Request) {
	if !a.components.Chat {
		a.fail(w, r, errs.ErrComponentDisabled)
		return
	}
	var req syncChangedRequest
	if err := decode(w, r, &req); err != nil || req.AccountID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad request"})
		return
	}
	caller, _ := CallerFromCtx(r.Context())

	if req.NewMessage {
		if err := a.accounts.MessageReceived(r.Context(), req.AccountID); err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, syncChangedResponse{})
		return
	}

	if !req.DataType.IsChat() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "not a chat data type"})
		return
	}
	v, err := a.accounts.CategoryChanged(r.Context(), req.AccountID, req.DataType)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.log.Debug("sync changed",
		zap.String("caller", caller), zap.Stringer("account", req.AccountID), zap.Stringer("data_type", req.DataType))
	writeJSON(w, http.StatusOK, syncChangedResponse{Version: &v})
}
