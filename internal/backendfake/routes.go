package backendfake

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-course-storefront/users"
)

func (b *Backend) initRoutes() {
	b.mux.HandleFunc("POST "+APIPrefix+"/auth/login", b.handleLogin)
	b.mux.HandleFunc("POST "+APIPrefix+"/auth/refresh", b.handleRefresh)
	b.mux.HandleFunc("POST "+APIPrefix+"/auth/logout", b.handleLogout)
	b.mux.HandleFunc("GET "+APIPrefix+"/auth/status", b.authenticated(b.handleStatus))

	payments := APIPrefix + b.opts.PaymentsPath
	b.mux.HandleFunc("POST "+payments+"/ready", b.authenticated(b.handleReady))
	b.mux.HandleFunc("POST "+payments+"/approve", b.authenticated(b.handleApprove))
	b.mux.HandleFunc("POST "+payments+"/{id}/cancel", b.authenticated(b.handleCancel))

	b.mux.HandleFunc("GET "+APIPrefix+"/v1/orders/history/{memberId}", b.authenticated(b.handleHistory))

	b.mux.HandleFunc("PUT "+APIPrefix+"/v1/shopping-cart", b.authenticated(b.handleCartAdd))
	b.mux.HandleFunc("DELETE "+APIPrefix+"/v1/shopping-cart", b.authenticated(b.handleCartRemove))
	b.mux.HandleFunc("GET "+APIPrefix+"/v1/shopping-cart/{memberId}", b.authenticated(b.handleCartGet))
}

type memberHandler func(w http.ResponseWriter, r *http.Request, memberID int64)

// authenticated rejects requests without a current access token using the configured expiry status
func (b *Backend) authenticated(next memberHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memberID, ok := b.memberFromAccess(r)
		if !ok {
			writeError(w, b.opts.ExpiryStatus, "access token expired")
			return
		}
		next(w, r, memberID)
	}
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := b.users.GetByEmail(creds.Email)
	if err != nil || account.Blocked || !account.CheckPassword(creds.Password) {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	if err := b.issueAccess(w, account.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	b.issueRefresh(w, account.ID)
	writeData(w, http.StatusOK, account.Identity)
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.refreshCalls.Add(1)
	if status := b.runHook(func() func() int { return b.refreshHook }); status != 0 {
		writeError(w, status, "refresh rejected")
		return
	}

	cookie, err := r.Cookie(refreshCookie)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing refresh token")
		return
	}

	b.lock.Lock()
	memberID, ok := b.refreshTokens[cookie.Value]
	b.lock.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	account, err := b.users.GetByID(memberID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown member")
		return
	}
	if err := b.issueAccess(w, memberID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, account.Identity)
}

func (b *Backend) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(refreshCookie); err == nil {
		b.lock.Lock()
		delete(b.refreshTokens, cookie.Value)
		b.lock.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: accessCookie, Value: "", Path: "/", MaxAge: -1})
	http.SetCookie(w, &http.Cookie{Name: refreshCookie, Value: "", Path: "/", MaxAge: -1})
	writeData(w, http.StatusOK, map[string]bool{"loggedOut": true})
}

func (b *Backend) handleStatus(w http.ResponseWriter, _ *http.Request, memberID int64) {
	account, err := b.users.GetByID(memberID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown member")
		return
	}
	writeData(w, http.StatusOK, account.Identity)
}

type readyRequest struct {
	MemberID       int64   `json:"memberId"`
	LectureIDs     []int64 `json:"lectureIds"`
	PartnerOrderID string  `json:"partnerOrderId"`
	PartnerUserID  string  `json:"partnerUserId"`
	ItemName       string  `json:"itemName"`
	TotalAmount    int64   `json:"totalAmount"`
}

func (b *Backend) handleReady(w http.ResponseWriter, r *http.Request, memberID int64) {
	b.readyCalls.Add(1)
	if status := b.runHook(func() func() int { return b.readyHook }); status != 0 {
		writeError(w, status, "payment preparation rejected")
		return
	}

	var req readyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MemberID != memberID || req.TotalAmount <= 0 || len(req.LectureIDs) == 0 || req.PartnerOrderID == "" {
		writeError(w, http.StatusBadRequest, "invalid payment request")
		return
	}

	payment := &Payment{
		ID:         uuid.NewString(),
		MemberID:   memberID,
		Amount:     req.TotalAmount,
		ItemName:   req.ItemName,
		LectureIDs: req.LectureIDs,
		PgToken:    uuid.NewString(),
		Status:     "READY",
	}
	b.lock.Lock()
	b.payments[payment.ID] = payment
	b.lock.Unlock()

	b.hookLock.RLock()
	omitID, omitRedirect := b.omitPaymentID, b.omitRedirect
	b.hookLock.RUnlock()

	data := map[string]any{"tid": "T" + payment.ID[:8]}
	if !omitID {
		data["paymentId"] = payment.ID
	}
	if !omitRedirect {
		data[b.opts.RedirectField] = fmt.Sprintf("%s/%s", b.opts.PayerBaseURL, payment.ID)
	}
	writeData(w, http.StatusOK, data)
}

func (b *Backend) handleApprove(w http.ResponseWriter, r *http.Request, memberID int64) {
	b.approveCalls.Add(1)
	if status := b.runHook(func() func() int { return b.approveHook }); status != 0 {
		writeError(w, status, "payment approval rejected")
		return
	}

	var req struct {
		PaymentID string `json:"paymentId"`
		PgToken   string `json:"pgToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	payment, ok := b.payments[req.PaymentID]
	if !ok || payment.MemberID != memberID {
		writeError(w, http.StatusNotFound, "payment not found")
		return
	}
	if payment.Status != "READY" {
		writeError(w, http.StatusConflict, "payment already "+payment.Status)
		return
	}
	if payment.PgToken != req.PgToken {
		writeError(w, http.StatusBadRequest, "invalid pg token")
		return
	}
	payment.Status = "APPROVED"

	approvedAt := time.Now().UTC().Format(time.RFC3339)
	order, _ := json.Marshal(map[string]any{
		"paymentId":  payment.ID,
		"itemName":   payment.ItemName,
		"amount":     payment.Amount,
		"lectureIds": payment.LectureIDs,
		"approvedAt": approvedAt,
	})
	b.history[memberID] = append([]json.RawMessage{order}, b.history[memberID]...)
	b.carts[memberID] = nil

	writeData(w, http.StatusOK, map[string]any{
		"paymentId":   payment.ID,
		"status":      payment.Status,
		"totalAmount": payment.Amount,
		"approvedAt":  approvedAt,
	})
}

func (b *Backend) handleCancel(w http.ResponseWriter, r *http.Request, memberID int64) {
	b.cancelCalls.Add(1)

	b.lock.Lock()
	defer b.lock.Unlock()
	payment, ok := b.payments[r.PathValue("id")]
	if !ok || payment.MemberID != memberID {
		writeError(w, http.StatusNotFound, "payment not found")
		return
	}
	if payment.Status == "READY" {
		payment.Status = "CANCELLED"
	}
	writeData(w, http.StatusOK, map[string]string{"paymentId": payment.ID, "status": payment.Status})
}

func (b *Backend) handleHistory(w http.ResponseWriter, r *http.Request, memberID int64) {
	if !ownsPath(r, memberID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	b.lock.Lock()
	orders := append([]json.RawMessage{}, b.history[memberID]...)
	b.lock.Unlock()
	writeData(w, http.StatusOK, orders)
}

type cartRequest struct {
	MemberID  int64 `json:"memberId"`
	LectureID int64 `json:"lectureId"`
}

func (b *Backend) decodeCartRequest(w http.ResponseWriter, r *http.Request, memberID int64) (cartRequest, bool) {
	var req cartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LectureID == 0 {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.MemberID != memberID {
		writeError(w, http.StatusForbidden, "forbidden")
		return req, false
	}
	return req, true
}

func (b *Backend) handleCartAdd(w http.ResponseWriter, r *http.Request, memberID int64) {
	req, ok := b.decodeCartRequest(w, r, memberID)
	if !ok {
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	for _, item := range b.carts[memberID] {
		if item.ID == req.LectureID {
			writeError(w, http.StatusConflict, "already in cart")
			return
		}
	}
	b.carts[memberID] = append(b.carts[memberID], CartItem{
		ID:    req.LectureID,
		Title: fmt.Sprintf("Lecture %d", req.LectureID),
		Price: 1000 * req.LectureID,
	})
	writeData(w, http.StatusOK, map[string]int64{"lectureId": req.LectureID})
}

func (b *Backend) handleCartRemove(w http.ResponseWriter, r *http.Request, memberID int64) {
	req, ok := b.decodeCartRequest(w, r, memberID)
	if !ok {
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	items := b.carts[memberID]
	for i, item := range items {
		if item.ID == req.LectureID {
			b.carts[memberID] = append(items[:i:i], items[i+1:]...)
			writeData(w, http.StatusOK, map[string]int64{"lectureId": req.LectureID})
			return
		}
	}
	writeError(w, http.StatusNotFound, "not in cart")
}

func (b *Backend) handleCartGet(w http.ResponseWriter, r *http.Request, memberID int64) {
	if !ownsPath(r, memberID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	b.lock.Lock()
	items := append([]CartItem{}, b.carts[memberID]...)
	b.lock.Unlock()
	writeData(w, http.StatusOK, map[string]any{"lectureList": items})
}

// SeedCart puts lectures in a member's cart without going through the API
func (b *Backend) SeedCart(memberID int64, items ...CartItem) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.carts[memberID] = append(b.carts[memberID], items...)
}

// Account returns the stored account for a member
func (b *Backend) Account(memberID int64) (*users.Account, error) {
	return b.users.GetByID(memberID)
}

func (b *Backend) runHook(get func() func() int) int {
	b.hookLock.RLock()
	hook := get()
	b.hookLock.RUnlock()
	if hook == nil {
		return 0
	}
	return hook()
}

func ownsPath(r *http.Request, memberID int64) bool {
	id, err := strconv.ParseInt(r.PathValue("memberId"), 10, 64)
	return err == nil && id == memberID
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
