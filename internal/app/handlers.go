package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"driveadmin-go/internal/auth"

	"golang.org/x/crypto/bcrypt"
)

const sessionDuration = 24 * time.Hour

//
// Authentication Handlers
//

const loginPage = `<!DOCTYPE html>
<html>
<head><title>Drive Admin - Login</title></head>
<body>
<h1>Drive Admin</h1>
<form method="POST" action="/login">
  <label>Username <input type="text" name="username"></label>
  <label>Password <input type="password" name="password"></label>
  <button type="submit">Sign in</button>
</form>
</body>
</html>`

// handleLogin renders the login form and verifies submitted credentials
// against the configured admin account.
func (a *Application) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, loginPage)
	case http.MethodPost:
		a.handleLoginSubmit(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *Application) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form submission", http.StatusBadRequest)
		return
	}

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	if username != a.Config.Admin.Username ||
		bcrypt.CompareHashAndPassword([]byte(a.Config.Admin.PasswordHash), []byte(password)) != nil {
		a.Logger.Printf("Failed login attempt for username %q", username)
		http.Error(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}

	sessionID, err := a.SessionStore.Create(r.Context(), username, sessionDuration)
	if err != nil {
		a.Logger.Printf("Failed to create session: %v", err)
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "session_id",
		Value:    sessionID,
		Expires:  time.Now().Add(sessionDuration),
		HttpOnly: true,
		Path:     "/",
	})

	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// handleLogout clears the user's session.
func (a *Application) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie("session_id")
	if err != nil {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	_ = a.SessionStore.Delete(r.Context(), cookie.Value)

	http.SetCookie(w, &http.Cookie{
		Name:     "session_id",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

//
// OAuth Handlers
//

// handleAuthURL returns the Google authorization URL for the signed-in user.
func (a *Application) handleAuthURL(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "Could not identify user")
		return
	}

	url, err := a.Auth.StartAuthorization(r.Context(), userID)
	if err != nil {
		a.Logger.Printf("Failed to build authorization URL for user %s: %v", userID, err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to generate authorization URL")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// handleAuthCallback handles the redirect from Google after user consent.
// It exchanges the authorization code for a credential and stores it.
func (a *Application) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		a.Logger.Printf("Authorization denied at provider: %s", errCode)
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		http.Error(w, "Invalid request: missing code or state", http.StatusBadRequest)
		return
	}

	userID, err := a.Auth.HandleCallback(r.Context(), code, state)
	if err != nil {
		a.Logger.Printf("Auth callback error: %v", err)
		if errors.Is(err, auth.ErrInvalidState) {
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		}
		http.Error(w, "Authentication failed", http.StatusInternalServerError)
		return
	}

	a.Logger.Printf("Stored Drive credential for user %s", userID)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// handleDisconnect deletes the stored Drive credential for the signed-in
// user, forcing re-consent on the next connect.
func (a *Application) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := getUserIDFromContext(r)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "Could not identify user")
		return
	}

	if err := a.Auth.Disconnect(r.Context(), userID); err != nil {
		a.Logger.Printf("Failed to disconnect user %s: %v", userID, err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to disconnect Drive account")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

//
// Application Handlers
//

// handleDashboard is a protected handler that displays a welcome message
// to the authenticated user.
func (a *Application) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r)
	if !ok {
		http.Error(w, "Could not identify user", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "Welcome, %s!", userID)
}

// handleDriveAbout returns the Drive account summary for the signed-in
// user, exercising the full token supply path.
func (a *Application) handleDriveAbout(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "Could not identify user")
		return
	}

	about, err := a.Drive.About(r.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthorized) {
			writeJSONError(w, http.StatusUnauthorized, "Drive account is not connected")
			return
		}
		a.Logger.Printf("Failed to fetch drive info for user %s: %v", userID, err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to fetch Drive account info")
		return
	}

	writeJSON(w, http.StatusOK, about)
}

//
// Helpers
//

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
