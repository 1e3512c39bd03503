package status

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/mickaelvieira/dpop-oidc-client-go/internal/dpop"
)

const (
	CookieName = "dpop-client-session"
)

func NewCookieStore(secret []byte) *sessions.CookieStore {
	store := sessions.NewCookieStore(secret)
	store.Options.HttpOnly = true
	store.Options.SameSite = http.SameSiteLaxMode
	return store
}

// Logouter ends the active session.
type Logouter interface {
	Logout(ctx context.Context) error
}

func New(s *sessions.CookieStore, cell *Cell, p *Poller, l Logouter, key *dpop.ProofKey) *Handlers {
	return &Handlers{
		Session: s,
		Status:  cell,
		Poller:  p,
		Logout:  l,
		Key:     key,
	}
}

type Handlers struct {
	Session *sessions.CookieStore
	Status  *Cell
	Poller  *Poller
	Logout  Logouter
	Key     *dpop.ProofKey
}

func NewRouter(h *Handlers) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", h.Home()).Methods("GET")
	router.HandleFunc("/status", h.StatusJSON()).Methods("GET")
	router.HandleFunc("/check", h.CheckNow()).Methods("POST")
	router.HandleFunc("/logout", h.LogoutNow()).Methods("POST")
	router.HandleFunc("/jwks", h.JWKS()).Methods("GET")
	return router
}

func (h *Handlers) addFlash(w http.ResponseWriter, r *http.Request, m string) {
	sess, err := h.Session.Get(r, CookieName)
	if err != nil {
		slog.Error(err.Error())
		return
	}

	sess.AddFlash(m)

	if err := sess.Save(r, w); err != nil {
		slog.Error(err.Error())
		return
	}
}

func (h *Handlers) getFlash(w http.ResponseWriter, r *http.Request) string {
	sess, err := h.Session.Get(r, CookieName)
	if err != nil {
		slog.Error(err.Error())
		return ""
	}

	var msg string
	if m := sess.Flashes(); len(m) > 0 {
		msg = fmt.Sprintf(`<article>%s</article>`, html.EscapeString(fmt.Sprint(m[0])))
	}

	if err := sess.Save(r, w); err != nil {
		slog.Error(err.Error())
	}

	return msg
}

func (h *Handlers) Home() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg := h.getFlash(w, r)
		s := h.Status.Get()

		color := "crimson"
		if s.Authorized {
			color = "lawngreen"
		}

		checked := "never"
		if s.Checked {
			checked = s.CheckedAt.Format("2006-01-02 15:04:05")
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		w.Write(fmt.Appendf(nil, `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <meta http-equiv="refresh" content="30">
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/@picocss/pico@2/css/pico.classless.purple.min.css">
  <title>DPoP OIDC Client</title>
</head>
<body>
<header>
	<hgroup>
		<h1>DPoP OIDC Client</h1>
	</hgroup>
</header>
<main>
	%s
	<article>
		<h3 id="status" style="color: %s">%s</h3>
		<p>Last check: %s</p>
		<p>%s</p>
		<form action="/check" method="post">
			<input type="submit" value="Check now" />
		</form>
		<form action="/logout" method="post">
			<input type="submit" value="Logout" />
		</form>
	</article>
</main>
</body>
</html>
`, msg, color, s.Label(), checked, html.EscapeString(s.Error)))
	}
}

func (h *Handlers) StatusJSON() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := json.Marshal(h.Status.Get())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(b)
	}
}

func (h *Handlers) CheckNow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// a check may need an interactive login, so it runs on the poller
		if h.Poller.Trigger() {
			h.addFlash(w, r, "Check requested")
		} else {
			h.addFlash(w, r, "A check is already pending")
		}

		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func (h *Handlers) LogoutNow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.Logout.Logout(r.Context()); err != nil {
			slog.Error("failed to delete session", "error", err)
			h.addFlash(w, r, "Logout failed: "+err.Error())
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}

		h.Status.Set(State{})
		h.addFlash(w, r, "Logged out")

		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

// JWKS publishes the public proof key, for servers that register it.
func (h *Handlers) JWKS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Key == nil {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}

		pub, err := h.Key.PublicJWK()
		if err != nil {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}

		jwk, err := json.Marshal(pub)
		if err != nil {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write(fmt.Appendf(nil, `{"keys":[%s]}`, jwk))
	}
}
