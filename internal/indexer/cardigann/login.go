package cardigann

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/slipstream/searchd/internal/indexer/parser"
	"github.com/slipstream/searchd/internal/indexer/request"
	"github.com/slipstream/searchd/internal/indexer/types"
)

// SessionTTL bounds how long a login is trusted before it is repeated.
const SessionTTL = 30 * time.Minute

// Session is the authenticated state of one indexer.
type Session struct {
	Cookies map[string]string
	Values  map[string]string // captured by selectorinputs
	Header  http.Header       // sent on every request, e.g. a bearer token
	Expires time.Time
}

// Valid reports whether the session can still be used at now.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && (s.Expires.IsZero() || now.Before(s.Expires))
}

func newSession() *Session {
	return &Session{Cookies: map[string]string{}, Values: map[string]string{}, Header: http.Header{}}
}

// LoginHandler manages authentication with indexer sites. Concurrent
// callers share one login attempt.
type LoginHandler struct {
	def    *Definition
	exec   Executor
	engine *TemplateEngine
	logger zerolog.Logger
	now    func() time.Time

	group   singleflight.Group
	mu      sync.RWMutex
	session *Session
}

// NewLoginHandler creates a new login handler.
func NewLoginHandler(def *Definition, exec Executor, engine *TemplateEngine, logger zerolog.Logger) *LoginHandler {
	return &LoginHandler{
		def:    def,
		exec:   exec,
		engine: engine,
		logger: logger.With().Str("component", "login").Str("definition", def.ID).Logger(),
		now:    time.Now,
	}
}

// Session returns the current session, or nil.
func (h *LoginHandler) Session() *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.session
}

// Restore installs previously persisted cookies as the session.
func (h *LoginHandler) Restore(cookies map[string]string, expires time.Time) {
	if len(cookies) == 0 {
		return
	}
	s := newSession()
	maps.Copy(s.Cookies, cookies)
	s.Expires = expires
	h.mu.Lock()
	h.session = s
	h.mu.Unlock()
}

// Invalidate drops the session so the next request logs in again.
func (h *LoginHandler) Invalidate() {
	h.mu.Lock()
	h.session = nil
	h.mu.Unlock()
}

// Ensure returns a valid session, logging in when there is none.
func (h *LoginHandler) Ensure(ctx context.Context, baseURL string, config map[string]string) (*Session, error) {
	if !h.def.HasLogin() {
		return newSession(), nil
	}
	if s := h.Session(); s.Valid(h.now()) {
		return s, nil
	}
	return h.Login(ctx, baseURL, config)
}

// Login performs the definition's login flow and stores the resulting
// session. Concurrent callers for the same handler wait on one attempt.
func (h *LoginHandler) Login(ctx context.Context, baseURL string, config map[string]string) (*Session, error) {
	v, err, shared := h.group.Do("login", func() (any, error) {
		s, err := h.authenticate(ctx, baseURL, config)
		if err != nil {
			return nil, err
		}
		s.Expires = h.now().Add(SessionTTL)
		h.mu.Lock()
		h.session = s
		h.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		h.logger.Debug().Msg("Joined in-flight login")
	}
	return v.(*Session), nil
}

func (h *LoginHandler) authenticate(ctx context.Context, baseURL string, config map[string]string) (*Session, error) {
	login := h.def.Login
	s := newSession()
	tctx := NewTemplateContext()
	tctx.Config = config
	tctx.Session = s.Values

	var err error
	switch strings.ToLower(login.Method) {
	case "post":
		err = h.loginPOST(ctx, baseURL, login, tctx, s)
	case "form":
		err = h.loginForm(ctx, baseURL, login, tctx, s)
	case "cookie":
		err = h.loginCookie(login, tctx, s)
	case "get", "oneurl":
		err = h.loginGET(ctx, baseURL, login, tctx, s)
	case "token":
		err = h.loginToken(ctx, baseURL, login, tctx, s)
	default:
		err = types.NewConfigError("unsupported login method: %s", login.Method)
	}
	if err != nil {
		return nil, err
	}

	if err := h.Test(ctx, baseURL, s); err != nil {
		return nil, err
	}
	h.logger.Info().Str("method", login.Method).Int("cookies", len(s.Cookies)).Msg("Logged in")
	return s, nil
}

func (h *LoginHandler) evalInputs(inputs map[string]string, tctx *TemplateContext) (url.Values, error) {
	form := url.Values{}
	for key, tmpl := range inputs {
		val, err := h.engine.Evaluate(tmpl, tctx)
		if err != nil {
			return nil, types.NewConfigError("login input %s: %v", key, err)
		}
		form.Set(key, val)
	}
	return form, nil
}

func (h *LoginHandler) evalHeaders(req *request.IndexerRequest, tctx *TemplateContext) error {
	for key, tmpl := range h.def.Login.Headers {
		val, err := h.engine.Evaluate(string(tmpl), tctx)
		if err != nil {
			return types.NewConfigError("login header %s: %v", key, err)
		}
		req.Header.Set(key, val)
	}
	return nil
}

// loginPOST submits the configured inputs to the login path.
func (h *LoginHandler) loginPOST(ctx context.Context, baseURL string, login *LoginBlock, tctx *TemplateContext, s *Session) error {
	form, err := h.evalInputs(login.Inputs, tctx)
	if err != nil {
		return err
	}
	target := login.SubmitPath
	if target == "" {
		target = login.Path
	}
	req := request.NewPostForm(resolveURL(baseURL, target), form)
	if err := h.evalHeaders(req, tctx); err != nil {
		return err
	}
	h.logger.Debug().Str("url", req.URL).Msg("Performing POST login")
	return h.submit(ctx, req, login, s)
}

// loginForm fetches the login page, carries over the form's own inputs
// and values captured by selectorinputs, then submits it.
func (h *LoginHandler) loginForm(ctx context.Context, baseURL string, login *LoginBlock, tctx *TemplateContext, s *Session) error {
	pageURL := resolveURL(baseURL, login.Path)
	h.logger.Debug().Str("url", pageURL).Msg("Fetching login page")

	page, err := h.exec.Execute(ctx, &request.IndexerRequest{Method: http.MethodGet, URL: pageURL, Header: http.Header{}})
	if err != nil {
		return err
	}
	if err := parser.CheckStatus(page); err != nil {
		return err
	}
	maps.Copy(s.Cookies, page.Cookies)

	doc, err := newHTMLDocumentFromBytes([]byte(page.Text()))
	if err != nil {
		return err
	}
	form := doc.form(login.Form)
	if form.Length() == 0 {
		return types.NewAuthError("login form not found: "+login.Form, nil)
	}

	values := url.Values{}
	form.Find("input[name]").Each(func(_ int, in *goquery.Selection) {
		name, _ := in.Attr("name")
		typ, _ := in.Attr("type")
		if strings.EqualFold(typ, "checkbox") || strings.EqualFold(typ, "radio") {
			if _, checked := in.Attr("checked"); !checked {
				return
			}
		}
		val, _ := in.Attr("value")
		values.Set(name, val)
	})

	for name, sd := range login.SelectorInputs {
		node, ok := doc.Find(sd.Selector)
		if !ok {
			if sd.Optional {
				continue
			}
			return types.NewAuthError("login page is missing "+sd.Selector, nil)
		}
		val, _ := node.Text(sd.Attribute, "")
		if val, err = ApplyFiltersWithContext(val, sd.Filters, h.engine, tctx); err != nil {
			return types.NewConfigError("selectorinput %s: %v", name, err)
		}
		s.Values[name] = val
		values.Set(name, val)
	}

	inputs, err := h.evalInputs(login.Inputs, tctx)
	if err != nil {
		return err
	}
	for k, v := range inputs {
		values[k] = v
	}

	action := login.SubmitPath
	if action == "" {
		action, _ = form.Attr("action")
	}
	base := page.URL
	if base == "" {
		base = pageURL
	}
	target := resolveURL(base, action)

	req := request.NewPostForm(target, values)
	req.Header.Set("Referer", pageURL)
	req.SetCookies(s.Cookies)
	if err := h.evalHeaders(req, tctx); err != nil {
		return err
	}
	h.logger.Debug().Str("url", target).Msg("Submitting login form")
	return h.submit(ctx, req, login, s)
}

// loginCookie trusts a cookie string supplied in the settings.
func (h *LoginHandler) loginCookie(login *LoginBlock, tctx *TemplateContext, s *Session) error {
	raw := ""
	if tmpl, ok := login.Inputs["cookie"]; ok {
		val, err := h.engine.Evaluate(tmpl, tctx)
		if err != nil {
			return types.NewConfigError("cookie input: %v", err)
		}
		raw = val
	} else {
		raw = tctx.Config["cookie"]
	}
	cookies := parseCookieString(raw)
	if len(cookies) == 0 {
		return types.NewAuthError("no cookie provided for cookie authentication", nil)
	}
	for _, c := range cookies {
		s.Cookies[c.Name] = c.Value
	}
	h.logger.Debug().Int("cookies", len(cookies)).Msg("Using configured cookies")
	return nil
}

// loginGET requests the login path with the inputs in the query string.
func (h *LoginHandler) loginGET(ctx context.Context, baseURL string, login *LoginBlock, tctx *TemplateContext, s *Session) error {
	query, err := h.evalInputs(login.Inputs, tctx)
	if err != nil {
		return err
	}
	req, err := request.NewGet(resolveURL(baseURL, login.Path), query)
	if err != nil {
		return err
	}
	if err := h.evalHeaders(req, tctx); err != nil {
		return err
	}
	return h.submit(ctx, req, login, s)
}

// loginToken posts the inputs as JSON and keeps the token from the reply.
func (h *LoginHandler) loginToken(ctx context.Context, baseURL string, login *LoginBlock, tctx *TemplateContext, s *Session) error {
	inputs, err := h.evalInputs(login.Inputs, tctx)
	if err != nil {
		return err
	}
	payload := make(map[string]string, len(inputs))
	for k := range inputs {
		payload[k] = inputs.Get(k)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req := request.NewPostJSON(resolveURL(baseURL, login.Path), body)
	if err := h.evalHeaders(req, tctx); err != nil {
		return err
	}

	resp, err := h.exec.Execute(ctx, req)
	if err != nil {
		return err
	}
	if err := parser.CheckStatus(resp); err != nil {
		if types.KindOf(err) == types.KindAuthentication {
			return types.NewAuthError("token request rejected", err)
		}
		return err
	}
	doc, err := NewJSONDocument(resp.Body)
	if err != nil {
		return err
	}
	if err := h.checkErrors(doc, resp.Text(), login.Error); err != nil {
		return err
	}
	node, ok := doc.Find(login.Token.Selector)
	if !ok {
		return types.NewAuthError("login response carried no token", nil)
	}
	token, _ := node.Text("", "")

	header := login.Token.Header
	if header == "" {
		header = "Authorization"
	}
	s.Header.Set(header, login.Token.Prefix+token)
	if login.Token.Variable != "" {
		s.Values[login.Token.Variable] = token
	}
	maps.Copy(s.Cookies, resp.Cookies)
	return nil
}

// submit executes a login request and checks the reply for errors.
func (h *LoginHandler) submit(ctx context.Context, req *request.IndexerRequest, login *LoginBlock, s *Session) error {
	resp, err := h.exec.Execute(ctx, req)
	if err != nil {
		return err
	}
	if err := parser.CheckStatus(resp); err != nil {
		return err
	}
	maps.Copy(s.Cookies, resp.Cookies)

	if len(login.Error) > 0 {
		doc, err := NewHTMLDocument(resp.Text())
		if err != nil {
			return err
		}
		if err := h.checkErrors(doc, resp.Text(), login.Error); err != nil {
			return err
		}
	}
	h.logger.Debug().Int("status", resp.StatusCode).Str("url", resp.URL).Msg("Login request completed")
	return nil
}

// checkErrors returns an authentication error when any error selector
// matches the login reply.
func (h *LoginHandler) checkErrors(doc Document, text string, selectors []ErrorSelector) error {
	if msg, ok := matchErrors(doc, text, selectors); ok {
		return types.NewAuthError("login failed: "+msg, nil)
	}
	return nil
}

// matchErrors reports the message of the first matching error selector.
func matchErrors(doc Document, text string, selectors []ErrorSelector) (string, bool) {
	for _, es := range selectors {
		var hit Node
		switch {
		case es.Selector != "":
			node, ok := doc.Find(es.Selector)
			if !ok {
				continue
			}
			hit = node
		case es.Contains != "":
			if !strings.Contains(text, es.Contains) {
				continue
			}
		default:
			continue
		}

		msg := ""
		if es.Message != nil {
			if es.Message.Text != "" {
				msg = es.Message.Text
			} else if es.Message.Selector != "" {
				if node, ok := doc.Find(es.Message.Selector); ok {
					msg, _ = node.Text("", "")
				}
			}
		}
		if msg == "" && hit != nil {
			msg, _ = hit.Text("", "")
		}
		if msg == "" {
			msg = "error reported by site"
		}
		return strings.TrimSpace(msg), true
	}
	return "", false
}

// Test verifies that the session is authenticated.
func (h *LoginHandler) Test(ctx context.Context, baseURL string, s *Session) error {
	login := h.def.Login
	if login == nil || (login.Test.Path == "" && login.Test.Selector == "") {
		return nil
	}
	path := login.Test.Path
	if path == "" {
		path = "/"
	}

	req := &request.IndexerRequest{Method: http.MethodGet, URL: resolveURL(baseURL, path), Header: s.Header.Clone()}
	req.SetCookies(s.Cookies)
	resp, err := h.exec.Execute(ctx, req)
	if err != nil {
		return err
	}
	if err := parser.CheckStatus(resp); err != nil {
		return types.NewAuthError("login test failed", err)
	}
	if h.redirectedToLogin(resp) {
		return types.NewAuthError("login test was redirected to the login page", nil)
	}
	if login.Test.Selector != "" {
		doc, err := NewHTMLDocument(resp.Text())
		if err != nil {
			return err
		}
		if _, ok := doc.Find(login.Test.Selector); !ok {
			return types.NewAuthError("login test failed: selector "+login.Test.Selector+" not found", nil)
		}
	}
	maps.Copy(s.Cookies, resp.Cookies)
	return nil
}

// NeedsLogin reports whether a search response shows the session has
// lapsed: a redirect to the login page, or an HTML page lacking the
// login test selector.
func (h *LoginHandler) NeedsLogin(resp *parser.IndexerResponse) bool {
	if !h.def.HasLogin() || strings.EqualFold(h.def.Login.Method, "cookie") && h.def.Login.Test.Selector == "" {
		return false
	}
	if h.redirectedToLogin(resp) {
		return true
	}
	sel := h.def.Login.Test.Selector
	if sel == "" || !strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "html") {
		return false
	}
	doc, err := NewHTMLDocument(resp.Text())
	if err != nil {
		return false
	}
	_, ok := doc.Find(sel)
	return !ok
}

func (h *LoginHandler) redirectedToLogin(resp *parser.IndexerResponse) bool {
	login := h.def.Login
	if login == nil || login.Path == "" || resp.URL == "" || resp.Request == nil {
		return false
	}
	final, err := url.Parse(resp.URL)
	if err != nil {
		return false
	}
	orig, err := url.Parse(resp.Request.URL)
	if err != nil {
		return false
	}
	loginPath := "/" + strings.TrimPrefix(strings.SplitN(login.Path, "?", 2)[0], "/")
	return final.Path != orig.Path && strings.HasSuffix(final.Path, loginPath)
}

// resolveURL resolves ref against base. Absolute refs are returned as is.
func resolveURL(base, ref string) string {
	if ref == "" {
		return base
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if r.IsAbs() {
		return r.String()
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	if !strings.HasSuffix(b.Path, "/") && !strings.Contains(b.Path, ".") {
		b.Path += "/"
	}
	return b.ResolveReference(r).String()
}

// parseCookieString parses a cookie string like "name1=value1; name2=value2".
func parseCookieString(cookieStr string) []*http.Cookie {
	var cookies []*http.Cookie
	for _, pair := range strings.Split(cookieStr, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		cookies = append(cookies, &http.Cookie{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	return cookies
}
