package plugin

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"os"
	"path"
	"reflect"
	"runtime"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/liuran001/MusicPlayer-Go/core"
	"github.com/studio-b12/gowebdav"
	"github.com/traefik/yaegi/interp"
)

// ModulePrefix is the import path root of host capability modules.
const ModulePrefix = "musicfree/"

// HostOptions carries host facts exposed to plugins through env and process.
type HostOptions struct {
	AppVersion string
	Lang       string
	OS         string
}

func (o HostOptions) osName() string {
	if o.OS != "" {
		return o.OS
	}
	return runtime.GOOS
}

// hostEnv is everything one plugin interpreter can reach outside itself.
type hostEnv struct {
	http   *HTTPClient
	jar    http.CookieJar
	vars   func() map[string]string
	opts   HostOptions
	logger core.Logger
	ctx    func() context.Context
}

// Modules lists the import paths of every host capability module.
func Modules() []string {
	names := make([]string, 0, 11)
	for name := range (&hostEnv{}).exports() {
		names = append(names, strings.TrimSuffix(name, "/"+path.Base(name)))
	}
	sort.Strings(names)
	return names
}

func (h *hostEnv) exports() interp.Exports {
	return interp.Exports{
		ModulePrefix + "http/http":         h.httpModule(),
		ModulePrefix + "html/html":         htmlModule(),
		ModulePrefix + "qs/qs":             qsModule(),
		ModulePrefix + "entities/entities": entitiesModule(),
		ModulePrefix + "cookies/cookies":   h.cookiesModule(),
		ModulePrefix + "webdav/webdav":     webdavModule(),
		ModulePrefix + "hash/hash":         hashModule(),
		ModulePrefix + "env/env":           h.envModule(),
		ModulePrefix + "process/process":   h.processModule(),
		ModulePrefix + "console/console":   h.consoleModule(),
		ModulePrefix + "errs/errs":         errsModule(),
	}
}

func (h *hostEnv) context() context.Context {
	if h.ctx == nil {
		return context.Background()
	}
	return h.ctx()
}

func (h *hostEnv) httpModule() map[string]reflect.Value {
	do := func(req Request) (*Response, error) {
		if h.http == nil {
			return nil, errors.New("http unavailable")
		}
		return h.http.Do(h.context(), req)
	}
	return map[string]reflect.Value{
		"Request":  reflect.ValueOf((*Request)(nil)),
		"Response": reflect.ValueOf((*Response)(nil)),
		"Do":       reflect.ValueOf(do),
		"Get": reflect.ValueOf(func(rawURL string, headers map[string]string) (*Response, error) {
			return do(Request{Method: http.MethodGet, URL: rawURL, Headers: headers})
		}),
		"PostForm": reflect.ValueOf(func(rawURL string, form, headers map[string]string) (*Response, error) {
			return do(Request{Method: http.MethodPost, URL: rawURL, Form: form, Headers: headers})
		}),
		"PostJSON": reflect.ValueOf(func(rawURL string, body any, headers map[string]string) (*Response, error) {
			return do(Request{Method: http.MethodPost, URL: rawURL, JSON: body, Headers: headers})
		}),
	}
}

// Node is a plain-data view of one matched HTML element.
type Node struct {
	Text  string
	HTML  string
	Attrs map[string]string
}

func htmlModule() map[string]reflect.Value {
	return map[string]reflect.Value{
		"Node":   reflect.ValueOf((*Node)(nil)),
		"Select": reflect.ValueOf(SelectHTML),
		"Text": reflect.ValueOf(func(doc, selector string) (string, error) {
			nodes, err := SelectHTML(doc, selector)
			if err != nil || len(nodes) == 0 {
				return "", err
			}
			return nodes[0].Text, nil
		}),
		"Attr": reflect.ValueOf(func(doc, selector, name string) ([]string, error) {
			nodes, err := SelectHTML(doc, selector)
			if err != nil {
				return nil, err
			}
			values := make([]string, 0, len(nodes))
			for _, n := range nodes {
				if v, ok := n.Attrs[name]; ok {
					values = append(values, v)
				}
			}
			return values, nil
		}),
	}
}

// SelectHTML runs a CSS selector over doc.
func SelectHTML(doc, selector string) ([]Node, error) {
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return nil, err
	}
	var nodes []Node
	parsed.Find(selector).Each(func(_ int, s *goquery.Selection) {
		inner, _ := s.Html()
		node := Node{
			Text:  strings.TrimSpace(s.Text()),
			HTML:  inner,
			Attrs: make(map[string]string),
		}
		if raw := s.Get(0); raw != nil {
			for _, attr := range raw.Attr {
				node.Attrs[attr.Key] = attr.Val
			}
		}
		nodes = append(nodes, node)
	})
	return nodes, nil
}

func qsModule() map[string]reflect.Value {
	return map[string]reflect.Value{
		"Parse": reflect.ValueOf(func(s string) (map[string]string, error) {
			values, err := url.ParseQuery(strings.TrimPrefix(s, "?"))
			if err != nil {
				return nil, err
			}
			out := make(map[string]string, len(values))
			for k := range values {
				out[k] = values.Get(k)
			}
			return out, nil
		}),
		"Stringify": reflect.ValueOf(func(m map[string]any) string {
			values := url.Values{}
			for k, v := range m {
				values.Set(k, fmt.Sprint(v))
			}
			return values.Encode()
		}),
		"Escape":   reflect.ValueOf(url.QueryEscape),
		"Unescape": reflect.ValueOf(url.QueryUnescape),
	}
}

func entitiesModule() map[string]reflect.Value {
	return map[string]reflect.Value{
		"Decode": reflect.ValueOf(html.UnescapeString),
		"Encode": reflect.ValueOf(html.EscapeString),
	}
}

func (h *hostEnv) cookiesModule() map[string]reflect.Value {
	return map[string]reflect.Value{
		"Get": reflect.ValueOf(func(rawURL string) (map[string]string, error) {
			u, err := url.Parse(rawURL)
			if err != nil {
				return nil, err
			}
			out := make(map[string]string)
			if h.jar == nil {
				return out, nil
			}
			for _, c := range h.jar.Cookies(u) {
				out[c.Name] = c.Value
			}
			return out, nil
		}),
		"Set": reflect.ValueOf(func(rawURL string, values map[string]string) error {
			u, err := url.Parse(rawURL)
			if err != nil {
				return err
			}
			if h.jar == nil {
				return errors.New("cookie jar unavailable")
			}
			cookies := make([]*http.Cookie, 0, len(values))
			for name, value := range values {
				cookies = append(cookies, &http.Cookie{Name: name, Value: value, Path: "/"})
			}
			h.jar.SetCookies(u, cookies)
			return nil
		}),
	}
}

// WebDAVFile describes one remote entry.
type WebDAVFile struct {
	Name    string
	Path    string
	Size    int64
	IsDir   bool
	ModTime int64
}

// WebDAVClient is the WebDAV handle given to plugins.
type WebDAVClient struct {
	client *gowebdav.Client
	base   string
}

// NewWebDAVClient connects to a WebDAV root.
func NewWebDAVClient(uri, user, password string) *WebDAVClient {
	return &WebDAVClient{client: gowebdav.NewClient(uri, user, password), base: strings.TrimSuffix(uri, "/")}
}

// ReadDir lists a directory.
func (w *WebDAVClient) ReadDir(dir string) ([]WebDAVFile, error) {
	infos, err := w.client.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make([]WebDAVFile, 0, len(infos))
	for _, info := range infos {
		files = append(files, fileFromInfo(path.Join(dir, info.Name()), info))
	}
	return files, nil
}

// Stat describes one entry.
func (w *WebDAVClient) Stat(p string) (*WebDAVFile, error) {
	info, err := w.client.Stat(p)
	if err != nil {
		return nil, err
	}
	file := fileFromInfo(p, info)
	return &file, nil
}

// ReadText downloads a file as text.
func (w *WebDAVClient) ReadText(p string) (string, error) {
	data, err := w.client.Read(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteText uploads text to a file.
func (w *WebDAVClient) WriteText(p, data string) error {
	return w.client.Write(p, []byte(data), 0644)
}

// URL returns the absolute URL of p, suitable as a media source.
func (w *WebDAVClient) URL(p string) string {
	return w.base + "/" + strings.TrimPrefix(p, "/")
}

func fileFromInfo(p string, info os.FileInfo) WebDAVFile {
	return WebDAVFile{
		Name:    info.Name(),
		Path:    p,
		Size:    info.Size(),
		IsDir:   info.IsDir(),
		ModTime: info.ModTime().Unix(),
	}
}

func webdavModule() map[string]reflect.Value {
	return map[string]reflect.Value{
		"Client":    reflect.ValueOf((*WebDAVClient)(nil)),
		"File":      reflect.ValueOf((*WebDAVFile)(nil)),
		"NewClient": reflect.ValueOf(NewWebDAVClient),
	}
}

func hashModule() map[string]reflect.Value {
	return map[string]reflect.Value{
		"MD5": reflect.ValueOf(func(s string) string {
			sum := md5.Sum([]byte(s))
			return hex.EncodeToString(sum[:])
		}),
		"SHA1": reflect.ValueOf(func(s string) string {
			sum := sha1.Sum([]byte(s))
			return hex.EncodeToString(sum[:])
		}),
		"SHA256": reflect.ValueOf(func(s string) string {
			sum := sha256.Sum256([]byte(s))
			return hex.EncodeToString(sum[:])
		}),
		"HMACSHA256": reflect.ValueOf(func(key, msg string) string {
			mac := hmac.New(sha256.New, []byte(key))
			mac.Write([]byte(msg))
			return hex.EncodeToString(mac.Sum(nil))
		}),
		"Base64Encode": reflect.ValueOf(func(s string) string {
			return base64.StdEncoding.EncodeToString([]byte(s))
		}),
		"Base64Decode": reflect.ValueOf(func(s string) (string, error) {
			data, err := base64.StdEncoding.DecodeString(s)
			return string(data), err
		}),
	}
}

func (h *hostEnv) envModule() map[string]reflect.Value {
	osName := h.opts.osName()
	appVersion := h.opts.AppVersion
	lang := h.opts.Lang
	return map[string]reflect.Value{
		"UserVariables": reflect.ValueOf(func() map[string]string {
			if h.vars == nil {
				return map[string]string{}
			}
			vars := h.vars()
			if vars == nil {
				return map[string]string{}
			}
			return vars
		}),
		"OS":         reflect.ValueOf(&osName).Elem(),
		"AppVersion": reflect.ValueOf(&appVersion).Elem(),
		"Lang":       reflect.ValueOf(&lang).Elem(),
	}
}

func (h *hostEnv) processModule() map[string]reflect.Value {
	platform := h.opts.osName()
	version := h.opts.AppVersion
	return map[string]reflect.Value{
		"Platform": reflect.ValueOf(&platform).Elem(),
		"Version":  reflect.ValueOf(&version).Elem(),
		"Env": reflect.ValueOf(func() map[string]string {
			return map[string]string{
				"APP_VERSION": h.opts.AppVersion,
				"LANG":        h.opts.Lang,
			}
		}),
	}
}

func (h *hostEnv) consoleModule() map[string]reflect.Value {
	emit := func(level string) func(args ...any) {
		return func(args ...any) {
			if h.logger == nil {
				return
			}
			msg := strings.TrimSpace(fmt.Sprintln(args...))
			switch level {
			case "warn":
				h.logger.Warn(msg)
			case "error":
				h.logger.Error(msg)
			case "info":
				h.logger.Info(msg)
			default:
				h.logger.Debug(msg)
			}
		}
	}
	return map[string]reflect.Value{
		"Log":   reflect.ValueOf(emit("debug")),
		"Info":  reflect.ValueOf(emit("info")),
		"Warn":  reflect.ValueOf(emit("warn")),
		"Error": reflect.ValueOf(emit("error")),
	}
}

// scriptError is an error carrying a machine-readable code, created by
// plugins through the errs module.
type scriptError struct {
	code string
	msg  string
}

func (e *scriptError) Error() string { return e.msg }
func (e *scriptError) Code() string  { return e.code }

func errsModule() map[string]reflect.Value {
	return map[string]reflect.Value{
		"New": reflect.ValueOf(func(code, msg string) error {
			return &scriptError{code: code, msg: msg}
		}),
		"NoRetry": reflect.ValueOf(func(msg string) error {
			return &scriptError{code: "no_retry", msg: msg}
		}),
		"NotFound": reflect.ValueOf(func(msg string) error {
			return &scriptError{code: "not_found", msg: msg}
		}),
	}
}
