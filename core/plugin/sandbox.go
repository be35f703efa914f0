package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing/fstest"

	"github.com/liuran001/MusicPlayer-Go/core"
	"github.com/liuran001/MusicPlayer-Go/core/media"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// allowedStdlib is the subset of the standard library a plugin may import.
var allowedStdlib = []string{
	"bytes",
	"encoding/base64",
	"encoding/hex",
	"encoding/json",
	"errors",
	"fmt",
	"math",
	"math/big",
	"regexp",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode",
	"unicode/utf8",
}

var propertyNames = []string{"Platform", "Version", "Author", "SrcURL", "AppVersion", "Description", "CacheControl"}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// safeSymbols returns the allow-listed subset of yaegi's stdlib symbols.
func safeSymbols() interp.Exports {
	out := make(interp.Exports, len(allowedStdlib))
	for _, importPath := range allowedStdlib {
		name := importPath[strings.LastIndex(importPath, "/")+1:]
		key := importPath + "/" + name
		if symbols, ok := stdlib.Symbols[key]; ok {
			out[key] = symbols
		}
	}
	return out
}

// AllowedImports lists every import path a plugin may use.
func AllowedImports() []string {
	return append(append([]string(nil), allowedStdlib...), Modules()...)
}

// sandbox is one plugin's private interpreter. Calls are serialized.
type sandbox struct {
	pkg    string
	interp *interp.Interpreter
	logger core.Logger
	mu     sync.Mutex
	ctx    atomic.Value
}

type ctxHolder struct{ ctx context.Context }

func newSandbox(logger core.Logger) *sandbox {
	s := &sandbox{logger: logger}
	s.ctx.Store(ctxHolder{context.Background()})
	return s
}

func (s *sandbox) currentContext() context.Context {
	if h, ok := s.ctx.Load().(ctxHolder); ok && h.ctx != nil {
		return h.ctx
	}
	return context.Background()
}

// eval interprets the plugin source with only the allow-listed imports.
func (s *sandbox) eval(ctx context.Context, src string, host *hostEnv) error {
	pkg, err := packageName(src)
	if err != nil {
		return err
	}
	s.pkg = pkg

	console := &lineWriter{logger: s.logger}
	i := interp.New(interp.Options{
		GoPath:               "/nonexistent",
		Env:                  []string{},
		SourcecodeFilesystem: fstest.MapFS{},
		Stdout:               console,
		Stderr:               console,
	})
	if err := i.Use(safeSymbols()); err != nil {
		return fmt.Errorf("install stdlib: %w", err)
	}
	if err := i.Use(host.exports()); err != nil {
		return fmt.Errorf("install host modules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.interp = i
	if _, err := i.EvalWithContext(ctx, src); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

func (s *sandbox) lookup(name string) (reflect.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interp == nil {
		return reflect.Value{}, false
	}
	expr := name
	if s.pkg != "main" {
		expr = s.pkg + "." + name
	}
	value, err := s.interp.Eval(expr)
	if err != nil || !value.IsValid() {
		return reflect.Value{}, false
	}
	return value, true
}

// properties reads the instance properties, from Manifest() when the script
// exports one and from package-level variables otherwise.
func (s *sandbox) properties(ctx context.Context) (Instance, error) {
	if fn, ok := s.lookup("Manifest"); ok && fn.Kind() == reflect.Func {
		raw, err := s.invoke(ctx, fn, nil)
		if err != nil {
			return Instance{}, fmt.Errorf("manifest: %w", err)
		}
		doc, ok := toDocument(raw)
		if !ok {
			return Instance{}, fmt.Errorf("manifest: want a map, got %T", raw)
		}
		return propsFromDocument(doc), nil
	}

	doc := make(map[string]any)
	for _, name := range propertyNames {
		if v, ok := s.lookup(name); ok && v.Kind() != reflect.Func {
			doc[lowerFirst(name)] = v.Interface()
		}
	}
	if v, ok := s.lookup("UserVariables"); ok && v.Kind() != reflect.Func {
		doc["userVariables"] = v.Interface()
	}
	return propsFromDocument(doc), nil
}

// methods returns a Method for every capability the script exports.
func (s *sandbox) methods() map[Capability]Method {
	methods := make(map[Capability]Method)
	for _, c := range AllCapabilities {
		fn, ok := s.lookup(c.exportName())
		if !ok || fn.Kind() != reflect.Func {
			continue
		}
		methods[c] = func(ctx context.Context, args ...any) (any, error) {
			return s.invoke(ctx, fn, args)
		}
	}
	return methods
}

// invoke calls fn under the sandbox lock. A call abandoned through ctx keeps
// running in the background; its result is dropped.
func (s *sandbox) invoke(ctx context.Context, fn reflect.Value, args []any) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := ctx.Err(); err != nil {
			done <- outcome{err: err}
			return
		}
		s.ctx.Store(ctxHolder{ctx})
		defer s.ctx.Store(ctxHolder{context.Background()})
		value, err := callFunc(fn, args)
		done <- outcome{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		return out.value, out.err
	}
}

func callFunc(fn reflect.Value, args []any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("plugin panic: %v", r)
		}
	}()

	t := fn.Type()
	in := make([]reflect.Value, 0, t.NumIn())
	for i := 0; i < t.NumIn(); i++ {
		pt := t.In(i)
		if t.IsVariadic() && i == t.NumIn()-1 {
			for _, arg := range argsFrom(args, i) {
				in = append(in, adaptArg(arg, pt.Elem()))
			}
			break
		}
		var arg any
		if i < len(args) {
			arg = args[i]
		}
		in = append(in, adaptArg(arg, pt))
	}

	outputs := fn.Call(in)
	if len(outputs) == 0 {
		return nil, nil
	}
	last := outputs[len(outputs)-1]
	if t.Out(len(outputs)-1) == errorType {
		if err := asError(last); err != nil {
			return nil, mapScriptError(err)
		}
		if len(outputs) == 1 {
			return nil, nil
		}
	}
	first := outputs[0]
	if !first.IsValid() {
		return nil, nil
	}
	return first.Interface(), nil
}

func argsFrom(args []any, i int) []any {
	if i >= len(args) {
		return nil
	}
	return args[i:]
}

// adaptArg converts a host argument to the parameter type the script declared.
func adaptArg(arg any, t reflect.Type) reflect.Value {
	if arg == nil {
		return reflect.Zero(t)
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(t) {
		return v
	}
	if isNumber(v.Kind()) && isNumber(t.Kind()) {
		return v.Convert(t)
	}
	if v.Kind() == reflect.String && t.Kind() == reflect.String {
		return v.Convert(t)
	}
	encoded, err := json.Marshal(arg)
	if err != nil {
		return reflect.Zero(t)
	}
	target := reflect.New(t)
	if err := json.Unmarshal(encoded, target.Interface()); err != nil {
		return reflect.Zero(t)
	}
	return target.Elem()
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func asError(value reflect.Value) error {
	if !value.IsValid() {
		return nil
	}
	switch value.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if value.IsNil() {
			return nil
		}
	}
	if err, ok := value.Interface().(error); ok {
		return err
	}
	return fmt.Errorf("script error")
}

// mapScriptError turns coded plugin errors into host sentinels.
func mapScriptError(err error) error {
	coder, ok := err.(interface{ Code() string })
	if !ok {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(coder.Code())) {
	case "no_retry":
		return fmt.Errorf("%w: %s", media.ErrNoRetry, err.Error())
	case "not_found":
		return fmt.Errorf("%w: %s", media.ErrNotFound, err.Error())
	case "unsupported":
		return fmt.Errorf("%w: %s", media.ErrUnsupported, err.Error())
	case "version_mismatch":
		return &VersionMismatchError{Reason: err.Error()}
	default:
		return err
	}
}

func packageName(src string) (string, error) {
	file, err := parser.ParseFile(token.NewFileSet(), "plugin.go", src, parser.PackageClauseOnly)
	if err != nil {
		return "", fmt.Errorf("parse package clause: %w", err)
	}
	return file.Name.Name, nil
}

func toDocument(raw any) (map[string]any, bool) {
	if raw == nil {
		return nil, false
	}
	doc := make(map[string]any)
	if err := media.Decode(raw, &doc); err != nil {
		return nil, false
	}
	return doc, true
}

func propsFromDocument(doc map[string]any) Instance {
	str := func(key string) string {
		v, ok := doc[key]
		if !ok || v == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(v))
	}
	inst := Instance{
		Platform:     str("platform"),
		Version:      str("version"),
		Author:       str("author"),
		SrcURL:       firstNonEmpty(str("srcUrl"), str("srcURL")),
		AppVersion:   str("appVersion"),
		Description:  str("description"),
		CacheControl: str("cacheControl"),
	}
	if raw, ok := doc["userVariables"]; ok && raw != nil {
		var vars []UserVariable
		if err := media.Decode(raw, &vars); err == nil {
			inst.UserVariables = vars
		}
	}
	return inst
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	if s == "SrcURL" {
		return "srcUrl"
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// lineWriter forwards interpreter print output to the plugin logger.
type lineWriter struct {
	logger core.Logger
	mu     sync.Mutex
	buf    []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSpace(string(w.buf[:idx]))
		w.buf = w.buf[idx+1:]
		if line != "" && w.logger != nil {
			w.logger.Debug(line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*lineWriter)(nil)
