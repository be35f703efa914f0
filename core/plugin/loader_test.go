package plugin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/liuran001/MusicPlayer-Go/core/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const demoScript = `package demo

import "strings"

var Platform = "demo"
var Version = "1.2.0"
var Author = "someone"

var UserVariables = []map[string]string{
	{"key": "token", "name": "Token"},
	{"name": "missing key"},
}

func Search(query string, page int, kind string) (map[string]any, error) {
	return map[string]any{
		"isEnd": false,
		"data": []any{
			map[string]any{"id": 7, "title": strings.ToUpper(query), "platform": "spoofed"},
		},
	}, nil
}
`

func TestLoadScriptProperties(t *testing.T) {
	l := &Loader{}
	p := l.Load(context.Background(), Source{Path: "demo.go", Text: demoScript})

	require.Equal(t, StateOK, p.StateCode)
	assert.Equal(t, ContentHash(demoScript), p.Hash)
	assert.Equal(t, "demo", p.Name)
	assert.Equal(t, "1.2.0", p.Instance.Version)
	assert.Equal(t, "someone", p.Instance.Author)
	require.Len(t, p.Instance.UserVariables, 1)
	assert.Equal(t, "token", p.Instance.UserVariables[0].Key)
	assert.Equal(t, []string{"search"}, p.Instance.Capabilities().Names())

	res := p.Methods.Search(context.Background(), "hello", 1, media.KindMusic)
	assert.False(t, res.IsEnd)
	require.Len(t, res.Music, 1)
	assert.Equal(t, "7", res.Music[0].ID)
	assert.Equal(t, "HELLO", res.Music[0].Title)
	assert.Equal(t, "demo", res.Music[0].Platform)
}

func TestLoadEmptyPlatformIsUnaddressable(t *testing.T) {
	src := "package blank\n\nvar Version = \"1\"\n"
	p := (&Loader{}).Load(context.Background(), Source{Path: "blank.go", Text: src})

	assert.Equal(t, StateOK, p.StateCode)
	assert.Equal(t, "", p.Hash)
	assert.False(t, p.Addressable())
}

func TestLoadRejectsDisallowedImport(t *testing.T) {
	src := `package evil

import "os"

var Platform = "evil"

func Search(query string, page int, kind string) (map[string]any, error) {
	os.Exit(1)
	return nil, nil
}
`
	p := (&Loader{}).Load(context.Background(), Source{Path: "evil.go", Text: src})

	assert.Equal(t, StateParseFailure, p.StateCode)
	assert.Equal(t, "", p.Hash)
	assert.Equal(t, "", p.Instance.Platform)
	assert.Empty(t, p.Instance.Capabilities())

	res := p.Methods.Search(context.Background(), "x", 1, media.KindMusic)
	assert.True(t, res.IsEnd)
	assert.Zero(t, res.Len())
}

func TestLoadSyntaxErrorIsParseFailure(t *testing.T) {
	p := (&Loader{}).Load(context.Background(), Source{Path: "bad.go", Text: "package bad\n\nfunc {"})
	assert.Equal(t, StateParseFailure, p.StateCode)
	assert.False(t, p.Addressable())
}

func TestLoadManifestWinsOverVars(t *testing.T) {
	src := `package m

var Platform = "from-var"

func Manifest() map[string]any {
	return map[string]any{
		"platform": "from-manifest",
		"version":  "2.0",
		"srcUrl":   "https://example.com/m.go",
	}
}
`
	p := (&Loader{}).Load(context.Background(), Source{Path: "m.go", Text: src})

	require.Equal(t, StateOK, p.StateCode)
	assert.Equal(t, "from-manifest", p.Name)
	assert.Equal(t, "2.0", p.Instance.Version)
	assert.Equal(t, "https://example.com/m.go", p.Instance.SrcURL)
}

func TestLoadVersionMismatch(t *testing.T) {
	src := `package old

import "musicfree/errs"

func Manifest() (map[string]any, error) {
	return nil, errs.New("version_mismatch", "needs host 9.0")
}
`
	p := (&Loader{}).Load(context.Background(), Source{Path: "old.go", Text: src})
	assert.Equal(t, StateVersionMismatch, p.StateCode)
	assert.Equal(t, "", p.Hash)
}

func TestValidateHookRejects(t *testing.T) {
	l := &Loader{Validate: func(inst *Instance) error {
		return &VersionMismatchError{Required: ">=9", Actual: "1"}
	}}
	p := l.Load(context.Background(), Source{Path: "demo.go", Text: demoScript})
	assert.Equal(t, StateVersionMismatch, p.StateCode)
	assert.False(t, p.Addressable())

	l.Validate = func(*Instance) error { return errors.New("nope") }
	p = l.Load(context.Background(), Source{Path: "demo.go", Text: demoScript})
	assert.Equal(t, StateParseFailure, p.StateCode)
}

func TestScriptPanicIsContained(t *testing.T) {
	src := `package boom

var Platform = "boom"

func GetMusicInfo(item map[string]any) (map[string]any, error) {
	var m map[string]any
	m["x"] = 1
	return m, nil
}
`
	p := (&Loader{}).Load(context.Background(), Source{Path: "boom.go", Text: src})
	require.Equal(t, StateOK, p.StateCode)

	info := p.Methods.GetMusicInfo(context.Background(), media.MusicItem{Platform: "boom", ID: "1"})
	assert.Nil(t, info)
}

func TestScriptNoRetryIsTyped(t *testing.T) {
	src := `package nr

import "musicfree/errs"

var Platform = "nr"

func GetMediaSource(item map[string]any, quality string) (map[string]any, error) {
	return nil, errs.NoRetry("copyright")
}
`
	backoffs := 0
	l := &Loader{Backoff: func(int) time.Duration { backoffs++; return 0 }}
	p := l.Load(context.Background(), Source{Path: "nr.go", Text: src})
	require.Equal(t, StateOK, p.StateCode)

	src2, err := p.Methods.GetMediaSource(context.Background(), media.MusicItem{Platform: "nr", ID: "1"}, media.QualityStandard, 3, false)
	assert.Nil(t, src2)
	assert.ErrorIs(t, err, media.ErrNoRetry)
	assert.Zero(t, backoffs)
}

func TestScriptReadsUserVariables(t *testing.T) {
	src := `package uv

import "musicfree/env"

var Platform = "uv"

func GetMusicInfo(item map[string]any) (map[string]any, error) {
	return map[string]any{"title": env.UserVariables()["token"] + "@" + env.AppVersion}, nil
}
`
	l := &Loader{
		Host: HostOptions{AppVersion: "0.1.0"},
		Vars: func(platform string) map[string]string {
			if platform == "uv" {
				return map[string]string{"token": "secret"}
			}
			return nil
		},
	}
	p := l.Load(context.Background(), Source{Path: "uv.go", Text: src})
	require.Equal(t, StateOK, p.StateCode)

	info := p.Methods.GetMusicInfo(context.Background(), media.MusicItem{Platform: "uv", ID: "1"})
	require.NotNil(t, info)
	assert.Equal(t, "secret@0.1.0", info.Title)
	assert.Equal(t, "1", info.ID)
}

func TestFactoryHashUsesText(t *testing.T) {
	f := &Factory{Name: "local", Text: "builtin:local", New: func(FactoryEnv) (*Instance, error) {
		return NewInstance(Instance{Platform: "local"}, nil), nil
	}}
	p := (&Loader{}).Load(context.Background(), Source{Factory: f})
	assert.Equal(t, ContentHash("builtin:local"), p.Hash)
	assert.Equal(t, "local", p.Name)
}

func TestDelegateIsFunctionFree(t *testing.T) {
	p := (&Loader{}).Load(context.Background(), Source{Path: "demo.go", Text: demoScript})
	d := p.Delegate()

	assert.Equal(t, p.Hash, d.Hash)
	assert.Equal(t, "demo.go", d.Path)
	assert.Equal(t, "demo", d.Platform)
	assert.Equal(t, []string{"search"}, d.SupportedMethod)

	raw := media.ToMap(d)
	assert.Equal(t, "demo", raw["platform"])
}
