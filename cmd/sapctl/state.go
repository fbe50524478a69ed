package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/yourusername/sap-bridge/internal/relay"
	"github.com/yourusername/sap-bridge/internal/session"
)

const (
	sessionFile = "session.json"
	cookieFile  = "cookies.json"
)

// workspace は1回のコマンド実行で使う Session とリレークライアントです。
type workspace struct {
	session *session.Session
	client  *relay.Client
	cookies *session.FileStorage
}

// openWorkspace は state-dir から Session と Cookie を復元します。
// onInvalidate はバックエンドが Bundle を拒否した際に呼ばれます。
func openWorkspace(opts *globalOptions, stderr io.Writer, onInvalidate func(code string)) (*workspace, error) {
	client, err := relay.NewClient(opts.relayURL, &http.Client{Timeout: opts.timeout})
	if err != nil {
		return nil, err
	}

	logger := log.New(io.Discard, "", 0)
	if opts.verbose {
		logger = log.New(stderr, "sapctl: ", log.LstdFlags)
	}

	ws := &workspace{
		client:  client,
		cookies: session.NewFileStorage(filepath.Join(opts.stateDir, cookieFile)),
	}
	if err := ws.restoreCookies(); err != nil {
		logger.Printf("restore cookies: %v", err)
	}

	sessionOpts := []session.Option{session.WithLogger(logger)}
	if onInvalidate != nil {
		sessionOpts = append(sessionOpts, session.WithInvalidationHook(onInvalidate))
	}
	storage := session.NewFileStorage(filepath.Join(opts.stateDir, sessionFile))
	ws.session = session.New(storage, client, sessionOpts...)
	ws.session.CheckAuth()

	return ws, nil
}

// cookieKey はリレーごとに Cookie を分けて保存するためのキーです。
func (w *workspace) cookieKey() string {
	return w.client.BaseURL().Host
}

func (w *workspace) restoreCookies() error {
	raw, err := w.cookies.Get(w.cookieKey())
	if err != nil || raw == "" {
		return err
	}
	cookies, err := http.ParseCookie(raw)
	if err != nil {
		return fmt.Errorf("parse saved cookies: %w", err)
	}
	for _, c := range cookies {
		c.Path = "/"
	}
	w.client.SetCookies(cookies)
	return nil
}

// saveCookies は Jar の内容を保存します。Jar が空なら保存済みのものを削除します。
func (w *workspace) saveCookies() error {
	cookies := w.client.Cookies()
	if len(cookies) == 0 {
		return w.cookies.Remove(w.cookieKey())
	}
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return w.cookies.Set(w.cookieKey(), strings.Join(parts, "; "))
}

func (w *workspace) clearCookies() error {
	return w.cookies.Remove(w.cookieKey())
}
