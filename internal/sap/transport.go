package sap

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

var (
	ErrCAFileEmpty   = errors.New("sap: ca file contains no certificates")
	ErrTimeoutNeeded = errors.New("sap: transport timeout must be positive")
)

// TransportOptions はバックエンドへの接続方法を表します。
type TransportOptions struct {
	Timeout            time.Duration
	CAFile             string // 指定時はこのCAのみを信頼する
	InsecureSkipVerify bool   // CAFile が無い場合のみ有効
}

// NewHTTPClient はSAP用の http.Client を作成します。
// SAPはプライベートネットワーク上の自己署名証明書で公開されているため、
// CAファイルによるピン留めか、明示的な検証無効化のどちらかを選びます。
// Cookie はリレー間で共有しないため Jar は設定しません。
func NewHTTPClient(opts TransportOptions) (*http.Client, error) {
	if opts.Timeout <= 0 {
		return nil, ErrTimeoutNeeded
	}

	tlsConfig, err := buildTLSConfig(opts)
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	transport.ResponseHeaderTimeout = opts.Timeout

	return &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
	}, nil
}

func buildTLSConfig(opts TransportOptions) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if strings.TrimSpace(opts.CAFile) != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read sap ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: %s", ErrCAFileEmpty, opts.CAFile)
		}
		cfg.RootCAs = pool
		return cfg, nil
	}

	if opts.InsecureSkipVerify {
		cfg.InsecureSkipVerify = true //nolint:gosec // 明示的に有効化した場合のみ
	}
	return cfg, nil
}
