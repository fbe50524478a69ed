// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// TokenRelayRoute はトークン取得リレーの予約済みルート名です。
const TokenRelayRoute = "sap-proxy"

var operationNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Operation は更新系リレーが転送できるSAP側の操作を表します。
type Operation struct {
	Name string // /api/<Name> として公開されるルート名
	Path string // SAP側のパス（クエリ付きでも可）
}

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// 信頼するリバースプロキシ。空の場合は X-Forwarded-For を使わず接続元アドレスを使う
	TrustedProxies []string

	// リレーが受け付けるリクエストボディの最大サイズ（バイト）
	RelayMaxRequestBytes int64

	// SAPバックエンド設定
	SAPBaseURL            string        // 例: https://10.0.0.5:44303
	SAPTokenPath          string        // トークン発行エンドポイント
	SAPOperations         []Operation   // 更新系リレーの転送先一覧
	SAPTimeout            time.Duration // バックエンド呼び出しのタイムアウト
	SAPCAFile             string        // 自己署名証明書を検証するためのCAバンドル
	SAPInsecureSkipVerify bool          // 証明書検証を無効化する（明示指定時のみ）
	SAPMaxResponseBytes   int64         // バックエンド応答の最大読み込みサイズ

	// ログイン試行制限
	LoginMaxAttempts   int           // 0 の場合は無効
	LoginWindow        time.Duration // 失敗回数を数える期間
	LoginLock          time.Duration // 上限到達後のロック時間
	LoginGuardRedisURL string        // 空の場合はメモリ上で管理
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	operations, err := ParseOperations(getEnv("SAP_OPERATIONS", "pengeluaran=/zrestsap/pengeluaran-inl"))
	if err != nil {
		return nil, err
	}

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		TrustedProxies:       getEnvAsList("TRUSTED_PROXIES"),
		RelayMaxRequestBytes: getEnvAsInt64("RELAY_MAX_REQUEST_BYTES", 1024*1024), // 1MB

		// SAPバックエンド設定
		SAPBaseURL:            strings.TrimRight(getEnv("SAP_BASE_URL", ""), "/"),
		SAPTokenPath:          getEnv("SAP_TOKEN_PATH", "/zrestsap/get-token?sap-client=610"),
		SAPOperations:         operations,
		SAPTimeout:            getEnvAsDuration("SAP_TIMEOUT", 30*time.Second),
		SAPCAFile:             getEnv("SAP_CA_FILE", ""),
		SAPInsecureSkipVerify: getEnvAsBool("SAP_INSECURE_SKIP_VERIFY", false),
		SAPMaxResponseBytes:   getEnvAsInt64("SAP_MAX_RESPONSE_BYTES", 10*1024*1024), // 10MB

		// ログイン試行制限
		LoginMaxAttempts:   getEnvAsInt("LOGIN_MAX_ATTEMPTS", 5),
		LoginWindow:        getEnvAsDuration("LOGIN_WINDOW", 15*time.Minute),
		LoginLock:          getEnvAsDuration("LOGIN_LOCK", 10*time.Minute),
		LoginGuardRedisURL: getEnv("LOGIN_GUARD_REDIS_URL", ""),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.SAPBaseURL == "" {
		return fmt.Errorf("SAP_BASE_URL is required")
	}
	u, err := url.Parse(c.SAPBaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("SAP_BASE_URL must be an absolute http(s) URL: %q", c.SAPBaseURL)
	}
	if !strings.HasPrefix(c.SAPTokenPath, "/") {
		return fmt.Errorf("SAP_TOKEN_PATH must start with '/': %q", c.SAPTokenPath)
	}
	if len(c.SAPOperations) == 0 {
		return fmt.Errorf("SAP_OPERATIONS must list at least one operation")
	}
	if c.SAPTimeout <= 0 {
		return fmt.Errorf("SAP_TIMEOUT must be positive")
	}
	if c.SAPMaxResponseBytes <= 0 {
		return fmt.Errorf("SAP_MAX_RESPONSE_BYTES must be positive")
	}
	if c.RelayMaxRequestBytes <= 0 {
		return fmt.Errorf("RELAY_MAX_REQUEST_BYTES must be positive")
	}
	if c.LoginMaxAttempts < 0 {
		return fmt.Errorf("LOGIN_MAX_ATTEMPTS must not be negative")
	}

	// 本番環境では証明書検証を無効化したまま起動させない
	// CAファイルを指定した場合はピン留めされた証明書で検証する
	if c.GinMode == "release" {
		if c.SAPInsecureSkipVerify && c.SAPCAFile == "" {
			return fmt.Errorf("SAP_INSECURE_SKIP_VERIFY is not allowed in release mode without SAP_CA_FILE")
		}
	}

	return nil
}

// ParseOperations は "name=/path,name2=/path2" 形式の文字列を解析します。
func ParseOperations(raw string) ([]Operation, error) {
	var operations []Operation
	seen := make(map[string]struct{})
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, path, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		path = strings.TrimSpace(path)
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid SAP_OPERATIONS entry %q (want name=/path)", entry)
		}
		if !operationNamePattern.MatchString(name) {
			return nil, fmt.Errorf("invalid operation name %q", name)
		}
		if name == TokenRelayRoute {
			return nil, fmt.Errorf("operation name %q is reserved", name)
		}
		if !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("operation %q path must start with '/': %q", name, path)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate operation name %q", name)
		}
		seen[name] = struct{}{}
		operations = append(operations, Operation{Name: name, Path: path})
	}
	return operations, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsList はカンマ区切りの環境変数を取得します。未設定の場合は nil を返します。
func getEnvAsList(key string) []string {
	var values []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は "30s" のような期間表記を取得します。
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
