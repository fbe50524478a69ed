// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/sap-bridge/internal/auth"
	"github.com/yourusername/sap-bridge/internal/config"
	"github.com/yourusername/sap-bridge/internal/credential"
	"github.com/yourusername/sap-bridge/internal/relay"
	"github.com/yourusername/sap-bridge/internal/sap"
)

const (
	serviceName    = "sap-bridge-api"
	serviceVersion = "0.1.0"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	logger := log.Default()

	backend, err := setupBackend(cfg)
	if err != nil {
		log.Fatalf("Failed to set up SAP client: %v", err)
	}
	if cfg.SAPInsecureSkipVerify && cfg.SAPCAFile == "" {
		logger.Printf("WARNING: SAP certificate verification is disabled (SAP_INSECURE_SKIP_VERIFY)")
	}

	guard, closeGuard, err := setupGuard(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to set up login guard: %v", err)
	}
	defer closeGuard()

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()
	if err := applyTrustedProxies(router, cfg); err != nil {
		log.Fatalf("Invalid TRUSTED_PROXIES: %v", err)
	}
	router.Use(relay.RequestID())

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		credential.TokenHeader, // SAP CSRF トークン
		relay.RequestIDHeader,
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{credential.TokenHeader, relay.RequestIDHeader}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, cfg, backend, guard, logger)

	// サーバーの起動
	addr := ":" + cfg.Port
	log.Printf("Starting API server on %s (mode: %s, backend: %s)", addr, cfg.GinMode, cfg.SAPBaseURL)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": serviceName,
		"version": serviceVersion,
	})
}

func setupBackend(cfg *config.Config) (*sap.Client, error) {
	httpClient, err := sap.NewHTTPClient(sap.TransportOptions{
		Timeout:            cfg.SAPTimeout,
		CAFile:             cfg.SAPCAFile,
		InsecureSkipVerify: cfg.SAPInsecureSkipVerify,
	})
	if err != nil {
		return nil, err
	}
	return sap.NewClient(cfg.SAPBaseURL, cfg.SAPTokenPath, httpClient, cfg.SAPMaxResponseBytes), nil
}

// applyTrustedProxies は X-Forwarded-For を信頼するプロキシを設定します。
// 未設定の場合はどのプロキシも信頼せず、ClientIP は接続元アドレスになります。
// 試行制限は ClientIP 単位のため、ここを緩めるとヘッダーの詐称で制限を回避できます。
func applyTrustedProxies(router *gin.Engine, cfg *config.Config) error {
	return router.SetTrustedProxies(cfg.TrustedProxies)
}

// backendAPI はリレーが必要とするSAPクライアントの操作です。
type backendAPI interface {
	relay.TokenFetcher
	relay.Forwarder
}

// setupRoutes は API グループとリレーの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, backend backendAPI, guard *auth.Guard, logger *log.Logger) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	api := router.Group(relay.APIPrefix)
	{
		// トークン取得はセッションを持たないため試行制限のみ掛ける
		api.GET("/"+config.TokenRelayRoute, guard.Middleware(), relay.TokenHandler(backend, logger))

		// 更新系は設定された操作だけを公開する
		for _, op := range cfg.SAPOperations {
			api.POST("/"+op.Name, relay.MutationHandler(backend, op.Path, cfg.RelayMaxRequestBytes, logger))
		}
	}
}
