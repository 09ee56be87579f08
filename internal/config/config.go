package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	AppPort       string
	DBDSN         string
	JWTSecret     string
	JWTExpiresMin int
	RedisAddr     string
	RedisPassword string

	// MTN MoMo credentials. Collection and disbursement are separate
	// products on the MoMo API gateway, each with its own subscription key.
	MomoBaseURL            string
	MomoAPIUser            string
	MomoAPIKey             string
	MomoCollectionSubKey   string
	MomoDisbursementSubKey string
	MomoTargetEnvironment  string
	MomoCallbackToken      string

	MoovBaseURL      string
	MoovClientID     string
	MoovClientSecret string
	MoovWebhookKey   string

	GatewayTimeout     time.Duration
	DefaultCountryCode string
	Currency           string

	CommissionRate      float64
	MinWithdrawalAmount int64
	MaxWithdrawalAmount int64

	ReconcileIntervalMin int
	ReconcileGraceMin    int
}

func Load() Config {
	expires, _ := strconv.Atoi(get("JWT_EXPIRES_MIN", "10080"))
	gatewayTimeout, _ := strconv.Atoi(get("GATEWAY_TIMEOUT_SEC", "15"))
	rate, _ := strconv.ParseFloat(get("COMMISSION_RATE", "0.05"), 64)
	minW, _ := strconv.ParseInt(get("MIN_WITHDRAWAL_XOF", "500"), 10, 64)
	maxW, _ := strconv.ParseInt(get("MAX_WITHDRAWAL_XOF", "500000"), 10, 64)
	reconcileEvery, _ := strconv.Atoi(get("RECONCILE_INTERVAL_MIN", "10"))
	reconcileGrace, _ := strconv.Atoi(get("RECONCILE_GRACE_MIN", "5"))

	momoBase := get("MOMO_BASE_URL", "https://sandbox.momodeveloper.mtn.com")
	if os.Getenv("MOMO_ENV") == "production" {
		momoBase = get("MOMO_BASE_URL", "https://proxy.momoapi.mtn.com")
	}

	return Config{
		AppPort:       get("APP_PORT", "8080"),
		DBDSN:         must("DB_DSN"),
		JWTSecret:     must("JWT_SECRET"),
		JWTExpiresMin: expires,
		RedisAddr:     get("REDIS_ADDR", "localhost:6379"),
		RedisPassword: get("REDIS_PASSWORD", ""),

		MomoBaseURL:            momoBase,
		MomoAPIUser:            get("MOMO_API_USER", ""),
		MomoAPIKey:             get("MOMO_API_KEY", ""),
		MomoCollectionSubKey:   get("MOMO_COLLECTION_SUB_KEY", ""),
		MomoDisbursementSubKey: get("MOMO_DISBURSEMENT_SUB_KEY", ""),
		MomoTargetEnvironment:  get("MOMO_TARGET_ENV", "mtnbenin"),
		MomoCallbackToken:      get("MOMO_CALLBACK_TOKEN", ""),

		MoovBaseURL:      get("MOOV_BASE_URL", "https://api.moov-africa.bj"),
		MoovClientID:     get("MOOV_CLIENT_ID", ""),
		MoovClientSecret: get("MOOV_CLIENT_SECRET", ""),
		MoovWebhookKey:   get("MOOV_WEBHOOK_KEY", ""),

		GatewayTimeout:     time.Duration(gatewayTimeout) * time.Second,
		DefaultCountryCode: get("DEFAULT_COUNTRY_CODE", "229"),
		Currency:           get("CURRENCY", "XOF"),

		CommissionRate:      rate,
		MinWithdrawalAmount: minW,
		MaxWithdrawalAmount: maxW,

		ReconcileIntervalMin: reconcileEvery,
		ReconcileGraceMin:    reconcileGrace,
	}
}

func get(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		panic("missing env: " + k)
	}
	return v
}
