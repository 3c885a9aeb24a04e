package config

import (
	"time"

	"go.mau.fi/whatsmeow/proto/waCompanionReg"
)

var (
	AppVersion             = "v1.4.0"
	AppPort                = "3000"
	AppDebug               = false
	AppOs                  = "WaBlast"
	AppPlatform            = waCompanionReg.DeviceProps_CHROME
	AppBasicAuthCredential []string
	AppBasePath            = ""

	PathStorages = "storages"
	PathQrCode   = "statics/qrcode"

	// DBURI is the application database (accounts, campaigns, activity).
	// sqlite by default, postgres when the URI has a postgres: prefix.
	DBURI = "file:storages/wablast.db?_foreign_keys=on"

	// AMQPUrl enables the activity event mirror when set.
	AMQPUrl          = ""
	AMQPExchange     = "wablast.activity"
	LogFile          = ""
	WhatsappLogLevel = "ERROR"

	// Session lifecycle policy.
	ConnectCooldown       = 30 * time.Second
	ReconnectMaxAttempts  = 5
	ReconnectBaseDelay    = 5 * time.Second
	ReconnectMaxDelay     = 300 * time.Second
	ReconnectDelayFactor  = 3
	CampaignScheduleEvery = "@every 1m"
)
