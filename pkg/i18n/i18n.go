package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDBPath        string
	OwnerResolved      string
	ServerListening    string
	ShuttingDown       string
	ShutdownComplete   string
	EngineServiceInit  string
	ConfigLoadFailed   string
	OwnerKeyFailed     string
	DBInitFailed       string
	DBMigrationsFailed string
	StateLoadFailed    string
	DiscoveryFailed    string
	EngineInitFailed   string
	APIServerError     string
	TokenIssued        string

	// API errors, keyed by response code
	InvalidRequest    string
	Unauthorized      string
	RateLimited       string
	RequestTimeout    string
	AccountNotFound   string
	AlreadyConfigured string
	AlreadyPending    string
	UnknownMaster     string
	UnknownSlave      string
	AlreadyConnected  string
	RoleConflict      string
	InvalidRole       string
	NotMaster         string
	NotSlave          string
	NotConfigured     string
	StateConflict     string
	InternalError     string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	// System
	Starting:           "Starting copier core...",
	ConfigLoaded:       "Config loaded (Port: %s)",
	UsingDBPath:        "Using DB path: %s",
	OwnerResolved:      "Owner key resolved (%s)",
	ServerListening:    "Server listening on :%s",
	ShuttingDown:       "Shutting down gracefully...",
	ShutdownComplete:   "Shutdown complete.",
	EngineServiceInit:  "Engine service initialized",
	ConfigLoadFailed:   "Failed to load config: %v",
	OwnerKeyFailed:     "Failed to resolve owner key: %v",
	DBInitFailed:       "Failed to init database: %v",
	DBMigrationsFailed: "Failed to apply migrations: %v",
	StateLoadFailed:    "Failed to load state: %v",
	DiscoveryFailed:    "Failed to set up state file discovery: %v",
	EngineInitFailed:   "Failed to init engine: %v",
	APIServerError:     "API server error: %v",
	TokenIssued:        "Token issued for owner %s (valid %s)",

	// API errors
	InvalidRequest:    "Invalid request",
	Unauthorized:      "Missing or invalid token",
	RateLimited:       "Too many requests",
	RequestTimeout:    "Request timed out",
	AccountNotFound:   "Account not found",
	AlreadyConfigured: "Account is already a master or slave",
	AlreadyPending:    "Account is already pending",
	UnknownMaster:     "Master account does not exist",
	UnknownSlave:      "Slave account does not exist",
	AlreadyConnected:  "Slave is connected to another master",
	RoleConflict:      "Convert the account to pending before changing its role",
	InvalidRole:       "Target role must be master or slave",
	NotMaster:         "Account is not a master",
	NotSlave:          "Account is not a slave",
	NotConfigured:     "Account has no master or slave role",
	StateConflict:     "Operation conflicts with current state",
	InternalError:     "Internal server error",
}

// Chinese messages
var messagesZH = Messages{
	// System
	Starting:           "啟動跟單核心...",
	ConfigLoaded:       "設定已載入（埠號：%s）",
	UsingDBPath:        "使用資料庫路徑：%s",
	OwnerResolved:      "擁有者金鑰已解析（%s）",
	ServerListening:    "服務監聽於 :%s",
	ShuttingDown:       "正在優雅關閉...",
	ShutdownComplete:   "已完成關閉。",
	EngineServiceInit:  "引擎服務初始化完成",
	ConfigLoadFailed:   "讀取設定失敗：%v",
	OwnerKeyFailed:     "解析擁有者金鑰失敗：%v",
	DBInitFailed:       "初始化資料庫失敗：%v",
	DBMigrationsFailed: "套用資料庫遷移失敗：%v",
	StateLoadFailed:    "載入狀態失敗：%v",
	DiscoveryFailed:    "設定狀態檔探索失敗：%v",
	EngineInitFailed:   "初始化引擎失敗：%v",
	APIServerError:     "API 伺服器錯誤：%v",
	TokenIssued:        "已為擁有者 %s 簽發權杖（有效 %s）",

	// API errors
	InvalidRequest:    "請求格式錯誤",
	Unauthorized:      "缺少或無效的權杖",
	RateLimited:       "請求過於頻繁",
	RequestTimeout:    "請求逾時",
	AccountNotFound:   "找不到帳戶",
	AlreadyConfigured: "帳戶已是主帳戶或跟單帳戶",
	AlreadyPending:    "帳戶已是待配置狀態",
	UnknownMaster:     "主帳戶不存在",
	UnknownSlave:      "跟單帳戶不存在",
	AlreadyConnected:  "跟單帳戶已連接其他主帳戶",
	RoleConflict:      "變更角色前請先將帳戶轉為待配置",
	InvalidRole:       "目標角色必須是主帳戶或跟單帳戶",
	NotMaster:         "帳戶不是主帳戶",
	NotSlave:          "帳戶不是跟單帳戶",
	NotConfigured:     "帳戶尚未設定角色",
	StateConflict:     "操作與目前狀態衝突",
	InternalError:     "伺服器內部錯誤",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
