package model

// Setting is one application setting stored as a key-value pair.
type Setting struct {
	Key   string  `json:"key"`
	Value *string `json:"value"`
}

// Well-known setting keys.
const (
	// SettingReadwiseToken holds the Readwise API token entered through
	// the settings UI. It takes precedence over the config file token.
	SettingReadwiseToken = "readwise_api_token"
	// SettingReadwiseAutoSync enables syncing each highlight to Readwise
	// right after it is created.
	SettingReadwiseAutoSync = "readwise_auto_sync"
)
