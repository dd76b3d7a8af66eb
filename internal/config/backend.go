package config

// ConfigBackend abstracts platform-specific config storage: UserDefaults on
// macOS, a JSON file elsewhere. Integer and float keys are stored natively;
// everything else, durations included, is stored as a string.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	GetFloat(key string) (val float64, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	SetFloat(key string, val float64) error
	Delete(key string) error
}
