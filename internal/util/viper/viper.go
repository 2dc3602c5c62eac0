package viper

import (
	"strings"

	"github.com/kong/agentchat/internal/meta"
	"github.com/kong/agentchat/internal/util"
	v "github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by the CLI.
var EnvPrefix = strings.ToUpper(meta.CLIName)

// InitializeDefaultViper initializes a viper instance with default values and a path to a file
// If the file does not exist, it will be created with the default values
func InitializeDefaultViper(defaultValues map[string]any, path string) (*v.Viper, error) {
	if err := util.InitDir(path, 0o755); err != nil {
		return nil, err
	}

	rv := NewViper(path)

	if len(rv.AllSettings()) == 0 {
		// nothing was loaded, seed the defaults and write them back
		if err := rv.MergeConfigMap(defaultValues); err != nil {
			return nil, err
		}
		if err := rv.WriteConfig(); err != nil {
			return nil, err
		}
	}

	return rv, nil
}

// NewViperE loads path strictly, failing when the file cannot be read.
func NewViperE(path string) (*v.Viper, error) {
	rv := v.New()
	rv.SetConfigFile(path)
	ConfigureEnvVars(rv, EnvPrefix)
	if err := rv.ReadInConfig(); err != nil {
		return nil, err
	}
	return rv, nil
}

// NewViper loads path if it exists and otherwise returns an empty instance.
func NewViper(path string) *v.Viper {
	rv := v.New()
	rv.SetConfigFile(path)
	ConfigureEnvVars(rv, EnvPrefix)
	_ = rv.ReadInConfig()
	return rv
}

// ConfigureEnvVars maps config keys like chat.base-url onto PREFIX_CHAT_BASE_URL.
func ConfigureEnvVars(rv *v.Viper, prefix string) {
	rv.SetEnvPrefix(prefix)
	rv.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	rv.AutomaticEnv()
}
