package main

import (
	"errors"
	"io/fs"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// configPlugin serves configuration sections to the other plugins
type configPlugin struct {
	path   string
	prefix string
	viper  *viper.Viper

	mu        sync.Mutex
	listeners []func(fsnotify.Event)
}

func newConfigPlugin(path, prefix string) *configPlugin {
	return &configPlugin{path: path, prefix: prefix}
}

func (c *configPlugin) Init() error {
	v := viper.New()
	v.SetConfigFile(c.path)
	v.SetConfigType("yaml")

	// e.g. MOUSESPY_MOUSE_TELEMETRY_HTTP_ADDRESS
	v.SetEnvPrefix(c.prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// a missing file leaves env vars and plugin defaults
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	} else {
		v.WatchConfig()
		v.OnConfigChange(c.notify)
	}

	c.viper = v
	return nil
}

func (c *configPlugin) Name() string {
	return "config"
}

// Has reports whether the section is present
func (c *configPlugin) Has(name string) bool {
	return c.viper.IsSet(name)
}

// UnmarshalKey decodes one section into out
func (c *configPlugin) UnmarshalKey(name string, out interface{}) error {
	return c.viper.UnmarshalKey(name, out)
}

// OnChange registers fn to run after the config file changes
func (c *configPlugin) OnChange(fn func(fsnotify.Event)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *configPlugin) notify(e fsnotify.Event) {
	c.mu.Lock()
	listeners := append([]func(fsnotify.Event){}, c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(e)
	}
}
