package main

import (
	"fmt"
	"strings"
	"sync"

	"clipfactory/config"
)

type commandContext struct {
	serverFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	configErr  error
}

func newCommandContext(serverFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		serverFlag: serverFlag,
		jsonFlag:   jsonFlag,
	}
}

// ensureConfig loads config.Conf once; a missing file is created with defaults.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		if _, err := config.LoadOrCreateConfig(); err != nil {
			c.configErr = err
			return
		}
		c.configErr = config.CheckConfig()
	})
	return &config.Conf, c.configErr
}

func (c *commandContext) serverURL() (string, error) {
	if c.serverFlag != nil && strings.TrimSpace(*c.serverFlag) != "" {
		return strings.TrimRight(strings.TrimSpace(*c.serverFlag), "/"), nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port), nil
}

func (c *commandContext) client() (*apiClient, error) {
	base, err := c.serverURL()
	if err != nil {
		return nil, err
	}
	return newAPIClient(base), nil
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}
