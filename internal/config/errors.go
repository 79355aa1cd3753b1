package config

import (
	"errors"
	"fmt"
)

// ConfigurationError 配置错误，在任何网络请求之前返回
type ConfigurationError struct {
	File string
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("配置错误: %v", e.Err)
	}
	return fmt.Sprintf("配置错误 (%s): %v", e.File, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError 判断是否为配置错误
func IsConfigurationError(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}

func errorf(file, format string, args ...any) error {
	return &ConfigurationError{File: file, Err: fmt.Errorf(format, args...)}
}
