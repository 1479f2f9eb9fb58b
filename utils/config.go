package utils

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/gladserv/shallfs/utils/log"
)

var InstanceConfig Config

func init() {
	InstanceConfig.Timezone = time.UTC
}

// DeviceSetting names one journal device to run and the mount option
// string to apply to it.
type DeviceSetting struct {
	Device  string
	Options string
}

// Config is the serve configuration, read from a YAML file.
type Config struct {
	Socket          string
	Timezone        *time.Location
	StopGracePeriod time.Duration
	StartTime       time.Time
	Devices         []*DeviceSetting
}

func (m *Config) Parse(data []byte) error {
	var (
		err error
		aux struct {
			Socket          string `yaml:"socket"`
			Timezone        string `yaml:"timezone"`
			LogLevel        string `yaml:"log_level"`
			StopGracePeriod int    `yaml:"stop_grace_period"`
			Devices         []struct {
				Device  string `yaml:"device"`
				Options string `yaml:"options"`
			} `yaml:"devices"`
		}
	)
	if err = yaml.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Socket == "" {
		return errors.New("invalid configuration: socket is required")
	}
	m.Socket = aux.Socket
	m.Timezone = time.UTC
	if aux.Timezone != "" {
		m.Timezone, err = time.LoadLocation(aux.Timezone)
		if err != nil {
			return fmt.Errorf("invalid configuration: timezone: %v", err)
		}
	}
	if err = log.SetLevelName(aux.LogLevel); err != nil {
		return fmt.Errorf("invalid configuration: %v", err)
	}
	m.StopGracePeriod = time.Duration(aux.StopGracePeriod) * time.Second
	if len(aux.Devices) == 0 {
		return errors.New("invalid configuration: no devices")
	}
	m.Devices = nil
	for _, d := range aux.Devices {
		if d.Device == "" {
			return errors.New("invalid configuration: device path is required")
		}
		m.Devices = append(m.Devices, &DeviceSetting{
			Device:  d.Device,
			Options: d.Options,
		})
	}
	return nil
}
