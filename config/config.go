package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/aluiziotomazelli/power-control/hal"
	"github.com/aluiziotomazelli/power-control/logic"
	"github.com/aluiziotomazelli/power-control/util"
)

// ConfigData is the app state after being read from config
type ConfigData struct {
	OutputsJSON []OutputJSON
	GpioHAL     hal.GpioHAL
	Outputs     []*logic.PowerControl
}

// ToJSON converts a ConfigData to a ConfigDataJSON
func (c *ConfigData) ToJSON() (j ConfigDataJSON) {
	j = ConfigDataJSON{}
	j.Outputs = c.OutputsJSON
	return
}

// OutputJSON is the JSON form of a single power output
type OutputJSON struct {
	Name          string  `json:"name"`
	Pin           hal.Pin `json:"pin"`
	InvertedLogic bool    `json:"invertedLogic,omitempty"`
	InitialOn     bool    `json:"initialOn,omitempty"`
}

// ToPowerControl converts an OutputJSON to a PowerControl driven through h
func (oj *OutputJSON) ToPowerControl(h hal.GpioHAL) *logic.PowerControl {
	return logic.NewPowerControl(oj.Name, h, oj.Pin, oj.InvertedLogic, oj.InitialOn)
}

// ConfigDataJSON is the JSON form of config data
type ConfigDataJSON struct {
	Outputs []OutputJSON `json:"outputs"`
}

// ToConfigData converts a ConfigDataJSON to a ConfigData. The GpioHAL is
// selected by the RPI environment variable: real raspberry pi gpio when
// "true", a mock otherwise.
func (j *ConfigDataJSON) ToConfigData() (c ConfigData, err error) {
	c = ConfigData{}
	c.OutputsJSON = j.Outputs
	rpi := os.Getenv("RPI") == "true"
	var mockHAL *hal.MockGpioHAL
	if rpi {
		c.GpioHAL = hal.NewRpioHAL()
	} else {
		mockHAL = hal.NewMockGpioHAL()
		c.GpioHAL = mockHAL
	}
	c.Outputs = make([]*logic.PowerControl, len(j.Outputs))
	for i := range j.Outputs {
		if j.Outputs[i].Name == "" {
			err = fmt.Errorf("output %d has no name", i)
			return
		}
		if mockHAL != nil {
			mockHAL.SetupReturns(j.Outputs[i].Pin)
		}
		c.Outputs[i] = j.Outputs[i].ToPowerControl(c.GpioHAL)
	}
	return
}

func findConfigFile() (configFile string) {
	configFile = os.Getenv("CONFIG")
	if configFile == "" {
		dir, _ := os.Getwd()
		configFile = dir + "/config.json"
	}
	return
}

var log = util.Logger.WithField("module", "config")
var configFile = findConfigFile()
var configMutex = &sync.Mutex{}

// LoadConfig loads a ConfigData from the config file
func LoadConfig() (config ConfigData, err error) {
	configMutex.Lock()
	defer configMutex.Unlock()

	var j ConfigDataJSON

	log.Debugf("loading config from %v", configFile)
	file, err := os.ReadFile(configFile)
	if err != nil {
		err = fmt.Errorf("could not read config file: %v", err)
		return
	}
	err = json.Unmarshal(file, &j)
	if err != nil {
		err = fmt.Errorf("could not parse config file: %v", err)
		return
	}

	config, err = j.ToConfigData()
	return
}

// WriteConfig writes a ConfigData to the config file
func WriteConfig(configData *ConfigData) (err error) {
	configMutex.Lock()
	defer configMutex.Unlock()

	log.Debugf("writing config to %v", configFile)
	data := configData.ToJSON()

	bytes, err := json.MarshalIndent(&data, "", "  ")
	if err != nil {
		err = fmt.Errorf("could not marshal config: %v", err)
		return
	}

	err = os.WriteFile(configFile, bytes, 0644)
	if err != nil {
		err = fmt.Errorf("could not write config file: %v", err)
		return
	}
	return
}
